package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// printfConversionSpec matches a printf-family conversion specifier
// (%d, %-08.3f, %%, ...); a fix-it whose replacement text contains one is
// treated as "trying to fix format for printf and friends" per the
// IgnorePrintfFixits option's own description in rtags' rdm.cpp.
var printfConversionSpec = regexp.MustCompile(`%[-+ #0]*\d*(\.\d+)?[diouxXeEfFgGaAcspn%]`)

func looksLikePrintfFixit(replacement string) bool {
	return printfConversionSpec.MatchString(replacement)
}

// pendingFile is one file still waiting to be handed to the parser backend
// within this job: either the job's own source, or a header it was admitted
// to expand (spec.md §4.4's blocking re-entry).
type pendingFile struct {
	file     types.FileID
	path     string
	contents []byte
}

// runJob is the spec.md §4.5 indexer job: it reads the source, drives the
// parser backend over the source and every header it is admitted to expand,
// turns the raw facts into a committable IndexData, and returns nil (with no
// error) if the job was aborted before it could safely commit.
//
// A translation unit is more than the bytes of its source file: spec.md §3's
// symbol tables key cursor facts by the file that actually declares them, so
// a function declared in a header and defined in a .cpp must produce two
// CursorInfo records, one per file. Parsing only the top-level source (as a
// single backend.Parse call would) can never produce the header's own
// record. So this job maintains a worklist seeded with its own source; every
// #include it is first to reach (per visitFile) is read and queued too,
// recursively, so every file this TU is made of gets its own parse pass and
// its own cursors committed under its own FileID.
func runJob(ctx context.Context, proj *project.Project, backend parser.Backend, s *Scheduler, j *job) (*types.IndexData, error) {
	path := j.req.Source.SourceFile

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if j.aborted.Load() {
		return nil, nil
	}

	data := types.NewIndexData(j.req.Source)
	data.Source.Merge(j.req.Invocation, j.req.AllowMultipleBuilds)
	data.MarkVisited(j.file)
	// spec.md §3: "sources include themselves" — every known source is its
	// own dependent so a touch to the source's own content (no header
	// involved) is still found by reconcile.dependencyNewerThanParse via
	// Project.DependentsOf.
	data.AddDependency(j.file, j.file)

	processed := map[types.FileID]bool{j.file: true}
	worklist := []pendingFile{{file: j.file, path: path, contents: contents}}

	resolverFor := func(includingPath string) func(string) (types.FileID, bool) {
		return func(spelled string) (types.FileID, bool) {
			resolved := resolveIncludePath(includingPath, spelled)
			header, err := proj.Files.InsertFile(resolved)
			if err != nil {
				return types.InvalidFileID, false
			}
			// A header this job reaches first gets its own content queued for
			// a parse pass of its own, committing cursors under the header's
			// own FileID; one already claimed by a concurrent job (or already
			// queued earlier in this same job, e.g. a diamond include) is
			// only referenced, not re-expanded (spec.md §4.4's blocking
			// re-entry).
			if s.visitFile(j, header) == Admit {
				data.MarkVisited(header)
				if !processed[header] {
					processed[header] = true
					if hc, err := os.ReadFile(resolved); err == nil {
						worklist = append(worklist, pendingFile{file: header, path: resolved, contents: hc})
					}
					// Unreadable dependency: spec.md §7 treats this as a
					// diagnostic-only condition, not a job failure — the
					// #include cursor and dependency edge below still record
					// that this TU reaches it, just without its own facts.
				}
			}
			return header, true
		}
	}

	var cursors []parser.RawCursor
	var includes []parser.Include
	var diagnostics []parser.Diagnostic
	var fixIts []parser.RawFixIt

	for len(worklist) > 0 {
		if j.aborted.Load() {
			return nil, nil
		}
		pf := worklist[0]
		worklist = worklist[1:]

		result, err := backend.Parse(ctx, parser.Request{
			File:           pf.file,
			Path:           pf.path,
			Contents:       pf.contents,
			Invocation:     j.req.Invocation,
			ResolveInclude: resolverFor(pf.path),
		})
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", pf.path, err)
		}
		cursors = append(cursors, result.Cursors...)
		includes = append(includes, result.Includes...)
		diagnostics = append(diagnostics, result.Diagnostics...)
		fixIts = append(fixIts, result.FixIts...)
	}
	if j.aborted.Load() {
		return nil, nil
	}

	usrLocations := make(map[types.USR][]types.Location, len(cursors))
	for _, rc := range cursors {
		usrLocations[rc.USR] = append(usrLocations[rc.USR], rc.Location)
	}

	for _, rc := range cursors {
		if j.aborted.Load() {
			return nil, nil
		}
		cursor := types.NewCursorInfo(rc.Location, rc.Kind)
		cursor.Type = rc.Type
		cursor.SymbolName = rc.Name
		cursor.SymbolLength = rc.Length
		cursor.USR = rc.USR
		cursor.IsDefinition = rc.IsDefinition
		data.Cursors[rc.Location] = cursor
		data.USRIndex[rc.Location] = types.USREntry{USR: rc.USR, SymbolLength: rc.Length}

		qualified := rc.QualifiedName
		if qualified == "" {
			qualified = rc.Name
		}
		for _, permutation := range namePermutations(qualified) {
			data.AddSymbolName(permutation, rc.Location)
		}

		if rc.Kind == types.KindDestructor || rc.Kind == types.KindConstructor {
			renameLoc := rc.Location.WithOffset(rc.Location.Offset() + 1)
			renameCursor := types.NewCursorInfo(renameLoc, types.KindRenameLocus)
			renameCursor.SymbolName = rc.Name
			renameCursor.SymbolLength = rc.Length
			renameCursor.AddTarget(rc.Location)
			data.Cursors[renameLoc] = renameCursor
		}
	}

	// Second pass: every cursor in data.Cursors now exists, so targets can be
	// linked regardless of which pass order first produced either end.
	for _, rc := range cursors {
		cursor := data.Cursors[rc.Location]
		if rc.TargetUSR != "" {
			for _, target := range usrLocations[rc.TargetUSR] {
				if target == rc.Location {
					continue
				}
				cursor.AddTarget(target)
				if targetCursor, ok := data.Cursors[target]; ok {
					targetCursor.AddReference(rc.Location)
				}
			}
		}
	}

	// Declaration/definition linking (spec.md §4.5 item 3, generalized from
	// "matching declaration in the same TU" to "matching declaration among
	// every file this job parsed", since headers are now parsed alongside
	// their including source): every other location sharing a USR is linked
	// as a target both ways, so follow-target can hop from a header's
	// declaration to its .cpp definition and back.
	for usr, locs := range usrLocations {
		if usr == "" || len(locs) < 2 {
			continue
		}
		for _, a := range locs {
			ca := data.Cursors[a]
			for _, b := range locs {
				if a == b {
					continue
				}
				ca.AddTarget(b)
			}
		}
	}

	for _, inc := range includes {
		if j.aborted.Load() {
			return nil, nil
		}
		incPath := resolveIncludePath(proj.Files.Path(inc.Location.File()), inc.ResolvedPath)
		includedFile := includeFileID(proj, incPath)
		fileCursorLoc := types.EncodeLocation(includedFile, 0)

		cursor := types.NewCursorInfo(inc.Location, types.KindIncludeDirective)
		cursor.SymbolName = incPath
		cursor.SymbolLength = uint32(len(incPath))
		cursor.AddTarget(fileCursorLoc)
		data.Cursors[inc.Location] = cursor

		if !(s.noBuiltinIncludes && inc.System) {
			// The file that changes is includedFile (the header); the file
			// that must be re-indexed when it does is whichever file this
			// #include directive was written in (spec.md §3: "H -> {S...}
			// states that if H changes, each Si must be re-indexed").
			data.AddDependency(includedFile, inc.Location.File())
		}
		data.AddSymbolName("#include "+incPath, inc.Location)
		data.AddSymbolName("#include "+filepath.Base(incPath), inc.Location)
	}

	for _, d := range diagnostics {
		f := d.Location.File()
		if _, ok := data.Visited[f]; !ok {
			continue
		}
		data.Diagnostics[f] = append(data.Diagnostics[f], d.Message)
	}

	for _, fx := range fixIts {
		if j.req.Flags.Has(types.FlagIgnorePrintfFixits) && looksLikePrintfFixit(fx.Replacement) {
			continue
		}
		data.FixIts[fx.Location] = types.FixIt{Length: fx.Length, Replacement: fx.Replacement}
	}

	return data, nil
}

// resolveIncludePath turns a spelled #include path into an absolute one,
// resolving quoted includes relative to the including file's directory; a
// real build would also search the compiler's -I path list, which
// CompileInvocation.Args carries but this backend does not interpret (see
// DESIGN.md's Open Question on include search paths).
func resolveIncludePath(includingFile, spelled string) string {
	if filepath.IsAbs(spelled) {
		return spelled
	}
	return filepath.Clean(filepath.Join(filepath.Dir(includingFile), spelled))
}

func includeFileID(proj *project.Project, resolvedPath string) types.FileID {
	id, err := proj.Files.InsertFile(resolvedPath)
	if err != nil {
		return types.InvalidFileID
	}
	return id
}

// namePermutations implements spec.md §3's symbol-name index rule: every
// suffix of the qualified name, plus the same set with a trailing `<...>`
// template-argument list stripped.
func namePermutations(qualified string) []string {
	base := stripTemplateArgs(qualified)
	parts := strings.Split(base, "::")
	out := make([]string, 0, len(parts)*2)
	seen := make(map[string]struct{}, len(parts)*2)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for i := range parts {
		add(strings.Join(parts[i:], "::"))
	}
	if base != qualified {
		fullParts := strings.Split(qualified, "::")
		for i := range fullParts {
			add(strings.Join(fullParts[i:], "::"))
		}
	}
	return out
}

func stripTemplateArgs(name string) string {
	if i := strings.IndexByte(name, '<'); i >= 0 {
		return name[:i]
	}
	return name
}
