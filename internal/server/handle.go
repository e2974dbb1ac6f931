package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cxrefd/cxrefd/internal/errors"
	"github.com/cxrefd/cxrefd/internal/idcodec"
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/types"
)

// handleCompile treats payload as a compile record for the daemon's current
// project: it parses the argv for a compiler and a source file and feeds the
// resulting invocation through the indexer (spec.md §6: "Compile ...
// Treated as a compile record").
func (d *Daemon) handleCompile(payload []byte) ([]string, error) {
	msg, err := decodeCompile(payload)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "malformed Compile payload")
	}
	p, err := d.currentProject()
	if err != nil {
		return nil, err
	}

	source, invocation, ok := parseCompileArgv(msg.Cwd, msg.Argv)
	if !ok {
		return []string{"error: no source file found in compile command"}, nil
	}

	id, err := p.proj.Files.InsertFile(source)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, fmt.Sprintf("insert file %s: %v", source, err))
	}
	p.proj.RegisterDirectory(source, id)

	existing, ok := p.proj.SourceInfo(id)
	var src types.SourceInformation
	if ok {
		src = *existing
	} else {
		src = types.SourceInformation{SourceFile: source}
	}
	allowMultiple := p.cfg.Options.AllowMultipleBuildsForSameCompiler
	src.Merge(invocation, allowMultiple)

	var flags types.IndexFlags
	if p.cfg.Options.IgnorePrintfFixits {
		flags |= types.FlagIgnorePrintfFixits
	}

	if _, err := p.scheduler.Index(indexer.Request{
		Source:              src,
		Invocation:          invocation,
		Flags:               flags,
		Priority:            indexer.PriorityFirstTime,
		AllowMultipleBuilds: allowMultiple,
	}); err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, fmt.Sprintf("schedule %s: %v", source, err))
	}
	return []string{"OK"}, nil
}

// parseCompileArgv extracts the compiler, a source file, and the remaining
// flags from a raw argv, resolving relative paths against cwd. Only the
// last .c/.cpp/.cc/.cxx-looking argument is treated as the source, matching
// how a single-TU compile invocation names exactly one translation unit.
func parseCompileArgv(cwd string, argv []string) (source string, inv types.CompileInvocation, ok bool) {
	if len(argv) == 0 {
		return "", types.CompileInvocation{}, false
	}
	inv.Compiler = argv[0]
	var args []string
	for _, a := range argv[1:] {
		if looksLikeSourceFile(a) {
			if !filepath.IsAbs(a) {
				a = filepath.Join(cwd, a)
			}
			source = a
			continue
		}
		args = append(args, a)
	}
	inv.Args = args
	inv.Language = "c++"
	return source, inv, source != ""
}

func looksLikeSourceFile(arg string) bool {
	switch strings.ToLower(filepath.Ext(arg)) {
	case ".c", ".cc", ".cpp", ".cxx", ".c++":
		return true
	default:
		return false
	}
}

// handleProject implements the Project message's select/list/delete/clear
// actions (spec.md §6 Project subtypes).
func (d *Daemon) handleProject(payload []byte) ([]string, error) {
	msg, err := decodeProject(payload)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "malformed Project payload")
	}
	switch msg.Action {
	case types.ProjectActionList:
		return d.listProjects(), nil
	case types.ProjectActionSelect:
		if _, err := d.openProject(msg.Root); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.current = msg.Root
		d.mu.Unlock()
		return []string{"selected " + msg.Root}, nil
	case types.ProjectActionDelete:
		d.deleteProject(msg.Root)
		return []string{"deleted " + msg.Root}, nil
	case types.ProjectActionClear:
		d.clearProjects()
		return []string{"cleared"}, nil
	default:
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "unknown Project action")
	}
}

func (d *Daemon) listProjects() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.projects))
	for root := range d.projects {
		line := root
		if root == d.current {
			line += " (current)"
		}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// handleCreateOutput acknowledges a log-stream subscription. The daemon's
// single reactor loop doesn't currently fan a live tail out per connection
// (every handler runs request/response, not a standing stream); this
// returns the confirmation line with the requested level, a documented
// scope reduction from spec.md §6's log-stream subscription model.
func (d *Daemon) handleCreateOutput(payload []byte) ([]string, error) {
	msg, err := decodeCreateOutput(payload)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "malformed CreateOutput payload")
	}
	return []string{"output subscribed at level " + strconv.Itoa(int(msg.Level))}, nil
}

func logUnknownMessage(id types.MessageID) {
	logging.Errorf("SERVER", "unknown message id %d", id)
}

// handleQuery dispatches a Query message to the current project's query
// engine by QueryType, rendering each result as one Response line the way
// spec.md §6 describes query output (one match per line, "path:offset"
// locating a cursor).
func (d *Daemon) handleQuery(payload []byte) ([]string, error) {
	msg, err := decodeQuery(payload)
	if err != nil {
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "malformed Query payload")
	}

	if msg.Type == types.QueryShutdown {
		go func() {
			ctx := d.shutdownContext()
			_ = d.Shutdown(ctx)
		}()
		return []string{"shutting down"}, nil
	}
	if msg.Type == types.QueryProject || msg.Type == types.QueryDeleteProject || msg.Type == types.QueryClearProjects {
		return d.handleProjectQuery(msg)
	}

	p, err := d.currentProject()
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case types.QueryFollowLocation:
		loc, ok := parseLocation(p, msg.Query)
		if !ok {
			return []string{"error: invalid location"}, nil
		}
		target, ok := p.query.FollowTarget(loc, msg.Flags.Has(types.QueryFlagDeclarationOnly))
		if !ok {
			return nil, nil
		}
		return []string{formatLocation(p, target)}, nil

	case types.QueryReferencesLocation:
		loc, ok := parseLocation(p, msg.Query)
		if !ok {
			return []string{"error: invalid location"}, nil
		}
		return formatLocations(p, p.query.References(loc), msg.Max), nil

	case types.QueryReferencesName:
		return formatLocations(p, p.query.ReferencesByName(msg.Query), msg.Max), nil

	case types.QueryListSymbols:
		return truncate(p.query.ListSymbols(msg.Query, msg.Flags.Has(types.QueryFlagSkipParentheses)), msg.Max), nil

	case types.QueryFindSymbols:
		return truncate(p.query.FindSymbols(msg.Query, msg.Flags.Has(types.QueryFlagSkipParentheses)), msg.Max), nil

	case types.QueryCursorInfo:
		loc, ok := parseLocation(p, msg.Query)
		if !ok {
			return []string{"error: invalid location"}, nil
		}
		cursor, related := p.query.CursorInfo(loc, msg.Flags.Has(types.QueryFlagFindVirtuals))
		if cursor == nil {
			return nil, nil
		}
		lines := []string{formatCursor(p, cursor)}
		for _, c := range related {
			lines = append(lines, formatCursor(p, c))
		}
		return lines, nil

	case types.QueryFindFile:
		matches, err := p.query.FindFile(msg.Query, msg.Flags.Has(types.QueryFlagMatchRegexp))
		if err != nil {
			return nil, errors.NewCommandError(errors.ErrorTypeParse, err.Error())
		}
		return truncate(matches, msg.Max), nil

	case types.QueryStatus:
		st := p.query.Status()
		return []string{fmt.Sprintf("files=%d symbols=%d names=%d dependencies=%d", st.Files, st.Symbols, st.Names, st.Dependencies)}, nil

	case types.QueryFixIts:
		file, lookupErr := resolveFile(p, msg.Query)
		if lookupErr != nil {
			return []string{"error: " + unknownFileMessage(lookupErr)}, nil
		}
		var lines []string
		for _, f := range p.query.FixIts(file) {
			lines = append(lines, fmt.Sprintf("%s %s", formatLocation(p, f.Location), f.FixIt.Replacement))
		}
		return lines, nil

	case types.QueryDiagnostics:
		file, lookupErr := resolveFile(p, msg.Query)
		if lookupErr != nil {
			return []string{"error: " + unknownFileMessage(lookupErr)}, nil
		}
		return p.query.Diagnostics(file), nil

	case types.QueryIsIndexed:
		file, lookupErr := resolveFile(p, msg.Query)
		if lookupErr != nil {
			return []string{"false"}, nil
		}
		_, ok := p.proj.SourceInfo(file)
		return []string{strconv.FormatBool(ok)}, nil

	case types.QueryHasFileManager:
		return []string{"true"}, nil

	case types.QueryReindex:
		return d.handleReindex(p, msg)

	case types.QueryDumpFile:
		file, lookupErr := resolveFile(p, msg.Query)
		if lookupErr != nil {
			return []string{"error: " + unknownFileMessage(lookupErr)}, nil
		}
		cursors := p.query.DumpFile(file)
		lines := make([]string, 0, len(cursors))
		for _, c := range cursors {
			lines = append(lines, formatCursor(p, c))
		}
		return lines, nil

	case types.QueryPreprocessFile:
		// cxrefd's parser backend is tree-sitter, a purely syntactic parser
		// with no preprocessor; it never expands macros or resolves
		// conditional compilation, so there is no preprocessed text to
		// return. Degrade with a stated reason instead of the generic
		// "unsupported query type" error (see DESIGN.md).
		return []string{"error: preprocess-file is not supported: cxrefd's tree-sitter backend does not run a preprocessor"}, nil

	case types.QueryTest:
		return []string{"pong"}, nil

	default:
		return nil, errors.NewCommandError(errors.ErrorTypeParse, fmt.Sprintf("unsupported query type %d", msg.Type))
	}
}

func (d *Daemon) handleProjectQuery(msg types.QueryMessage) ([]string, error) {
	switch msg.Type {
	case types.QueryProject:
		return d.listProjects(), nil
	case types.QueryDeleteProject:
		d.deleteProject(msg.Query)
		return []string{"deleted " + msg.Query}, nil
	case types.QueryClearProjects:
		d.clearProjects()
		return []string{"cleared"}, nil
	default:
		return nil, errors.NewCommandError(errors.ErrorTypeParse, "unsupported project query")
	}
}

// handleReindex forces every known source of the current project back
// through the scheduler, the bulk-rebuild path spec.md §6's Reindex query
// exposes over the socket.
func (d *Daemon) handleReindex(p *openProject, msg types.QueryMessage) ([]string, error) {
	flags := types.FlagDirty
	if p.cfg.Options.IgnorePrintfFixits {
		flags |= types.FlagIgnorePrintfFixits
	}

	sources := p.proj.AllSources()
	for _, f := range sources {
		src, ok := p.proj.SourceInfo(f)
		if !ok || len(src.Invocations) == 0 {
			continue
		}
		for _, inv := range src.Invocations {
			_, _ = p.scheduler.Index(indexer.Request{
				Source:              *src,
				Invocation:          inv,
				Flags:               flags,
				Priority:            indexer.PriorityDirtyRebuild,
				AllowMultipleBuilds: p.cfg.Options.AllowMultipleBuildsForSameCompiler,
			})
		}
	}
	return []string{fmt.Sprintf("reindexing %d sources", len(sources))}, nil
}

// shutdownContext bounds the graceful-shutdown wait a Shutdown query
// triggers; the cancel func is intentionally not deferred here since the
// context outlives this call, returning control to the goroutine in
// handleQuery that awaits Daemon.Shutdown.
func (d *Daemon) shutdownContext() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), 10*time.Second)
	return ctx
}

// parseLocation accepts either a "path:offset" location or a base-63 encoded
// one (idcodec.EncodeLocation), matching the two forms a client might send.
func parseLocation(p *openProject, query string) (types.Location, bool) {
	if idx := strings.LastIndex(query, ":"); idx > 0 {
		path, offsetStr := query[:idx], query[idx+1:]
		if offset, err := strconv.ParseUint(offsetStr, 10, 32); err == nil {
			if file, lookupErr := resolveFile(p, path); lookupErr == nil {
				return types.EncodeLocation(file, uint32(offset)), true
			}
		}
	}
	loc, err := idcodec.DecodeLocation(query)
	if err != nil {
		return types.InvalidLocation, false
	}
	return loc, true
}

func resolveFile(p *openProject, path string) (types.FileID, *idcodec.LookupError) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.cfg.Project.Root, path)
	}
	return p.proj.ResolveFile(path)
}

// unknownFileMessage turns a resolveFile miss into client-facing text,
// telling apart a path the daemon has never heard of from one it tracked
// and then watched disappear.
func unknownFileMessage(err *idcodec.LookupError) string {
	if err.Is(idcodec.ErrFileDeleted) {
		return fmt.Sprintf("file deleted: %s", err.Detail)
	}
	return "unknown file"
}

func formatLocation(p *openProject, loc types.Location) string {
	path := p.proj.Files.Path(loc.File())
	if path == "" {
		return fmt.Sprintf("<unknown>:%d", loc.Offset())
	}
	return fmt.Sprintf("%s:%d", path, loc.Offset())
}

func formatCursor(p *openProject, c *types.CursorInfo) string {
	return fmt.Sprintf("%s\t%s\t%s", formatLocation(p, c.Location), c.Kind.String(), c.SymbolName)
}

func formatLocations(p *openProject, locs []types.Location, max int32) []string {
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		out = append(out, formatLocation(p, loc))
	}
	return truncate(out, max)
}

func truncate(lines []string, max int32) []string {
	if max <= 0 || int(max) >= len(lines) {
		return lines
	}
	return lines[:max]
}
