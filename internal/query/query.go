// Package query implements the read-only graph traversals from spec.md
// §4.7: follow-target, references, references-by-name, list-symbols,
// find-symbols, find-file, cursor-info, status, fix-its, and diagnostics.
// Every operation here is read-only against a *project.Project; none of
// them mutate committed state.
package query

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Engine answers navigation queries against one Project.
type Engine struct {
	proj *project.Project
}

// New builds a query Engine over proj.
func New(proj *project.Project) *Engine {
	return &Engine{proj: proj}
}

// ReferenceMode selects how references widens its search, per spec.md §4.7.
type ReferenceMode int

const (
	NormalRefs ReferenceMode = iota
	ClassRefs
	VirtualRefs
)

// modeFor chooses the widening mode for a cursor kind the way
// Engine.References does: class/struct declarations and constructors or
// destructors widen across the whole type; methods widen across overrides;
// everything else is a normal (non-widened) reference search.
func modeFor(kind types.CursorKind) ReferenceMode {
	switch kind {
	case types.KindClass, types.KindStruct, types.KindConstructor, types.KindDestructor:
		return ClassRefs
	case types.KindMethod:
		return VirtualRefs
	default:
		return NormalRefs
	}
}

// cursorAt finds the committed cursor whose [location, location+symbolLength)
// range covers loc, the common case where the query location doesn't land
// exactly on a recorded cursor offset (spec.md §3).
func (e *Engine) cursorAt(loc types.Location) (*types.CursorInfo, bool) {
	if c, ok := e.proj.Cursor(loc); ok {
		return c, true
	}
	return e.proj.CursorCovering(loc)
}

// bestTarget implements spec.md §4.7's shared helper: score each candidate
// by targetRank, keep the highest-ranked, prefer isDefinition = true among
// ties, then tie-break by location order.
func (e *Engine) bestTarget(candidates []types.Location) (types.Location, bool) {
	var best types.Location
	var bestCursor *types.CursorInfo
	found := false
	for _, loc := range candidates {
		c, ok := e.proj.Cursor(loc)
		if !ok {
			continue
		}
		if !found {
			best, bestCursor, found = loc, c, true
			continue
		}
		rank := types.TargetRank(c.Kind)
		bestRank := types.TargetRank(bestCursor.Kind)
		switch {
		case rank > bestRank:
			best, bestCursor = loc, c
		case rank == bestRank && c.IsDefinition && !bestCursor.IsDefinition:
			best, bestCursor = loc, c
		case rank == bestRank && c.IsDefinition == bestCursor.IsDefinition && loc < best:
			best, bestCursor = loc, c
		}
	}
	return best, found
}

// FollowTarget implements follow-target(loc, flags): find the cursor
// covering loc, resolve its best target, and optionally hop back to the
// declaration when the caller wants declarations and the target turned out
// to be a definition.
func (e *Engine) FollowTarget(loc types.Location, declarationOnly bool) (types.Location, bool) {
	cursor, ok := e.cursorAt(loc)
	if !ok {
		return types.InvalidLocation, false
	}
	if (cursor.Kind == types.KindClass || cursor.Kind == types.KindStruct) && cursor.IsDefinition {
		return cursor.Location, true
	}
	targets := make([]types.Location, 0, len(cursor.Targets))
	for t := range cursor.Targets {
		targets = append(targets, t)
	}
	target, ok := e.bestTarget(targets)
	if !ok {
		return types.InvalidLocation, false
	}
	if declarationOnly {
		if tc, ok := e.proj.Cursor(target); ok && tc.IsDefinition {
			for decl := range tc.Targets {
				if dc, ok := e.proj.Cursor(decl); ok && !dc.IsDefinition {
					return decl, true
				}
			}
		}
	}
	return target, true
}

// References implements references(loc): locate the cursor at loc, choose a
// widening mode by kind, and return every distinct referring location,
// sorted in location order.
func (e *Engine) References(loc types.Location) []types.Location {
	cursor, ok := e.cursorAt(loc)
	if !ok {
		return nil
	}
	mode := modeFor(cursor.Kind)
	seen := make(map[types.Location]struct{})
	var roots []*types.CursorInfo
	roots = append(roots, cursor)

	switch mode {
	case ClassRefs:
		roots = append(roots, e.relatedByName(cursor.SymbolName)...)
	case VirtualRefs:
		roots = append(roots, e.overrideFamily(cursor)...)
	}

	for _, c := range roots {
		for t := range c.Targets {
			seen[t] = struct{}{}
		}
		for r := range c.References {
			seen[r] = struct{}{}
		}
	}
	delete(seen, cursor.Location)

	out := make([]types.Location, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// relatedByName widens a class/struct/ctor/dtor reference search across
// every cursor sharing the unqualified type name, catching the constructor,
// destructor, and class-decl cursors spec.md's ClassRefs mode wants bundled.
func (e *Engine) relatedByName(name string) []*types.CursorInfo {
	var out []*types.CursorInfo
	for _, loc := range e.proj.LocationsForName(name) {
		if c, ok := e.proj.Cursor(loc); ok {
			switch c.Kind {
			case types.KindClass, types.KindStruct, types.KindConstructor, types.KindDestructor:
				out = append(out, c)
			}
		}
	}
	return out
}

// overrideFamily walks the Super/Subs override chain to its root, then
// collects every method in the hierarchy.
func (e *Engine) overrideFamily(c *types.CursorInfo) []*types.CursorInfo {
	root := c
	for root.Super.IsValid() {
		parent, ok := e.proj.Cursor(root.Super)
		if !ok {
			break
		}
		root = parent
	}
	var out []*types.CursorInfo
	var walk func(*types.CursorInfo)
	seen := make(map[types.Location]struct{})
	walk = func(n *types.CursorInfo) {
		if _, ok := seen[n.Location]; ok {
			return
		}
		seen[n.Location] = struct{}{}
		out = append(out, n)
		for sub := range n.Subs {
			if sc, ok := e.proj.Cursor(sub); ok {
				walk(sc)
			}
		}
	}
	walk(root)
	return out
}

// ReferencesByName implements references-by-name(name): union the
// References() of every location indexed under the exact name.
func (e *Engine) ReferencesByName(name string) []types.Location {
	seen := make(map[types.Location]struct{})
	for _, loc := range e.proj.LocationsForName(name) {
		for _, ref := range e.References(loc) {
			seen[ref] = struct{}{}
		}
	}
	out := make([]types.Location, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListSymbols implements list-symbols(prefix): every name permutation
// starting with prefix (empty prefix lists everything), optionally dropping
// entries that look like function signatures (contain '(').
func (e *Engine) ListSymbols(prefix string, dropSignatures bool) []string {
	var names []string
	if prefix == "" {
		names = e.proj.AllNames()
	} else {
		names = e.proj.NamesWithPrefix(prefix)
	}
	return filterAndSort(names, dropSignatures)
}

// FindSymbols implements find-symbols(substring): every name permutation
// containing substring anywhere, not just as a prefix.
func (e *Engine) FindSymbols(substring string, dropSignatures bool) []string {
	all := e.proj.AllNames()
	var matched []string
	for _, name := range all {
		if strings.Contains(name, substring) {
			matched = append(matched, name)
		}
	}
	return filterAndSort(matched, dropSignatures)
}

func filterAndSort(names []string, dropSignatures bool) []string {
	out := names[:0:0]
	for _, n := range names {
		if dropSignatures && strings.Contains(n, "(") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FindFile implements find-file(pattern): return files tracked by the
// directory index whose full path or basename contains pattern, or, with
// asRegex, whose full path matches pattern as a regular expression.
func (e *Engine) FindFile(pattern string, asRegex bool) ([]string, error) {
	var re *regexp.Regexp
	if asRegex {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("query: compile pattern %q: %w", pattern, err)
		}
	}
	var out []string
	for _, f := range e.proj.AllTrackedFiles() {
		path := e.proj.Files.Path(f)
		base := filepath.Base(path)
		if asRegex {
			if re.MatchString(path) {
				out = append(out, path)
			}
			continue
		}
		if strings.Contains(path, pattern) || strings.Contains(base, pattern) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CursorInfo implements cursor-info(loc, flags): return the cursor covering
// loc and, if recurse is set, the cursors at every target and reference.
func (e *Engine) CursorInfo(loc types.Location, recurse bool) (*types.CursorInfo, []*types.CursorInfo) {
	cursor, ok := e.cursorAt(loc)
	if !ok {
		return nil, nil
	}
	if !recurse {
		return cursor, nil
	}
	var related []*types.CursorInfo
	for t := range cursor.Targets {
		if c, ok := e.proj.Cursor(t); ok {
			related = append(related, c)
		}
	}
	for r := range cursor.References {
		if c, ok := e.proj.Cursor(r); ok {
			related = append(related, c)
		}
	}
	sort.Slice(related, func(i, j int) bool { return related[i].Location < related[j].Location })
	return cursor, related
}

// Status implements status(area): a point-in-time counter dump.
func (e *Engine) Status() project.Stats {
	return e.proj.Stats()
}

// FixIts implements fix-its(file): every fix-it recorded for file, newest
// (highest offset) first.
func (e *Engine) FixIts(file types.FileID) []FixItEntry {
	m := e.proj.FixItsFor(file)
	out := make([]FixItEntry, 0, len(m))
	for loc, fix := range m {
		out = append(out, FixItEntry{Location: loc, FixIt: fix})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location > out[j].Location })
	return out
}

// FixItEntry pairs a location with its fix-it for rendering.
type FixItEntry struct {
	Location types.Location
	FixIt    types.FixIt
}

// Diagnostics implements diagnostics(file): the joined diagnostic strings
// recorded for file.
func (e *Engine) Diagnostics(file types.FileID) []string {
	return e.proj.Diagnostics(file)
}

// DumpFile implements dump-file(file): every committed cursor recorded
// against file, in location order. Unlike cursor-info, this is a whole-file
// dump rather than a single-location lookup — rtags' own DumpJob serializes
// clang's full AST for a translation unit; cxrefd's tree-sitter backend
// never builds one, so this dumps the committed symbol data instead (every
// CursorInfo cxrefd actually has for the file).
func (e *Engine) DumpFile(file types.FileID) []*types.CursorInfo {
	return e.proj.CursorsInFile(file)
}
