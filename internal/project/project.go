// Package project implements the Project type from spec.md §4.3: the
// per-root aggregate that owns the six typed in-memory views over a
// project's symbol data, each behind its own reader/writer lock, plus the
// FileId registry and the persistent store they're backed by.
package project

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/fileid"
	"github.com/cxrefd/cxrefd/internal/idcodec"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Project aggregates everything spec.md §4.3 says a single indexed root
// owns: the six typed maps (symbols, symbol-names, usr, files-by-directory,
// dependency, source-info), fix-its/diagnostics, and the FileId registry and
// Store they're persisted through. Indexer, DirtyEngine, and QueryEngine are
// separate packages that operate on a *Project rather than being embedded in
// it, mirroring spec.md §4.3's "Project owns Indexer/FileManager/Watcher"
// framing while keeping each concern in its own file.
type Project struct {
	Root   string
	Config *config.Project

	Store *store.Store
	Files *fileid.Registry

	symbolsMu sync.RWMutex
	symbols   map[types.Location]*types.CursorInfo

	namesMu sync.RWMutex
	names   map[string]map[types.Location]struct{}

	usrMu sync.RWMutex
	usr   map[types.Location]types.USREntry

	dirMu sync.RWMutex
	byDir map[string]map[string]types.FileID // directory -> basename -> FileID

	depMu sync.RWMutex
	deps  map[types.FileID]map[types.FileID]struct{} // header -> dependents

	sourceMu sync.RWMutex
	sources  map[types.FileID]*types.SourceInformation

	diagMu sync.RWMutex
	fixIts map[types.Location]types.FixIt
	diags  map[types.FileID][]string
}

// Open constructs a Project rooted at root over the already-open store s,
// loading the FileId registry from its fileids partition.
func Open(root string, cfg *config.Project, s *store.Store) (*Project, error) {
	reg, err := fileid.New(s)
	if err != nil {
		return nil, fmt.Errorf("project %s: open file registry: %w", root, err)
	}
	p := &Project{
		Root:    root,
		Config:  cfg,
		Store:   s,
		Files:   reg,
		symbols: make(map[types.Location]*types.CursorInfo),
		names:   make(map[string]map[types.Location]struct{}),
		usr:     make(map[types.Location]types.USREntry),
		byDir:   make(map[string]map[string]types.FileID),
		deps:    make(map[types.FileID]map[types.FileID]struct{}),
		sources: make(map[types.FileID]*types.SourceInformation),
		fixIts:  make(map[types.Location]types.FixIt),
		diags:   make(map[types.FileID][]string),
	}
	return p, nil
}

// Close releases the project's store handle.
func (p *Project) Close() error {
	return p.Store.Close()
}

// Cursor returns the committed CursorInfo at loc, if any.
func (p *Project) Cursor(loc types.Location) (*types.CursorInfo, bool) {
	p.symbolsMu.RLock()
	defer p.symbolsMu.RUnlock()
	c, ok := p.symbols[loc]
	return c, ok
}

// LocationsForName returns every location indexed under the exact name
// permutation name (spec.md §3's name-permutation index).
func (p *Project) LocationsForName(name string) []types.Location {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	set, ok := p.names[name]
	if !ok {
		return nil
	}
	out := make([]types.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	return out
}

// NamesWithPrefix returns every distinct name permutation starting with
// prefix, for the query engine's find-symbols (spec.md §4.7).
func (p *Project) NamesWithPrefix(prefix string) []string {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	var out []string
	for name := range p.names {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// AllNames returns every distinct name permutation (list-symbols with no
// filter, spec.md §4.7).
func (p *Project) AllNames() []string {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	out := make([]string, 0, len(p.names))
	for name := range p.names {
		out = append(out, name)
	}
	return out
}

// CursorCovering returns the committed CursorInfo whose [location,
// location+symbolLength) range covers loc, for queries that don't land on an
// exact cursor offset (spec.md §3's USR-index range lookup). Among
// candidates starting at or before loc in the same file, the one starting
// closest to loc wins.
func (p *Project) CursorCovering(loc types.Location) (*types.CursorInfo, bool) {
	p.symbolsMu.RLock()
	defer p.symbolsMu.RUnlock()
	file := loc.File()
	offset := loc.Offset()
	var best *types.CursorInfo
	var bestStart uint32
	for candidateLoc, c := range p.symbols {
		if candidateLoc.File() != file {
			continue
		}
		start := candidateLoc.Offset()
		if start > offset || start+c.SymbolLength <= offset {
			continue
		}
		if best == nil || start > bestStart {
			best, bestStart = c, start
		}
	}
	return best, best != nil
}

// USREntryAt returns the (usr, symbolLength) entry recorded at loc.
func (p *Project) USREntryAt(loc types.Location) (types.USREntry, bool) {
	p.usrMu.RLock()
	defer p.usrMu.RUnlock()
	e, ok := p.usr[loc]
	return e, ok
}

// DependentsOf returns the set of source files that (transitively through
// one edge) depend on header. Used by DirtyEngine to compute closures.
func (p *Project) DependentsOf(header types.FileID) []types.FileID {
	p.depMu.RLock()
	defer p.depMu.RUnlock()
	set, ok := p.deps[header]
	if !ok {
		return nil
	}
	out := make([]types.FileID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

// SourceInfo returns the compile record for a source file.
func (p *Project) SourceInfo(f types.FileID) (*types.SourceInformation, bool) {
	p.sourceMu.RLock()
	defer p.sourceMu.RUnlock()
	s, ok := p.sources[f]
	return s, ok
}

// AllSources returns every FileID with a recorded compile invocation, for
// status dumps and reindex-all.
func (p *Project) AllSources() []types.FileID {
	p.sourceMu.RLock()
	defer p.sourceMu.RUnlock()
	out := make([]types.FileID, 0, len(p.sources))
	for f := range p.sources {
		out = append(out, f)
	}
	return out
}

// FixItsFor returns every fix-it recorded for locations within file f.
func (p *Project) FixItsFor(f types.FileID) map[types.Location]types.FixIt {
	p.diagMu.RLock()
	defer p.diagMu.RUnlock()
	out := make(map[types.Location]types.FixIt)
	for loc, fix := range p.fixIts {
		if loc.File() == f {
			out[loc] = fix
		}
	}
	return out
}

// Diagnostics returns the diagnostic strings recorded against file f.
func (p *Project) Diagnostics(f types.FileID) []string {
	p.diagMu.RLock()
	defer p.diagMu.RUnlock()
	return append([]string(nil), p.diags[f]...)
}

// CursorsInFile returns every committed cursor whose location is in file f,
// in location order. Backs the query engine's dump-file (spec.md §6's
// DumpFile query), which wants every recorded symbol for one translation
// unit rather than a single lookup.
func (p *Project) CursorsInFile(f types.FileID) []*types.CursorInfo {
	p.symbolsMu.RLock()
	defer p.symbolsMu.RUnlock()
	var out []*types.CursorInfo
	for loc, c := range p.symbols {
		if loc.File() == f {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// AllTrackedFiles returns every FileID registered in the directory index —
// every source and header the file manager has scanned, not just files with
// a recorded compile invocation. Used by the query engine's find-file
// (spec.md §4.7), which searches "the file manager's directory → basename
// index", not the narrower source-info map.
func (p *Project) AllTrackedFiles() []types.FileID {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	var out []types.FileID
	for _, entries := range p.byDir {
		for _, f := range entries {
			out = append(out, f)
		}
	}
	return out
}

// ResolveFile finds the FileID tracked under path, the way the query
// engine's file-scoped queries (fix-its, diagnostics, dump-file) need to
// turn a client-supplied path into a FileID. A path the directory index has
// no entry for is distinguished from one the FileId registry has already
// assigned an id to (spec.md §4.1: ids are never reused) but whose
// directory entry was since removed by Remove — the former was never seen
// at all, the latter's file existed and was deleted out from under it.
func (p *Project) ResolveFile(path string) (types.FileID, *idcodec.LookupError) {
	for _, f := range p.AllTrackedFiles() {
		if p.Files.Path(f) == path {
			return f, nil
		}
	}
	if f := p.Files.FileID(path); f != types.InvalidFileID {
		return types.InvalidFileID, idcodec.NewDeletedFileError(types.InvalidLocation, path)
	}
	return types.InvalidFileID, idcodec.NewNotFoundError(types.InvalidLocation)
}

// RegisterDirectory records basename -> FileID under path's parent
// directory, so the watcher can translate a raw fsnotify event (directory +
// basename) back into a FileID without a filesystem stat (spec.md §4.8).
func (p *Project) RegisterDirectory(path string, f types.FileID) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	p.dirMu.Lock()
	defer p.dirMu.Unlock()
	m, ok := p.byDir[dir]
	if !ok {
		m = make(map[string]types.FileID)
		p.byDir[dir] = m
	}
	m[base] = f
}

// FileInDirectory resolves a (directory, basename) pair back to a FileID, as
// produced by RegisterDirectory.
func (p *Project) FileInDirectory(dir, base string) (types.FileID, bool) {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	m, ok := p.byDir[dir]
	if !ok {
		return types.InvalidFileID, false
	}
	f, ok := m[base]
	return f, ok
}

// DirectoryEntries lists every basename registered under dir.
func (p *Project) DirectoryEntries(dir string) []string {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	m, ok := p.byDir[dir]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m))
	for base := range m {
		out = append(out, base)
	}
	return out
}

// Commit merges a completed job's IndexData into the project's maps under
// exclusive locks, one map at a time, per spec.md §4.5's commit protocol.
// Commit never blocks on I/O: persistence is flushed separately by the
// scheduler's sync/save timer chain (spec.md §4.4).
func (p *Project) Commit(data *types.IndexData) {
	now := time.Now()

	p.symbolsMu.Lock()
	for loc, cursor := range data.Cursors {
		p.symbols[loc] = cursor
	}
	p.symbolsMu.Unlock()

	p.namesMu.Lock()
	for name, locs := range data.SymbolNames {
		set, ok := p.names[name]
		if !ok {
			set = make(map[types.Location]struct{})
			p.names[name] = set
		}
		for loc := range locs {
			set[loc] = struct{}{}
		}
	}
	p.namesMu.Unlock()

	p.usrMu.Lock()
	for loc, entry := range data.USRIndex {
		p.usr[loc] = entry
	}
	p.usrMu.Unlock()

	p.depMu.Lock()
	for header, dependents := range data.Dependencies {
		set, ok := p.deps[header]
		if !ok {
			set = make(map[types.FileID]struct{})
			p.deps[header] = set
		}
		for dep := range dependents {
			set[dep] = struct{}{}
		}
	}
	p.depMu.Unlock()

	p.sourceMu.Lock()
	src := data.Source
	src.ParsedAt = now
	p.sources[fileOf(p, src.SourceFile)] = &src
	p.sourceMu.Unlock()

	p.diagMu.Lock()
	for loc, fix := range data.FixIts {
		p.fixIts[loc] = fix
	}
	for f, msgs := range data.Diagnostics {
		p.diags[f] = msgs
	}
	p.diagMu.Unlock()

	logging.Indexing("committed %s: %d cursors, %d names, %d deps", src.SourceFile, len(data.Cursors), len(data.SymbolNames), len(data.Dependencies))
}

func fileOf(p *Project, path string) types.FileID {
	f, err := p.Files.InsertFile(path)
	if err != nil {
		logging.Errorf("PROJECT", "insert file %s: %v", path, err)
		return types.InvalidFileID
	}
	return f
}

// Purge removes every committed record that belongs to file f: its source
// info, and every symbol/name/usr/fixit/diagnostic entry keyed by a location
// whose file component is f. This is the DirtyEngine's per-file eviction
// step (spec.md §4.6) and is also used by Remove.
func (p *Project) Purge(f types.FileID) {
	p.symbolsMu.Lock()
	for loc := range p.symbols {
		if loc.File() == f {
			delete(p.symbols, loc)
		}
	}
	p.symbolsMu.Unlock()

	p.namesMu.Lock()
	for name, locs := range p.names {
		for loc := range locs {
			if loc.File() == f {
				delete(locs, loc)
			}
		}
		if len(locs) == 0 {
			delete(p.names, name)
		}
	}
	p.namesMu.Unlock()

	p.usrMu.Lock()
	for loc := range p.usr {
		if loc.File() == f {
			delete(p.usr, loc)
		}
	}
	p.usrMu.Unlock()

	p.sourceMu.Lock()
	delete(p.sources, f)
	p.sourceMu.Unlock()

	p.diagMu.Lock()
	for loc := range p.fixIts {
		if loc.File() == f {
			delete(p.fixIts, loc)
		}
	}
	delete(p.diags, f)
	p.diagMu.Unlock()
}

// ScrubEdges walks every remaining CursorInfo and drops any Target,
// Reference, or Subs/Super edge pointing at a location whose file is in
// dirty. This is the second half of the dirty engine's dirty-purge step
// (spec.md §4.6): Purge removes the dirty set's own records, ScrubEdges keeps
// the survivors from pointing at now-deleted facts.
func (p *Project) ScrubEdges(dirty map[types.FileID]struct{}) {
	if len(dirty) == 0 {
		return
	}
	p.symbolsMu.Lock()
	defer p.symbolsMu.Unlock()
	for _, c := range p.symbols {
		for loc := range c.Targets {
			if _, ok := dirty[loc.File()]; ok {
				delete(c.Targets, loc)
			}
		}
		for loc := range c.References {
			if _, ok := dirty[loc.File()]; ok {
				delete(c.References, loc)
			}
		}
		for loc := range c.Subs {
			if _, ok := dirty[loc.File()]; ok {
				delete(c.Subs, loc)
			}
		}
		if _, ok := dirty[c.Super.File()]; ok {
			c.Super = types.InvalidLocation
		}
	}
}

// Remove drops every committed record for path and deregisters it from the
// directory index, used when a file is deleted from disk (spec.md §4.3's
// "remove" operation).
func (p *Project) Remove(path string) {
	f := p.Files.FileID(path)
	if f == types.InvalidFileID {
		return
	}
	p.Purge(f)

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	p.dirMu.Lock()
	if m, ok := p.byDir[dir]; ok {
		delete(m, base)
		if len(m) == 0 {
			delete(p.byDir, dir)
		}
	}
	p.dirMu.Unlock()
}

// Stats is a point-in-time snapshot for the status query (spec.md §4.7).
type Stats struct {
	Files       int
	Symbols     int
	Names       int
	Dependencies int
}

// Stats reports current map sizes.
func (p *Project) Stats() Stats {
	p.symbolsMu.RLock()
	symbols := len(p.symbols)
	p.symbolsMu.RUnlock()

	p.namesMu.RLock()
	names := len(p.names)
	p.namesMu.RUnlock()

	p.depMu.RLock()
	deps := len(p.deps)
	p.depMu.RUnlock()

	return Stats{
		Files:        p.Files.Count(),
		Symbols:      symbols,
		Names:        names,
		Dependencies: deps,
	}
}
