package project

import "github.com/cxrefd/cxrefd/internal/types"

// Snapshot is the in-memory shape persistence serializes and restores, one
// field per typed map Project owns (spec.md §4.9: "serialized symbol/
// symbol-name/usr/dependency/source/visited-files maps").
type Snapshot struct {
	Symbols      map[types.Location]*types.CursorInfo
	Names        map[string][]types.Location
	USR          map[types.Location]types.USREntry
	Directories  map[string]map[string]types.FileID
	Dependencies map[types.FileID][]types.FileID
	Sources      map[types.FileID]*types.SourceInformation
	FixIts       map[types.Location]types.FixIt
	Diagnostics  map[types.FileID][]string
}

// Export copies every typed map into a Snapshot under their respective
// read locks, for the persistence package's sync/save path.
func (p *Project) Export() Snapshot {
	snap := Snapshot{
		Names:        make(map[string][]types.Location),
		Directories:  make(map[string]map[string]types.FileID),
		Dependencies: make(map[types.FileID][]types.FileID),
	}

	p.symbolsMu.RLock()
	snap.Symbols = make(map[types.Location]*types.CursorInfo, len(p.symbols))
	for loc, c := range p.symbols {
		snap.Symbols[loc] = c
	}
	p.symbolsMu.RUnlock()

	p.namesMu.RLock()
	for name, set := range p.names {
		locs := make([]types.Location, 0, len(set))
		for loc := range set {
			locs = append(locs, loc)
		}
		snap.Names[name] = locs
	}
	p.namesMu.RUnlock()

	p.usrMu.RLock()
	snap.USR = make(map[types.Location]types.USREntry, len(p.usr))
	for loc, e := range p.usr {
		snap.USR[loc] = e
	}
	p.usrMu.RUnlock()

	p.dirMu.RLock()
	for dir, entries := range p.byDir {
		copied := make(map[string]types.FileID, len(entries))
		for base, id := range entries {
			copied[base] = id
		}
		snap.Directories[dir] = copied
	}
	p.dirMu.RUnlock()

	p.depMu.RLock()
	for header, set := range p.deps {
		deps := make([]types.FileID, 0, len(set))
		for d := range set {
			deps = append(deps, d)
		}
		snap.Dependencies[header] = deps
	}
	p.depMu.RUnlock()

	p.sourceMu.RLock()
	snap.Sources = make(map[types.FileID]*types.SourceInformation, len(p.sources))
	for f, src := range p.sources {
		cp := *src
		snap.Sources[f] = &cp
	}
	p.sourceMu.RUnlock()

	p.diagMu.RLock()
	snap.FixIts = make(map[types.Location]types.FixIt, len(p.fixIts))
	for loc, fx := range p.fixIts {
		snap.FixIts[loc] = fx
	}
	snap.Diagnostics = make(map[types.FileID][]string, len(p.diags))
	for f, msgs := range p.diags {
		snap.Diagnostics[f] = msgs
	}
	p.diagMu.RUnlock()

	return snap
}

// Import replaces every typed map's contents with snap's, used by the
// persistence package's restore path before the project accepts new work.
// Unlike Commit, Import overwrites rather than merges: a restored snapshot
// is the project's entire prior state, not one job's delta.
func (p *Project) Import(snap Snapshot) {
	p.symbolsMu.Lock()
	p.symbols = snap.Symbols
	if p.symbols == nil {
		p.symbols = make(map[types.Location]*types.CursorInfo)
	}
	p.symbolsMu.Unlock()

	p.namesMu.Lock()
	p.names = make(map[string]map[types.Location]struct{}, len(snap.Names))
	for name, locs := range snap.Names {
		set := make(map[types.Location]struct{}, len(locs))
		for _, loc := range locs {
			set[loc] = struct{}{}
		}
		p.names[name] = set
	}
	p.namesMu.Unlock()

	p.usrMu.Lock()
	p.usr = snap.USR
	if p.usr == nil {
		p.usr = make(map[types.Location]types.USREntry)
	}
	p.usrMu.Unlock()

	p.dirMu.Lock()
	p.byDir = snap.Directories
	if p.byDir == nil {
		p.byDir = make(map[string]map[string]types.FileID)
	}
	p.dirMu.Unlock()

	p.depMu.Lock()
	p.deps = make(map[types.FileID]map[types.FileID]struct{}, len(snap.Dependencies))
	for header, deps := range snap.Dependencies {
		set := make(map[types.FileID]struct{}, len(deps))
		for _, d := range deps {
			set[d] = struct{}{}
		}
		p.deps[header] = set
	}
	p.depMu.Unlock()

	p.sourceMu.Lock()
	p.sources = snap.Sources
	if p.sources == nil {
		p.sources = make(map[types.FileID]*types.SourceInformation)
	}
	p.sourceMu.Unlock()

	p.diagMu.Lock()
	p.fixIts = snap.FixIts
	if p.fixIts == nil {
		p.fixIts = make(map[types.Location]types.FixIt)
	}
	p.diags = snap.Diagnostics
	if p.diags == nil {
		p.diags = make(map[types.FileID][]string)
	}
	p.diagMu.Unlock()
}
