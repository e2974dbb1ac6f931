package types

// IndexData is the per-job output buffer an indexer job accumulates before
// commit (spec.md §4.5). Nothing in here is visible to readers until the
// scheduler's commit protocol merges it into the Project's maps under an
// exclusive writer lock.
type IndexData struct {
	Source SourceInformation

	// Cursors holds every committed CursorInfo keyed by location.
	Cursors map[Location]*CursorInfo

	// SymbolNames maps every name permutation (spec.md §3) to the set of
	// locations it names.
	SymbolNames map[string]map[Location]struct{}

	// USRIndex maps a location to the (usr, symbolLength) pair that lets the
	// query engine find the authoritative record covering a query location
	// even when the query didn't land on an exact cursor offset.
	USRIndex map[Location]USREntry

	// Dependencies maps a header FileID to the set of source FileIDs that
	// depend on it, as discovered by this job (header -> dependents).
	Dependencies map[FileID]map[FileID]struct{}

	// Visited is the set of files this job was granted exclusive expansion
	// rights for (spec.md §4.4 "blocking re-entry").
	Visited map[FileID]struct{}

	FixIts      map[Location]FixIt
	Diagnostics map[FileID][]string

	Message string
}

// USREntry is the value type of the USR index (spec.md §3).
type USREntry struct {
	USR          USR
	SymbolLength uint32
}

// NewIndexData allocates an IndexData with every map initialized.
func NewIndexData(src SourceInformation) *IndexData {
	return &IndexData{
		Source:       src,
		Cursors:      make(map[Location]*CursorInfo),
		SymbolNames:  make(map[string]map[Location]struct{}),
		USRIndex:     make(map[Location]USREntry),
		Dependencies: make(map[FileID]map[FileID]struct{}),
		Visited:      make(map[FileID]struct{}),
		FixIts:       make(map[Location]FixIt),
		Diagnostics:  make(map[FileID][]string),
	}
}

// AddDependency records that header depends on being present for source, i.e.
// an entry headerFile -> {sourceFile, ...}.
func (d *IndexData) AddDependency(header, source FileID) {
	set, ok := d.Dependencies[header]
	if !ok {
		set = make(map[FileID]struct{})
		d.Dependencies[header] = set
	}
	set[source] = struct{}{}
}

// AddSymbolName records a name permutation -> location entry.
func (d *IndexData) AddSymbolName(name string, loc Location) {
	set, ok := d.SymbolNames[name]
	if !ok {
		set = make(map[Location]struct{})
		d.SymbolNames[name] = set
	}
	set[loc] = struct{}{}
}

// MarkVisited records that this job expanded file f.
func (d *IndexData) MarkVisited(f FileID) {
	d.Visited[f] = struct{}{}
}
