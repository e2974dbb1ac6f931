// Package parser defines the ParserBackend boundary between the indexer job
// (spec.md §4.5) and whatever turns C/C++ source text into cursor facts.
// spec.md treats full semantic resolution (template instantiation, overload
// resolution, macro expansion) as out of scope; ParserBackend's job is to
// produce the structural facts an indexer job needs to build an IndexData,
// not to reimplement a C++ front end.
package parser

import (
	"context"

	"github.com/cxrefd/cxrefd/internal/types"
)

// RawCursor is one fact a backend extracts from a translation unit before
// the indexer job turns it into a committed types.CursorInfo.
type RawCursor struct {
	Location     types.Location
	Kind         types.CursorKind
	Type         types.TypeKind
	Name         string
	// QualifiedName is Name prefixed by its enclosing namespace path
	// (ns::inner::member); used to build the symbol-name index's suffix
	// permutations. Enclosing class and struct names are not part of it, so
	// a method declared inside class C in namespace ns is ns::method, and
	// enumerators carry their bare name. Equal to Name when the cursor has
	// no enclosing namespace.
	QualifiedName string
	Length        uint32
	USR           types.USR
	IsDefinition  bool

	// TargetUSR, if non-empty, names the entity this cursor refers to (used
	// for KindReference cursors and for method overrides); the job resolves
	// it to a Location via the USR index once every cursor in the batch has
	// been registered.
	TargetUSR types.USR
}

// Include is one #include directive a backend observed while parsing path.
type Include struct {
	Location     types.Location
	ResolvedPath string
	// System is true for angle-bracket includes (<foo.h>) as opposed to
	// quoted ones ("foo.h"); gates config.Options.NoBuiltinIncludes at
	// commit time (internal/indexer/job.go).
	System bool
}

// Diagnostic is a compiler-style note, warning, or error attached to a
// location.
type Diagnostic struct {
	Location types.Location
	Severity string
	Message  string
}

// RawFixIt is a suggested source edit a backend attaches to a diagnostic.
type RawFixIt struct {
	Location    types.Location
	Length      uint32
	Replacement string
}

// Request is everything a backend needs to parse one translation unit.
type Request struct {
	File       types.FileID
	Path       string
	Contents   []byte
	Invocation types.CompileInvocation
	// ResolveInclude maps an #include's spelled path to a FileID, inserting
	// it into the FileId registry on first sight. The backend calls this for
	// every include directive it finds so Include.Location.File() is always
	// valid.
	ResolveInclude func(spelledPath string) (types.FileID, bool)
}

// Result is everything a backend produces for one translation unit.
type Result struct {
	Cursors     []RawCursor
	Includes    []Include
	Diagnostics []Diagnostic
	FixIts      []RawFixIt
}

// Backend turns one compiled source file into structural facts. Concrete
// implementations live in this package (see TreeSitterBackend); production
// builds always wire a real one — there is no default no-op backend, since a
// daemon that can't see inside source files provides no value.
type Backend interface {
	Parse(ctx context.Context, req Request) (*Result, error)
}
