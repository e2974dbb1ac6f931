package types

// CursorKind enumerates the entity kinds a CursorInfo can describe.
type CursorKind uint8

const (
	KindInvalid CursorKind = iota
	KindFunction
	KindMethod
	KindClass
	KindStruct
	KindNamespace
	KindVariable
	KindField
	KindConstructor
	KindDestructor
	KindEnum
	KindEnumConstant
	KindMacroDefinition
	KindMacroExpansion
	KindIncludeDirective
	KindReference
	KindRenameLocus // supplemented: second locus for ctor/dtor rename support, see SPEC_FULL.md §9
)

func (k CursorKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindNamespace:
		return "namespace"
	case KindVariable:
		return "variable"
	case KindField:
		return "field"
	case KindConstructor:
		return "constructor"
	case KindDestructor:
		return "destructor"
	case KindEnum:
		return "enum"
	case KindEnumConstant:
		return "enum constant"
	case KindMacroDefinition:
		return "macro definition"
	case KindMacroExpansion:
		return "macro expansion"
	case KindIncludeDirective:
		return "include directive"
	case KindReference:
		return "reference"
	case KindRenameLocus:
		return "rename locus"
	default:
		return "invalid"
	}
}

// TypeKind is the type of the entity a cursor names; TypeVoid is used for
// cursors with no type (namespaces, includes, ...).
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeBuiltin
	TypePointer
	TypeReference
	TypeRecord
	TypeEnumType
	TypeFunctionProto
	TypeTemplate
)

// targetRank is the tie-break table used by bestTarget (spec.md §4.7).
// Constructors rank highest, then function/method/var/field, then
// class/struct, then everything else.
func (k CursorKind) targetRank() int {
	switch k {
	case KindConstructor, KindDestructor:
		return 3
	case KindFunction, KindMethod, KindVariable, KindField:
		return 2
	case KindClass, KindStruct:
		return 1
	default:
		return 0
	}
}

// TargetRank exposes targetRank for the query engine's bestTarget helper.
func TargetRank(k CursorKind) int { return int(k.targetRank()) }

// Extent is an optional source range in either byte-offset or line/column form.
type Extent struct {
	HasOffsets                         bool
	StartOffset, EndOffset              uint32
	HasLineCol                          bool
	StartLine, StartColumn              int
	EndLine, EndColumn                  int
}

// CursorInfo is the per-location fact committed by an indexer job (spec.md §3).
type CursorInfo struct {
	Location     Location
	Kind         CursorKind
	Type         TypeKind
	SymbolLength uint32
	SymbolName   string
	USR          USR
	IsDefinition bool

	// Targets are outgoing edges: declarations, overridden methods, an
	// included file's synthetic file-cursor, or a macro definition.
	Targets map[Location]struct{}
	// References are incoming edges from uses of this entity.
	References map[Location]struct{}

	EnumValue    *int64
	Extent       Extent

	// Subs/Super model the override relation for virtual methods.
	Super Location
	Subs  map[Location]struct{}
}

// NewCursorInfo allocates a CursorInfo with its edge sets initialized.
func NewCursorInfo(loc Location, kind CursorKind) *CursorInfo {
	return &CursorInfo{
		Location:   loc,
		Kind:       kind,
		Targets:    make(map[Location]struct{}),
		References: make(map[Location]struct{}),
	}
}

// AddTarget records an outgoing edge from c to loc.
func (c *CursorInfo) AddTarget(loc Location) {
	if c.Targets == nil {
		c.Targets = make(map[Location]struct{})
	}
	c.Targets[loc] = struct{}{}
}

// AddReference records an incoming edge from loc to c.
func (c *CursorInfo) AddReference(loc Location) {
	if c.References == nil {
		c.References = make(map[Location]struct{})
	}
	c.References[loc] = struct{}{}
}

// Valid reports whether c satisfies the per-record commit invariants from
// spec.md §3: symbolLength > 0 and a non-empty symbolName.
func (c *CursorInfo) Valid() bool {
	return c != nil && c.SymbolLength > 0 && c.SymbolName != ""
}
