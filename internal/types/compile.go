package types

import "time"

// CompileInvocation is one (compiler, argv, language) triple a source file was
// built with. A source can legitimately be compiled more than one way (e.g.
// once per architecture); SourceInformation keeps every distinct invocation.
type CompileInvocation struct {
	Compiler string
	Args     []string
	Language string
}

// Equal reports whether two invocations have the same compiler and argument
// vector (language is informational and not compared — spec.md §3 keys
// merging on "(compiler,args) pairs").
func (c CompileInvocation) Equal(other CompileInvocation) bool {
	if c.Compiler != other.Compiler || len(c.Args) != len(other.Args) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

// SameCompiler reports whether two invocations used the same compiler,
// regardless of arguments.
func (c CompileInvocation) SameCompiler(other CompileInvocation) bool {
	return c.Compiler == other.Compiler
}

// SourceInformation is the per-source-file compile record (spec.md §3).
type SourceInformation struct {
	SourceFile  string
	Invocations []CompileInvocation
	ParsedAt    time.Time
}

// Merge folds a new invocation into s, following the
// allowMultipleBuildsForSameCompiler decision recorded in SPEC_FULL.md §9:
// when allowMultiple is false, an invocation for the same compiler replaces
// the prior one; when true, distinct argument vectors are kept side by side.
func (s *SourceInformation) Merge(inv CompileInvocation, allowMultiple bool) {
	for i, existing := range s.Invocations {
		if existing.Equal(inv) {
			return
		}
		if existing.SameCompiler(inv) && !allowMultiple {
			s.Invocations[i] = inv
			return
		}
	}
	s.Invocations = append(s.Invocations, inv)
}

// IndexFlags are admission-time flags passed to Project.Index.
type IndexFlags uint8

const (
	FlagNone IndexFlags = 0
	// FlagDirty marks a request that originated from a file modification
	// rather than an initial build.
	FlagDirty IndexFlags = 1 << iota
	// FlagIgnorePrintfFixits suppresses printf-format fix-it suggestions.
	FlagIgnorePrintfFixits
)

func (f IndexFlags) Has(bit IndexFlags) bool { return f&bit != 0 }

// FixIt is a suggested source edit at a location (spec.md §3).
type FixIt struct {
	Length      uint32
	Replacement string
}
