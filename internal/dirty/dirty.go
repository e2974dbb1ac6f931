// Package dirty implements the dirty engine from spec.md §4.6: on file
// modification, compute the transitive closure of affected translation
// units over the dependency map, purge their cached facts, and reschedule
// the sources that need re-indexing.
package dirty

import (
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Engine ties a Project to the Scheduler that reindexes its affected
// sources.
type Engine struct {
	proj      *project.Project
	scheduler *indexer.Scheduler
}

// New builds a dirty Engine for proj, rescheduling through scheduler.
func New(proj *project.Project, scheduler *indexer.Scheduler) *Engine {
	return &Engine{proj: proj, scheduler: scheduler}
}

// Invalidate implements spec.md §4.6's procedure for a set of modified
// files: it computes the transitive closure over the reverse dependency
// map, purges cached facts attributable to any file in the closure
// (including dangling target/reference edges into it), and reschedules
// every known source found in the closure.
func (e *Engine) Invalidate(modified []types.FileID) {
	closure := e.transitiveClosure(modified)
	if len(closure) == 0 {
		return
	}

	known := make(map[types.FileID]*types.SourceInformation)
	for f := range closure {
		if src, ok := e.proj.SourceInfo(f); ok {
			known[f] = src
		}
	}

	for f := range closure {
		e.proj.Purge(f)
	}
	e.proj.ScrubEdges(closure)

	for _, src := range known {
		e.scheduler.Index(indexer.Request{
			Source:     *src,
			Invocation: primaryInvocation(src),
			Flags:      types.FlagDirty,
			Priority:   indexer.PriorityDirtyRebuild,
		})
	}
}

// transitiveClosure computes D = M ∪ {t : ∃m∈M, t ∈ dependencies⁻¹(m)},
// following dependency edges outward (header -> dependents) until no new
// file is discovered.
func (e *Engine) transitiveClosure(modified []types.FileID) map[types.FileID]struct{} {
	closure := make(map[types.FileID]struct{}, len(modified))
	queue := append([]types.FileID(nil), modified...)
	for _, f := range modified {
		closure[f] = struct{}{}
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for _, dependent := range e.proj.DependentsOf(f) {
			if _, seen := closure[dependent]; seen {
				continue
			}
			closure[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}
	return closure
}

func primaryInvocation(src *types.SourceInformation) types.CompileInvocation {
	if len(src.Invocations) == 0 {
		return types.CompileInvocation{}
	}
	return src.Invocations[len(src.Invocations)-1]
}
