package persistence

import (
	"os"

	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Reconcile implements spec.md §4.9's post-restore step: find every
// restored source file that's gone missing on disk or whose recorded
// parse predates a dependency's current mtime, and kick the dirty engine
// for those so they're purged and rescheduled instead of silently serving
// stale facts.
func Reconcile(proj *project.Project, engine *dirty.Engine) {
	var stale []types.FileID
	for _, f := range proj.AllSources() {
		src, ok := proj.SourceInfo(f)
		if !ok {
			continue
		}
		if _, err := os.Stat(src.SourceFile); err != nil {
			logging.Watch("reconcile: source %s missing on disk, purging", src.SourceFile)
			stale = append(stale, f)
			continue
		}
		if dependencyNewerThanParse(proj, f, src.ParsedAt.Unix()) {
			logging.Watch("reconcile: source %s has dependencies newer than its last parse, rescheduling", src.SourceFile)
			stale = append(stale, f)
		}
	}
	if len(stale) > 0 {
		engine.Invalidate(stale)
	}
}

// dependencyNewerThanParse reports whether any header f depends on (found
// by scanning every header's dependent set for f — DependentsOf is keyed
// the other direction, so this walks every FileId the registry has
// assigned, 1 through Count, as a header and checks membership) has an
// mtime after parsedAtUnix.
func dependencyNewerThanParse(proj *project.Project, f types.FileID, parsedAtUnix int64) bool {
	for i := 1; i <= proj.Files.Count(); i++ {
		header := types.FileID(i)
		dependents := proj.DependentsOf(header)
		isDependency := false
		for _, d := range dependents {
			if d == f {
				isDependency = true
				break
			}
		}
		if !isDependency {
			continue
		}
		path := proj.Files.Path(header)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Unix() > parsedAtUnix {
			return true
		}
	}
	return false
}
