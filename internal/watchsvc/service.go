package watchsvc

import (
	"context"
	"path/filepath"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Service wires a Scanner's directory/basename index and a DirWatcher's
// coalesced filesystem events into a Project's directory index and a dirty
// Engine's reindex pipeline, the composition spec.md §4.8 describes as "add/
// remove events update the index and trigger the dirty engine for known
// dependency-map entries".
type Service struct {
	proj    *project.Project
	dirty   *dirty.Engine
	scanner *Scanner
	watcher *DirWatcher
}

// NewService builds the scanner and watcher for proj and wires their
// callbacks to it and to engine.
func NewService(cfg *config.Config, proj *project.Project, engine *dirty.Engine) (*Service, error) {
	scanner := NewScanner(cfg)
	watcher, err := NewDirWatcher(cfg, scanner)
	if err != nil {
		return nil, err
	}
	svc := &Service{proj: proj, dirty: engine, scanner: scanner, watcher: watcher}
	watcher.OnChange(svc.handleChange)
	return svc, nil
}

// Start scans proj.Root, registers every discovered file in the project's
// directory index, and begins watching the directories the scan found.
func (s *Service) Start(ctx context.Context) error {
	idx, err := s.scanner.Scan(s.proj.Root)
	if err != nil {
		return err
	}
	for dir, basenames := range idx.Dirs {
		for base := range basenames {
			path := filepath.Join(dir, base)
			id, err := s.proj.Files.InsertFile(path)
			if err != nil {
				logging.Warnf("WATCH", "register %s: %v", path, err)
				continue
			}
			s.proj.RegisterDirectory(path, id)
		}
	}
	return s.watcher.Start(ctx, idx)
}

// Stop tears down the underlying watcher.
func (s *Service) Stop() error {
	return s.watcher.Stop()
}

// handleChange is DirWatcher's OnChange callback: it keeps the project's
// directory index in sync with the filesystem and, for files the project
// already knows about, invalidates them through the dirty engine so
// dependents get rescheduled.
func (s *Service) handleChange(path string, event EventType) {
	switch event {
	case EventRemove:
		s.proj.Remove(path)
		logging.Watch("removed %s", path)
	case EventCreate, EventWrite:
		id, err := s.proj.Files.InsertFile(path)
		if err != nil {
			logging.Warnf("WATCH", "register %s: %v", path, err)
			return
		}
		s.proj.RegisterDirectory(path, id)
		logging.Watch("changed %s", path)
		s.dirty.Invalidate([]types.FileID{id})
	}
}
