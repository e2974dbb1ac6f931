// Package indexer implements the scheduler and job runner from spec.md §4.4
// and §4.5: admission, at-most-one-active-job-per-source, cooperative abort,
// blocking re-entry for headers visited by more than one concurrent job, and
// the commit-then-sync-then-save timer chain.
package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/types"
)

// Priority orders admission within the scheduler's run queue, high to low:
// header-precompile-dirty, header-precompile, dirty-rebuild, first-time.
// cxrefd has no real precompiled-header step (ParserBackend re-parses every
// translation unit independently — see DESIGN.md's Open Question on PCH),
// so PriorityHeaderPrecompile(Dirty) are reserved for headers reopened by a
// dirty rebuild that a future PCH-aware backend could special-case; today
// they behave exactly like PriorityDirtyRebuild one rank higher.
type Priority int

const (
	PriorityFirstTime Priority = iota
	PriorityDirtyRebuild
	PriorityHeaderPrecompile
	PriorityHeaderPrecompileDirty
)

// Request is one admission to the scheduler: reindex (or first-index) a
// source file.
type Request struct {
	Source     types.SourceInformation
	Invocation types.CompileInvocation
	Flags      types.IndexFlags
	Priority   Priority
	// AllowMultipleBuilds mirrors config.Options.AllowMultipleBuildsForSameCompiler
	// (SPEC_FULL.md §9's Open Question decision): when false, a new invocation
	// from the same compiler replaces the prior one instead of accumulating.
	AllowMultipleBuilds bool
}

// VisitResult is returned by visitFile, the blocking re-entry protocol
// (spec.md §4.4): a job that reaches a header for the first time in this
// indexing generation is Admitted and may expand its contents; any other job
// reaching the same header while it's still claimed is Blocked and must
// record facts against the header's existing data without re-expanding it.
type VisitResult int

const (
	Admit VisitResult = iota
	Block
)

type job struct {
	id      uint64
	file    types.FileID
	req     Request
	started atomic.Bool
	aborted atomic.Bool
}

// Scheduler is the spec.md §4.4 indexer scheduler: one per Project.
type Scheduler struct {
	proj    *project.Project
	backend parser.Backend
	sem     *semaphore.Weighted

	// noBuiltinIncludes mirrors config.Options.NoBuiltinIncludes (SPEC_FULL.md
	// §9): when set, a job commits no dependency edge for an #include a
	// backend reports as a system (angle-bracket) include.
	noBuiltinIncludes bool

	mu          sync.Mutex
	queues      [4][]Request // indexed by Priority
	jobs        map[types.FileID]*job // active or queued job per source
	pendingJobs map[types.FileID]Request
	visited     map[types.FileID]uint64 // header FileID -> owning job id

	jobCounter uint64

	totalJobs     atomic.Int64
	completedJobs atomic.Int64

	syncMu      sync.Mutex
	syncTimer   *time.Timer
	saveTimer   *time.Timer
	onSyncDue   func()
	onSaveDue   func()

	wake chan struct{}

	onProgress func(string)
}

// New builds a Scheduler bounded to min(workers, GOMAXPROCS) concurrent jobs,
// per spec.md §5's "bounded worker pool ... sized min(3, GOMAXPROCS) by
// default". noBuiltinIncludes mirrors config.Options.NoBuiltinIncludes.
func New(proj *project.Project, backend parser.Backend, workers int, noBuiltinIncludes bool) *Scheduler {
	if workers <= 0 {
		workers = 3
	}
	if maxProcs := runtime.GOMAXPROCS(0); workers > maxProcs {
		workers = maxProcs
	}
	s := &Scheduler{
		proj:              proj,
		backend:           backend,
		sem:               semaphore.NewWeighted(int64(workers)),
		noBuiltinIncludes: noBuiltinIncludes,
		jobs:              make(map[types.FileID]*job),
		pendingJobs:       make(map[types.FileID]Request),
		visited:           make(map[types.FileID]uint64),
		wake:              make(chan struct{}, 1),
	}
	return s
}

// OnSync/OnSave register the persistence layer's flush callbacks, invoked
// after the commit-quiescence (2s) and save (2s after sync) timers fire.
func (s *Scheduler) OnSync(f func())       { s.onSyncDue = f }
func (s *Scheduler) OnSave(f func())       { s.onSaveDue = f }
func (s *Scheduler) OnProgress(f func(string)) { s.onProgress = f }

// Run drives admitted jobs until ctx is cancelled. Callers start exactly one
// Run goroutine per Scheduler (mirrors the teacher's single reactor loop,
// spec.md §5).
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			req, file, ok := s.dequeue()
			if !ok {
				break
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			j := s.admit(file, req)
			go s.run(ctx, j)
		}
	}
}

// Index enqueues req for source's FileID, resolving or inserting it in the
// registry. If a job for the same source is already active, the incoming
// request is recorded as pending and the active job is aborted (spec.md
// §4.4's "at-most-one active job per source").
func (s *Scheduler) Index(req Request) (types.FileID, error) {
	file, err := s.proj.Files.InsertFile(req.Source.SourceFile)
	if err != nil {
		return types.InvalidFileID, fmt.Errorf("indexer: resolve %s: %w", req.Source.SourceFile, err)
	}

	s.mu.Lock()
	if active, ok := s.jobs[file]; ok {
		s.pendingJobs[file] = req
		s.abortJob(active)
		s.mu.Unlock()
		return file, nil
	}
	s.queues[req.Priority] = append(s.queues[req.Priority], req)
	s.mu.Unlock()

	s.totalJobs.Add(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return file, nil
}

// dequeue pops the highest-priority pending request and resolves its FileID,
// skipping requests whose source already has an active job (they wait in
// pendingJobs instead).
func (s *Scheduler) dequeue() (Request, types.FileID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := len(s.queues) - 1; p >= 0; p-- {
		for len(s.queues[p]) > 0 {
			req := s.queues[p][0]
			s.queues[p] = s.queues[p][1:]
			file, err := s.proj.Files.InsertFile(req.Source.SourceFile)
			if err != nil {
				continue
			}
			if _, active := s.jobs[file]; active {
				s.pendingJobs[file] = req
				continue
			}
			return req, file, true
		}
	}
	return Request{}, types.InvalidFileID, false
}

func (s *Scheduler) admit(file types.FileID, req Request) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobCounter++
	j := &job{id: s.jobCounter, file: file, req: req}
	s.jobs[file] = j
	return j
}

// abortJob implements spec.md §4.4's abort protocol by setting j's aborted
// flag: a job that never reached its first checkpoint is dropped there
// without parsing or committing; one that's running notices the flag at its
// next checkpoint. Either way run() commits nothing for it.
func (s *Scheduler) abortJob(j *job) {
	j.aborted.Store(true)
}

// visitFile implements blocking re-entry (spec.md §4.4): the first job to
// reach header H within a run admits it and may expand its contents; any
// other concurrent job reaching H is blocked and must record facts against
// H's existing data.
func (s *Scheduler) visitFile(j *job, header types.FileID) VisitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.visited[header]; ok {
		if owner == j.id {
			return Admit
		}
		return Block
	}
	s.visited[header] = j.id
	return Admit
}

func (s *Scheduler) releaseVisits(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, owner := range s.visited {
		if owner == j.id {
			delete(s.visited, h)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.sem.Release(1)
	j.started.Store(true)

	data, err := runJob(ctx, s.proj, s.backend, s, j)

	s.mu.Lock()
	delete(s.jobs, j.file)
	pending, hasPending := s.pendingJobs[j.file]
	if hasPending {
		delete(s.pendingJobs, j.file)
	}
	s.mu.Unlock()
	s.releaseVisits(j)

	if err != nil {
		logging.Errorf("INDEXER", "%s: %v", j.req.Source.SourceFile, err)
	} else if !j.aborted.Load() && data != nil {
		s.proj.Commit(data)
		s.completedJobs.Add(1)
		s.emitProgress(j.req.Source.SourceFile)
		s.scheduleSync()
	}

	if hasPending {
		s.mu.Lock()
		s.queues[pending.Priority] = append(s.queues[pending.Priority], pending)
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) emitProgress(file string) {
	total := s.totalJobs.Load()
	done := s.completedJobs.Load()
	remaining := total - done
	if remaining < 0 {
		remaining = 0
	}
	pct := 100
	if total > 0 {
		pct = int(100 * (total - remaining) / total)
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	msg := fmt.Sprintf("[%d%%] %d/%d %s (indexed). %d MB.", pct, done, total, file, mem.Alloc/(1024*1024))
	logging.Indexing("%s", msg)
	if s.onProgress != nil {
		s.onProgress(msg)
	}
}

// scheduleSync starts (or restarts) the 2s idle-commit timer; when it fires,
// it flushes via onSyncDue and arms a second 2s timer before invoking
// onSaveDue, matching spec.md §4.4's "sync (2s idle) ... save timer 2s after
// sync" chain.
func (s *Scheduler) scheduleSync() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncTimer = time.AfterFunc(2*time.Second, func() {
		if s.onSyncDue != nil {
			s.onSyncDue()
		}
		s.syncMu.Lock()
		if s.saveTimer != nil {
			s.saveTimer.Stop()
		}
		s.saveTimer = time.AfterFunc(2*time.Second, func() {
			if s.onSaveDue != nil {
				s.onSaveDue()
			}
		})
		s.syncMu.Unlock()
	})
}

// Shutdown stops any pending sync/save timers without flushing them; callers
// that need a final flush should call the onSyncDue/onSaveDue callbacks
// directly before shutting down.
func (s *Scheduler) Shutdown() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
}

// PendingCount reports the number of sources with a queued or active job,
// for the status query (spec.md §4.7).
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
