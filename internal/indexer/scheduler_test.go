package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/types"
)

func TestScheduler_IndexCommitsAndReportsProgress(t *testing.T) {
	proj := openTestProject(t)
	path := writeSource(t, proj.Root, "a.cpp", "void f() {}\n")

	backend := &stubBackend{result: &parser.Result{}}
	s := New(proj, backend, 1, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var progress []string
	s.OnProgress(func(msg string) { progress = append(progress, msg) })

	_, err := s.Index(Request{Source: types.SourceInformation{SourceFile: path}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.completedJobs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NotEmpty(t, progress)
	assert.Contains(t, progress[0], "100%")
}

func TestScheduler_SecondIndexAbortsActiveJob(t *testing.T) {
	proj := openTestProject(t)
	path := writeSource(t, proj.Root, "a.cpp", "void f() {}\n")

	backend := &stubBackend{result: &parser.Result{}}
	s := New(proj, backend, 1, false)

	file, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	active := &job{id: 99, file: file, req: Request{Source: types.SourceInformation{SourceFile: path}}}
	active.started.Store(true)
	s.jobs[file] = active

	_, err = s.Index(Request{Source: types.SourceInformation{SourceFile: path}})
	require.NoError(t, err)

	assert.True(t, active.aborted.Load())
	s.mu.Lock()
	_, pending := s.pendingJobs[file]
	s.mu.Unlock()
	assert.True(t, pending)
}

func TestScheduler_VisitFileAdmitsOnceThenBlocks(t *testing.T) {
	proj := openTestProject(t)
	backend := &stubBackend{result: &parser.Result{}}
	s := New(proj, backend, 1, false)

	j1 := &job{id: 1}
	j2 := &job{id: 2}
	header := types.FileID(7)

	assert.Equal(t, Admit, s.visitFile(j1, header))
	assert.Equal(t, Admit, s.visitFile(j1, header))
	assert.Equal(t, Block, s.visitFile(j2, header))

	s.releaseVisits(j1)
	assert.Equal(t, Admit, s.visitFile(j2, header))
}

func TestScheduler_PendingCountReflectsActiveJobs(t *testing.T) {
	proj := openTestProject(t)
	_ = filepath.Join(proj.Root, "a.cpp")
	backend := &stubBackend{result: &parser.Result{}}
	s := New(proj, backend, 1, false)
	assert.Equal(t, 0, s.PendingCount())

	s.jobs[types.FileID(1)] = &job{id: 1}
	assert.Equal(t, 1, s.PendingCount())
}
