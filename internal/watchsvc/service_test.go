package watchsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/store"
)

type stubBackend struct{ result *parser.Result }

func (b *stubBackend) Parse(ctx context.Context, req parser.Request) (*parser.Result, error) {
	return b.result, nil
}

func TestService_StartRegistersScannedFilesInProjectIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "widget.cpp"), "void f() {}\n")

	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	proj, err := project.Open(root, &config.Project{Root: root}, s)
	require.NoError(t, err)

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	engine := dirty.New(proj, sched)
	cfg := &config.Config{Project: config.Project{Root: root}}
	svc, err := NewService(cfg, proj, engine)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	id, ok := proj.FileInDirectory(root, "widget.cpp")
	require.True(t, ok)
	require.NotZero(t, id)
}

func TestService_HandleChangeRemoveDeregistersFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "widget.cpp")
	writeFile(t, path, "void f() {}\n")

	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	proj, err := project.Open(root, &config.Project{Root: root}, s)
	require.NoError(t, err)

	id, err := proj.Files.InsertFile(path)
	require.NoError(t, err)
	proj.RegisterDirectory(path, id)

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	engine := dirty.New(proj, sched)
	cfg := &config.Config{Project: config.Project{Root: root}}
	svc, err := NewService(cfg, proj, engine)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	svc.handleChange(path, EventRemove)

	_, ok := proj.FileInDirectory(root, "widget.cpp")
	require.False(t, ok)
}

func TestService_HandleChangeWriteRegistersFileInDirectoryIndex(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "widget.cpp")
	writeFile(t, path, "void f() {}\n")

	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	proj, err := project.Open(root, &config.Project{Root: root}, s)
	require.NoError(t, err)

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	engine := dirty.New(proj, sched)
	cfg := &config.Config{Project: config.Project{Root: root}}
	svc, err := NewService(cfg, proj, engine)
	require.NoError(t, err)

	svc.handleChange(path, EventWrite)

	require.Eventually(t, func() bool {
		id, ok := proj.FileInDirectory(root, "widget.cpp")
		return ok && id != 0
	}, time.Second, 5*time.Millisecond)
}
