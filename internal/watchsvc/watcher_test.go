package watchsvc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/config"
)

func TestDirWatcher_ReportsCreateAndWriteAndRemove(t *testing.T) {
	root := t.TempDir()
	// Only directories holding an indexed source file are watched, so seed
	// root with one before scanning.
	writeFile(t, filepath.Join(root, "seed.cpp"), "")
	cfg := &config.Config{Project: config.Project{Root: root}}
	scanner := NewScanner(cfg)
	idx, err := scanner.Scan(root)
	require.NoError(t, err)

	w, err := NewDirWatcher(cfg, scanner)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]EventType)
	w.OnChange(func(path string, event EventType) {
		mu.Lock()
		defer mu.Unlock()
		seen[path] = event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, idx))
	defer w.Stop()

	path := filepath.Join(root, "a.cpp")
	require.NoError(t, os.WriteFile(path, []byte("int x;\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := seen[path]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[path] == EventRemove
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirWatcher_IgnoresNonSourceFiles(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{Project: config.Project{Root: root}}
	scanner := NewScanner(cfg)
	idx, err := scanner.Scan(root)
	require.NoError(t, err)

	w, err := NewDirWatcher(cfg, scanner)
	require.NoError(t, err)

	var mu sync.Mutex
	var events int
	w.OnChange(func(path string, event EventType) {
		mu.Lock()
		defer mu.Unlock()
		events++
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, idx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, events)
}

func TestDirWatcher_PollOnceDetectsChangesWithoutFsnotify(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.cpp")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	cfg := &config.Config{Project: config.Project{Root: root}}
	w, err := NewDirWatcher(cfg, NewScanner(cfg))
	require.NoError(t, err)
	defer w.fsw.Close()

	var mu sync.Mutex
	var got []EventType
	w.OnChange(func(p string, e EventType) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	w.polled[root] = w.snapshotDir(root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.cpp"), []byte("v1"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2-longer"), 0o644))

	w.pollOnce(root)
	w.flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got, EventCreate)
	assert.Contains(t, got, EventWrite)
}
