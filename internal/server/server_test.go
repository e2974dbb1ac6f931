package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/project"
	"github.com/cxrefd/cxrefd/internal/query"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
	"github.com/cxrefd/cxrefd/internal/watchsvc"
)

// TestMain ensures no goroutine leaks across this package's tests: each one
// spins up a scheduler, a watcher, and an accept loop, and a test that forgets
// to shut one down should fail loudly rather than bleed into the next test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("sync.runtime_Semacquire"),
	)
}

type stubBackend struct{ result *parser.Result }

func (b *stubBackend) Parse(ctx context.Context, req parser.Request) (*parser.Result, error) {
	return b.result, nil
}

// testSocketPath mirrors the teacher's getTestSocketPath: one socket per
// test name under the OS temp dir, removed on cleanup.
func testSocketPath(t *testing.T) string {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("cxrefd-test-%s.sock", t.Name()))
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

// buildTestDaemon wires one project directly into a Daemon's registry,
// bypassing config.Load/openProject's filesystem-rooted config discovery so
// the test never touches a real home directory.
func buildTestDaemon(t *testing.T, root string) (*Daemon, context.CancelFunc) {
	t.Helper()
	cfg := &config.Config{Project: config.Project{Root: root}}

	st, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	proj, err := project.Open(root, &cfg.Project, st)
	require.NoError(t, err)

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, cfg.Options.NoBuiltinIncludes)
	engine := dirty.New(proj, sched)
	watchSvc, err := watchsvc.NewService(cfg, proj, engine)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	require.NoError(t, watchSvc.Start(ctx))

	d := NewDaemon(testSocketPath(t), &stubBackend{result: &parser.Result{}})
	d.projects[root] = &openProject{
		cfg:       cfg,
		dataDir:   t.TempDir(),
		store:     st,
		proj:      proj,
		scheduler: sched,
		dirty:     engine,
		query:     query.New(proj),
		watch:     watchSvc,
		cancel:    cancel,
	}
	d.current = root
	return d, cancel
}

func TestDaemon_StartAcceptsConnectionsAndDispatchesQuery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.cpp"), []byte("void f() {}\n"), 0o644))

	d, cancel := buildTestDaemon(t, root)
	defer cancel()
	require.NoError(t, d.Start())
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = d.Shutdown(ctx)
	}()

	client := NewClient(d.socketPath)
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryTest})
	require.NoError(t, err)
	require.Equal(t, []string{"pong"}, lines)

	lines, err = client.Query(ctx, types.QueryMessage{Type: types.QueryStatus})
	require.NoError(t, err)
	require.Len(t, lines, 1)
}

func TestDaemon_DumpFileAndPreprocessFile(t *testing.T) {
	root := t.TempDir()
	sourcePath := filepath.Join(root, "widget.cpp")
	require.NoError(t, os.WriteFile(sourcePath, []byte("void f() {}\n"), 0o644))

	d, cancel := buildTestDaemon(t, root)
	defer cancel()
	require.NoError(t, d.Start())
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = d.Shutdown(ctx)
	}()

	client := NewClient(d.socketPath)
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	_, err := client.Compile(ctx, types.CompileMessage{Cwd: root, Argv: []string{"c++", "widget.cpp"}})
	require.NoError(t, err)

	_, err = client.Query(ctx, types.QueryMessage{Type: types.QueryDumpFile, Query: sourcePath})
	require.NoError(t, err, "dump-file on a tracked file must not error")

	lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryPreprocessFile, Query: sourcePath})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "not supported")
}

func TestDaemon_UnknownMessageIDDropsConnection(t *testing.T) {
	root := t.TempDir()
	d, cancel := buildTestDaemon(t, root)
	defer cancel()
	require.NoError(t, d.Start())
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = d.Shutdown(ctx)
	}()

	conn, err := (&Client{socketPath: d.socketPath, timeout: time.Second}).dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, types.MessageID(200), nil))

	_, _, err = readFrame(conn)
	require.Error(t, err, "daemon must close the connection on an unknown message id")
}

func TestDaemon_CompileSchedulesIndexingForNamedSource(t *testing.T) {
	root := t.TempDir()
	sourcePath := filepath.Join(root, "widget.cpp")
	require.NoError(t, os.WriteFile(sourcePath, []byte("void f() {}\n"), 0o644))

	d, cancel := buildTestDaemon(t, root)
	defer cancel()
	require.NoError(t, d.Start())
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = d.Shutdown(ctx)
	}()

	client := NewClient(d.socketPath)
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	lines, err := client.Compile(ctx, types.CompileMessage{
		Cwd:  root,
		Argv: []string{"c++", "-std=c++17", "widget.cpp"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"OK"}, lines)

	p := d.projects[root]
	require.Eventually(t, func() bool {
		id, ok := p.proj.FileInDirectory(root, "widget.cpp")
		if !ok {
			return false
		}
		_, ok = p.proj.SourceInfo(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

// TestDaemon_OpenProjectSelectsCurrent mirrors runDaemon's startup sequence:
// a freshly built Daemon has no project selected, so a query before
// OpenProject fails, and one immediately after succeeds without any client
// ever sending an explicit Project select message.
func TestDaemon_OpenProjectSelectsCurrent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.cpp"), []byte("void f() {}\n"), 0o644))

	d := NewDaemon(testSocketPath(t), &stubBackend{result: &parser.Result{}})
	_, err := d.currentProject()
	require.Error(t, err, "a freshly built daemon must have no project selected")

	cfgDir := t.TempDir()
	t.Setenv("HOME", cfgDir)
	require.NoError(t, d.OpenProject(root))
	defer func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = d.Shutdown(ctx)
	}()

	p, err := d.currentProject()
	require.NoError(t, err)
	require.Equal(t, root, p.cfg.Project.Root)
}

func TestDaemon_ShutdownQueryClosesListener(t *testing.T) {
	root := t.TempDir()
	d, cancel := buildTestDaemon(t, root)
	defer cancel()
	require.NoError(t, d.Start())

	client := NewClient(d.socketPath)
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryShutdown})
	require.NoError(t, err)
	require.Equal(t, []string{"shutting down"}, lines)

	require.Eventually(t, func() bool {
		_, err := os.Stat(d.socketPath)
		return os.IsNotExist(err)
	}, 3*time.Second, 20*time.Millisecond)
}
