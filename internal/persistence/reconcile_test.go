package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/dirty"
	"github.com/cxrefd/cxrefd/internal/indexer"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/types"
)

type stubBackend struct{ result *parser.Result }

func (b *stubBackend) Parse(ctx context.Context, req parser.Request) (*parser.Result, error) {
	return b.result, nil
}

func TestReconcile_PurgesSourcesMissingFromDisk(t *testing.T) {
	dir := t.TempDir()
	proj := openTestProject(t, dir)

	path := filepath.Join(dir, "gone.cpp")
	require.NoError(t, os.WriteFile(path, []byte("void f() {}\n"), 0o644))
	f, err := proj.Files.InsertFile(path)
	require.NoError(t, err)

	loc := types.EncodeLocation(f, 1)
	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	c := types.NewCursorInfo(loc, types.KindVariable)
	c.SymbolName, c.SymbolLength = "x", 1
	data.Cursors[loc] = c
	proj.Commit(data)

	require.NoError(t, os.Remove(path))

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	engine := dirty.New(proj, sched)
	Reconcile(proj, engine)

	_, ok := proj.Cursor(loc)
	require.False(t, ok)
}

func TestReconcile_ReschedulesSourceWithStaleDependency(t *testing.T) {
	dir := t.TempDir()
	proj := openTestProject(t, dir)

	headerPath := filepath.Join(dir, "widget.h")
	srcPath := filepath.Join(dir, "widget.cpp")
	require.NoError(t, os.WriteFile(headerPath, []byte(""), 0o644))
	require.NoError(t, os.WriteFile(srcPath, []byte("void f() {}\n"), 0o644))
	header, err := proj.Files.InsertFile(headerPath)
	require.NoError(t, err)
	src, err := proj.Files.InsertFile(srcPath)
	require.NoError(t, err)

	data := types.NewIndexData(types.SourceInformation{SourceFile: srcPath})
	data.AddDependency(header, src)
	proj.Commit(data)

	oldParse := time.Now().Add(-time.Hour)
	restored, ok := proj.SourceInfo(src)
	require.True(t, ok)
	restored.ParsedAt = oldParse

	require.NoError(t, os.Chtimes(headerPath, time.Now(), time.Now()))

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	engine := dirty.New(proj, sched)
	Reconcile(proj, engine)

	require.Eventually(t, func() bool {
		info, ok := proj.SourceInfo(src)
		return ok && info.ParsedAt.After(oldParse)
	}, time.Second, 5*time.Millisecond)
}

func TestReconcile_ReschedulesSourceWithOwnMtimeNewerThanParse(t *testing.T) {
	dir := t.TempDir()
	proj := openTestProject(t, dir)

	srcPath := filepath.Join(dir, "lonely.cpp")
	require.NoError(t, os.WriteFile(srcPath, []byte("void f() {}\n"), 0o644))
	src, err := proj.Files.InsertFile(srcPath)
	require.NoError(t, err)

	// No header involved: the source is its own dependency (spec.md §3's
	// self-edge), so a change to its own content alone must still be
	// caught by reconcile without any header mtime changing.
	data := types.NewIndexData(types.SourceInformation{SourceFile: srcPath})
	data.AddDependency(src, src)
	proj.Commit(data)

	oldParse := time.Now().Add(-time.Hour)
	restored, ok := proj.SourceInfo(src)
	require.True(t, ok)
	restored.ParsedAt = oldParse

	require.NoError(t, os.Chtimes(srcPath, time.Now(), time.Now()))

	sched := indexer.New(proj, &stubBackend{result: &parser.Result{}}, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	engine := dirty.New(proj, sched)
	Reconcile(proj, engine)

	require.Eventually(t, func() bool {
		info, ok := proj.SourceInfo(src)
		return ok && info.ParsedAt.After(oldParse)
	}, time.Second, 5*time.Millisecond)
}
