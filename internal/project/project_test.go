package project

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/idcodec"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
)

func openTestProject(t *testing.T) *Project {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	p, err := Open(t.TempDir(), &config.Project{}, s)
	require.NoError(t, err)
	return p
}

func TestCommit_PopulatesAllMaps(t *testing.T) {
	p := openTestProject(t)

	srcPath := filepath.Join(p.Root, "a.cpp")
	srcID, err := p.Files.InsertFile(srcPath)
	require.NoError(t, err)

	loc := types.EncodeLocation(srcID, 10)
	data := types.NewIndexData(types.SourceInformation{SourceFile: srcPath})
	cursor := types.NewCursorInfo(loc, types.KindFunction)
	cursor.SymbolName = "foo"
	cursor.SymbolLength = 3
	data.Cursors[loc] = cursor
	data.AddSymbolName("foo", loc)
	data.USRIndex[loc] = types.USREntry{USR: "c:@F@foo#", SymbolLength: 3}

	p.Commit(data)

	got, ok := p.Cursor(loc)
	require.True(t, ok)
	assert.Equal(t, "foo", got.SymbolName)

	locs := p.LocationsForName("foo")
	assert.Contains(t, locs, loc)

	entry, ok := p.USREntryAt(loc)
	require.True(t, ok)
	assert.Equal(t, types.USR("c:@F@foo#"), entry.USR)

	src, ok := p.SourceInfo(srcID)
	require.True(t, ok)
	assert.Equal(t, srcPath, src.SourceFile)
	assert.WithinDuration(t, time.Now(), src.ParsedAt, time.Minute)
}

func TestPurge_RemovesOnlyMatchingFile(t *testing.T) {
	p := openTestProject(t)

	aPath := filepath.Join(p.Root, "a.cpp")
	bPath := filepath.Join(p.Root, "b.cpp")
	aID, err := p.Files.InsertFile(aPath)
	require.NoError(t, err)
	bID, err := p.Files.InsertFile(bPath)
	require.NoError(t, err)

	locA := types.EncodeLocation(aID, 1)
	locB := types.EncodeLocation(bID, 1)

	data := types.NewIndexData(types.SourceInformation{SourceFile: aPath})
	ca := types.NewCursorInfo(locA, types.KindVariable)
	ca.SymbolName, ca.SymbolLength = "x", 1
	data.Cursors[locA] = ca
	data.AddSymbolName("x", locA)
	p.Commit(data)

	dataB := types.NewIndexData(types.SourceInformation{SourceFile: bPath})
	cb := types.NewCursorInfo(locB, types.KindVariable)
	cb.SymbolName, cb.SymbolLength = "y", 1
	dataB.Cursors[locB] = cb
	dataB.AddSymbolName("y", locB)
	p.Commit(dataB)

	p.Purge(aID)

	_, ok := p.Cursor(locA)
	assert.False(t, ok)
	_, ok = p.Cursor(locB)
	assert.True(t, ok)
	assert.Empty(t, p.LocationsForName("x"))
	assert.NotEmpty(t, p.LocationsForName("y"))
}

func TestDirectoryIndex_RoundTrips(t *testing.T) {
	p := openTestProject(t)
	path := filepath.Join(p.Root, "sub", "a.cpp")
	id, err := p.Files.InsertFile(path)
	require.NoError(t, err)

	p.RegisterDirectory(path, id)
	got, ok := p.FileInDirectory(filepath.Dir(path), "a.cpp")
	require.True(t, ok)
	assert.Equal(t, id, got)

	entries := p.DirectoryEntries(filepath.Dir(path))
	assert.Contains(t, entries, "a.cpp")
}

func TestRemove_DeregistersFromDirectoryIndex(t *testing.T) {
	p := openTestProject(t)
	path := filepath.Join(p.Root, "a.cpp")
	id, err := p.Files.InsertFile(path)
	require.NoError(t, err)
	p.RegisterDirectory(path, id)

	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	p.Commit(data)

	p.Remove(path)
	_, ok := p.FileInDirectory(filepath.Dir(path), "a.cpp")
	assert.False(t, ok)
	_, ok = p.SourceInfo(id)
	assert.False(t, ok)
}

func TestResolveFile_DistinguishesNotFoundFromDeleted(t *testing.T) {
	p := openTestProject(t)
	path := filepath.Join(p.Root, "a.cpp")
	id, err := p.Files.InsertFile(path)
	require.NoError(t, err)
	p.RegisterDirectory(path, id)

	got, lookupErr := p.ResolveFile(path)
	require.Nil(t, lookupErr)
	assert.Equal(t, id, got)

	// A path never seen by the FileId registry at all: not found.
	neverSeen := filepath.Join(p.Root, "never.cpp")
	_, lookupErr = p.ResolveFile(neverSeen)
	require.NotNil(t, lookupErr)
	assert.ErrorIs(t, lookupErr, idcodec.ErrNotFound)

	// Remove deregisters the directory entry but the FileId registry (spec.md
	// §4.1) keeps the id forever, so the same path now reads as deleted.
	p.Remove(path)
	_, lookupErr = p.ResolveFile(path)
	require.NotNil(t, lookupErr)
	assert.ErrorIs(t, lookupErr, idcodec.ErrFileDeleted)
}

func TestScrubEdges_RemovesEdgesIntoDirtySet(t *testing.T) {
	p := openTestProject(t)
	aPath := filepath.Join(p.Root, "a.cpp")
	bPath := filepath.Join(p.Root, "b.cpp")
	aID, err := p.Files.InsertFile(aPath)
	require.NoError(t, err)
	bID, err := p.Files.InsertFile(bPath)
	require.NoError(t, err)

	locA := types.EncodeLocation(aID, 1)
	locB := types.EncodeLocation(bID, 1)

	data := types.NewIndexData(types.SourceInformation{SourceFile: aPath})
	ca := types.NewCursorInfo(locA, types.KindFunction)
	ca.SymbolName, ca.SymbolLength = "f", 1
	ca.AddTarget(locB)
	ca.AddReference(locB)
	data.Cursors[locA] = ca
	data.AddSymbolName("f", locA)
	p.Commit(data)

	p.ScrubEdges(map[types.FileID]struct{}{bID: {}})

	got, ok := p.Cursor(locA)
	require.True(t, ok)
	assert.Empty(t, got.Targets)
	assert.Empty(t, got.References)
}

func TestCursorCovering_FindsEnclosingRange(t *testing.T) {
	p := openTestProject(t)
	path := filepath.Join(p.Root, "a.cpp")
	f, err := p.Files.InsertFile(path)
	require.NoError(t, err)

	loc := types.EncodeLocation(f, 10)
	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	c := types.NewCursorInfo(loc, types.KindVariable)
	c.SymbolName, c.SymbolLength = "longname", 8
	data.Cursors[loc] = c
	p.Commit(data)

	mid := types.EncodeLocation(f, 14)
	got, ok := p.CursorCovering(mid)
	require.True(t, ok)
	assert.Equal(t, "longname", got.SymbolName)

	past := types.EncodeLocation(f, 20)
	_, ok = p.CursorCovering(past)
	assert.False(t, ok)
}

func TestStats_ReportsCounts(t *testing.T) {
	p := openTestProject(t)
	path := filepath.Join(p.Root, "a.cpp")
	id, err := p.Files.InsertFile(path)
	require.NoError(t, err)

	loc := types.EncodeLocation(id, 1)
	data := types.NewIndexData(types.SourceInformation{SourceFile: path})
	c := types.NewCursorInfo(loc, types.KindVariable)
	c.SymbolName, c.SymbolLength = "x", 1
	data.Cursors[loc] = c
	data.AddSymbolName("x", loc)
	p.Commit(data)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.Symbols)
	assert.Equal(t, 1, stats.Names)
}
