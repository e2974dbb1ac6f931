package fileid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertFile_AllocatesMonotonicIDs(t *testing.T) {
	s := openTestStore(t)
	r, err := New(s)
	require.NoError(t, err)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.cpp")
	b := filepath.Join(dir, "b.cpp")

	id1, err := r.InsertFile(a)
	require.NoError(t, err)
	id2, err := r.InsertFile(b)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Greater(t, uint32(id2), uint32(id1))

	// Re-inserting the same path returns the same id.
	id1Again, err := r.InsertFile(a)
	require.NoError(t, err)
	assert.Equal(t, id1, id1Again)
}

func TestFileID_UnseenPathIsInvalid(t *testing.T) {
	s := openTestStore(t)
	r, err := New(s)
	require.NoError(t, err)

	assert.Equal(t, types.InvalidFileID, r.FileID(filepath.Join(t.TempDir(), "nope.cpp")))
}

func TestPath_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	r, err := New(s)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "x.h")
	id, err := r.InsertFile(path)
	require.NoError(t, err)

	got := r.Path(id)
	resolved, err := resolvePath(path)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestRegistry_SurvivesReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "y.cpp")

	s, err := store.Open(dbPath)
	require.NoError(t, err)
	r, err := New(s)
	require.NoError(t, err)
	id, err := r.InsertFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()
	r2, err := New(s2)
	require.NoError(t, err)

	assert.Equal(t, id, r2.FileID(path))
	assert.Equal(t, 1, r2.Count())
}
