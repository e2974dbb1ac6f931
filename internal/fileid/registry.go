// Package fileid implements the FileId registry (spec.md §4.1): a
// process-wide, persistent mapping between absolute, symlink-resolved paths
// and dense 32-bit identifiers. Ids are assigned monotonically and never
// reused. The registry keeps no schema version: it loads the fileids
// partition as found and never rebuilds it or clears dependent partitions.
package fileid

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cxrefd/cxrefd/internal/encoding"
	"github.com/cxrefd/cxrefd/internal/store"
	"github.com/cxrefd/cxrefd/internal/types"
)

const maxIDKey = "__max_id__"

// Registry is the in-memory cache over the store's fileids partition. All
// operations are safe for concurrent use; after any successful InsertFile, a
// subsequent FileID in any goroutine returns the same id (spec.md §4.1).
type Registry struct {
	mu        sync.RWMutex
	s         *store.Store
	byPath    map[string]types.FileID
	byID      map[types.FileID]string
	maxID     types.FileID
}

// New loads an existing registry from s's fileids partition, or starts a
// fresh one if the partition is empty.
func New(s *store.Store) (*Registry, error) {
	r := &Registry{
		s:      s,
		byPath: make(map[string]types.FileID),
		byID:   make(map[types.FileID]string),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	it, err := r.s.NewIterator(store.PartitionFileIDs)
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.SeekFirst(); ok; ok = it.Next() {
		key := it.Key()
		if string(key) == maxIDKey {
			v, err := encoding.Uint64BE(it.Value())
			if err != nil {
				return fmt.Errorf("fileid: decode max id: %w", err)
			}
			r.maxID = types.FileID(v)
			continue
		}
		id := types.FileID(binary.BigEndian.Uint32(key))
		path := string(it.Value())
		r.byPath[path] = id
		r.byID[id] = path
	}
	return nil
}

func idKey(id types.FileID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(id))
	return buf
}

// InsertFile resolves path to its real, absolute form and returns its id,
// allocating and persisting a new one on first sight.
func (r *Registry) InsertFile(path string) (types.FileID, error) {
	real, err := resolvePath(path)
	if err != nil {
		return types.InvalidFileID, fmt.Errorf("fileid: resolve %s: %w", path, err)
	}

	r.mu.RLock()
	if id, ok := r.byPath[real]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another goroutine may have raced us.
	if id, ok := r.byPath[real]; ok {
		return id, nil
	}

	r.maxID++
	id := r.maxID
	r.byPath[real] = id
	r.byID[id] = real

	b := r.s.NewBatch()
	if err := b.Put(store.PartitionFileIDs, idKey(id), []byte(real)); err != nil {
		return types.InvalidFileID, err
	}
	if err := b.Put(store.PartitionFileIDs, []byte(maxIDKey), encoding.PutUint64BE(nil, uint64(r.maxID))); err != nil {
		return types.InvalidFileID, err
	}
	if err := b.Flush(); err != nil {
		return types.InvalidFileID, fmt.Errorf("fileid: persist %s: %w", real, err)
	}
	return id, nil
}

// FileID looks up an id without allocating; returns InvalidFileID when path
// is unseen.
func (r *Registry) FileID(path string) types.FileID {
	real, err := resolvePath(path)
	if err != nil {
		return types.InvalidFileID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[real]
}

// Path returns the absolute, resolved path for id, or "" if unknown.
func (r *Registry) Path(id types.FileID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Count returns the number of distinct files ever seen.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The file may not exist yet (e.g. a header about to be generated);
		// fall back to the absolute, cleaned path rather than failing the
		// whole insert.
		return filepath.Clean(abs), nil
	}
	return real, nil
}
