// Package store implements the embedded ordered key-value store from
// spec.md §4.2 on top of go.etcd.io/bbolt: one bbolt database per project,
// one bucket per typed partition, batched writes, and a range-scanning
// cursor. Keys that encode a (file-id, offset) pair use big-endian byte
// order (internal/encoding.PutUint64BE), so bbolt's native
// byte-lexicographic key ordering already is the "location comparator"
// spec.md asks for — no custom comparator type is layered on top.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Partition names, one per bbolt bucket, matching spec.md §6's on-disk
// layout list plus "general" and "fileids"; every project's database holds
// its own copy of all of them, so nothing is shared across projects.
const (
	PartitionGeneral     = "general"
	PartitionFileIDs     = "fileids"
	PartitionSymbols     = "symbols"
	PartitionSymbolNames = "symbolnames"
	PartitionUSR         = "usr"
	PartitionFileInfo    = "fileinfo"
	PartitionDependency  = "dependency"
)

var allPartitions = []string{
	PartitionGeneral, PartitionFileIDs, PartitionSymbols,
	PartitionSymbolNames, PartitionUSR, PartitionFileInfo, PartitionDependency,
}

// Store is a single bbolt-backed database handle for one project partition
// set (spec.md §4.2: "A single database handle per project partition").
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if absent) the bbolt database at path and ensures
// every partition bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, p := range allPartitions {
			if _, err := tx.CreateBucketIfNotExists([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the file this store persists to.
func (s *Store) Path() string { return s.path }

// Get reads a single value. ok is false when the key is absent.
func (s *Store) Get(partition string, key []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("store: unknown partition %q", partition)
		}
		v := b.Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// Contains reports whether key exists in partition.
func (s *Store) Contains(partition string, key []byte) (bool, error) {
	_, ok, err := s.Get(partition, key)
	return ok, err
}

// Put writes a single key/value, committing immediately. Callers doing many
// writes should use a Batch instead to amortize fsync cost.
func (s *Store) Put(partition string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("store: unknown partition %q", partition)
		}
		return b.Put(key, value)
	})
}

// Delete removes key from partition, committing immediately.
func (s *Store) Delete(partition string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("store: unknown partition %q", partition)
		}
		return b.Delete(key)
	})
}

// DeletePrefix removes every key with the given prefix from partition.
func (s *Store) DeletePrefix(partition string, prefix []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("store: unknown partition %q", partition)
		}
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
