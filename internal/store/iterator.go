package store

import bolt "go.etcd.io/bbolt"

// Iterator is an ordered, read-only traversal of one partition (spec.md
// §4.2: seek/seekFirst/seekLast/next/prev/key/value). It owns a bbolt
// read-only transaction for its lifetime; callers must call Close.
type Iterator struct {
	tx     *bolt.Tx
	cursor *bolt.Cursor
	k, v   []byte
}

// NewIterator opens a read-only transaction over partition and positions
// nowhere; call SeekFirst/Seek before reading Key/Value.
func (s *Store) NewIterator(partition string) (*Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	b := tx.Bucket([]byte(partition))
	if b == nil {
		tx.Rollback()
		return nil, errUnknownPartition(partition)
	}
	return &Iterator{tx: tx, cursor: b.Cursor()}, nil
}

func errUnknownPartition(p string) error {
	return &unknownPartitionError{p}
}

type unknownPartitionError struct{ partition string }

func (e *unknownPartitionError) Error() string {
	return "store: unknown partition " + e.partition
}

// Close releases the iterator's underlying transaction.
func (it *Iterator) Close() error {
	return it.tx.Rollback()
}

// SeekFirst positions the iterator at the smallest key.
func (it *Iterator) SeekFirst() bool {
	it.k, it.v = it.cursor.First()
	return it.k != nil
}

// SeekLast positions the iterator at the largest key.
func (it *Iterator) SeekLast() bool {
	it.k, it.v = it.cursor.Last()
	return it.k != nil
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.k, it.v = it.cursor.Seek(target)
	return it.k != nil
}

// Next advances to the next key in ascending order.
func (it *Iterator) Next() bool {
	it.k, it.v = it.cursor.Next()
	return it.k != nil
}

// Prev moves to the previous key in ascending order.
func (it *Iterator) Prev() bool {
	it.k, it.v = it.cursor.Prev()
	return it.k != nil
}

// Valid reports whether the iterator is positioned on a real entry.
func (it *Iterator) Valid() bool { return it.k != nil }

// Key returns the current key. Valid only while the cursor hasn't moved.
func (it *Iterator) Key() []byte { return it.k }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.v }

// SeekPrefix positions at the first key with the given prefix and reports
// whether one exists.
func (it *Iterator) SeekPrefix(prefix []byte) bool {
	if !it.Seek(prefix) {
		return false
	}
	return hasPrefix(it.k, prefix)
}

// NextInPrefix advances within a prefix scan, returning false once the key
// no longer starts with prefix.
func (it *Iterator) NextInPrefix(prefix []byte) bool {
	if !it.Next() {
		return false
	}
	return hasPrefix(it.k, prefix)
}
