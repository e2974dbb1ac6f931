package store

import bolt "go.etcd.io/bbolt"

// amortizedThreshold mirrors spec.md §4.2: "accumulates puts/deletes up to an
// amortized threshold (~1 MiB of values) then commits atomically."
const amortizedThreshold = 1 << 20 // 1 MiB

type op struct {
	partition string
	key       []byte
	value     []byte // nil means delete
}

// BatchWriter accumulates puts/deletes across one or more partitions and
// commits them atomically, either when the accumulated value size crosses
// amortizedThreshold or when Flush is called explicitly. Work is invisible
// to readers until a commit happens (spec.md §4.2).
type BatchWriter struct {
	store    *Store
	ops      []op
	pending  int
}

// NewBatch starts a new batch writer against s.
func (s *Store) NewBatch() *BatchWriter {
	return &BatchWriter{store: s}
}

// Put stages a write. May trigger an implicit commit once the accumulated
// value size crosses the amortized threshold.
func (b *BatchWriter) Put(partition string, key, value []byte) error {
	b.ops = append(b.ops, op{partition: partition, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	b.pending += len(value)
	if b.pending >= amortizedThreshold {
		return b.Flush()
	}
	return nil
}

// Delete stages a delete.
func (b *BatchWriter) Delete(partition string, key []byte) error {
	b.ops = append(b.ops, op{partition: partition, key: append([]byte(nil), key...), value: nil})
	return nil
}

// Flush commits every staged operation atomically in one bbolt transaction.
func (b *BatchWriter) Flush() error {
	if len(b.ops) == 0 {
		return nil
	}
	ops := b.ops
	b.ops = nil
	b.pending = 0
	return b.store.db.Update(func(tx *bolt.Tx) error {
		buckets := make(map[string]*bolt.Bucket, len(allPartitions))
		for _, o := range ops {
			bkt, ok := buckets[o.partition]
			if !ok {
				bkt = tx.Bucket([]byte(o.partition))
				buckets[o.partition] = bkt
			}
			if bkt == nil {
				continue
			}
			if o.value == nil {
				if err := bkt.Delete(o.key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(o.key, o.value); err != nil {
				return err
			}
		}
		return nil
	})
}
