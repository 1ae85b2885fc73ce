// Package segment implements in-memory segment builders, immutable segment
// readers, the block-splitting segment writer and the k-way merge of
// sorted record streams.
package segment

import (
	"sync/atomic"

	"gendb/pkg/orderedmap"
	"gendb/pkg/record"
)

var builderIDs atomic.Uint64

// Builder is a mutable in-memory segment. The working segment is a Builder;
// so are frozen segments waiting to be persisted.
type Builder struct {
	id   uint64
	rows *orderedmap.Map[record.Key, record.Update]
	size atomic.Int64
}

func NewBuilder() *Builder {
	return &Builder{
		id:   builderIDs.Add(1),
		rows: orderedmap.New[record.Key, record.Update](record.Key.Compare),
	}
}

// ID is a process-local identifier used in logs.
func (b *Builder) ID() uint64 { return b.id }

// Set stores u under k, last write wins.
func (b *Builder) Set(k record.Key, u record.Update) {
	b.rows.Set(k, u)
	b.size.Add(int64(k.Len() + u.Size()))
}

// Get returns the update stored for k.
func (b *Builder) Get(k record.Key) (record.Update, bool) {
	return b.rows.Get(k)
}

// FindNext returns the first pair with key >= k (> k when not inclusive).
func (b *Builder) FindNext(k record.Key, inclusive bool) (record.Pair, bool) {
	key, u, ok := b.rows.FindNext(k, inclusive)
	return record.Pair{Key: key, Update: u}, ok
}

// FindPrev returns the last pair with key <= k (< k when not inclusive).
func (b *Builder) FindPrev(k record.Key, inclusive bool) (record.Pair, bool) {
	key, u, ok := b.rows.FindPrev(k, inclusive)
	return record.Pair{Key: key, Update: u}, ok
}

// Len is the number of distinct keys.
func (b *Builder) Len() int { return b.rows.Len() }

// Size approximates the bytes written into the builder, overwrites included.
func (b *Builder) Size() int64 { return b.size.Load() }

// Scan returns a lazy iterator over [lo, hi). Nil bounds are open.
func (b *Builder) Scan(lo, hi *record.Key, reverse bool) *orderedmap.Iterator[record.Key, record.Update] {
	r := orderedmap.Range[record.Key, record.Update]{Low: lo, High: hi}
	if reverse {
		return b.rows.Descend(r)
	}
	return b.rows.Ascend(r)
}

// Stream returns the builder's content as an ascending Stream.
func (b *Builder) Stream() Stream {
	return &builderStream{it: b.Scan(nil, nil, false)}
}

type builderStream struct {
	it *orderedmap.Iterator[record.Key, record.Update]
}

func (s *builderStream) Next() bool { return s.it.Next() }

func (s *builderStream) Pair() record.Pair {
	return record.Pair{Key: s.it.Key(), Update: s.it.Value()}
}

func (s *builderStream) Err() error { return nil }
