package store

import (
	"context"

	"gendb/pkg/encoding/tuple"
	"gendb/pkg/iterator"
	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/segment"
)

var (
	// userMin sorts after every reserved key and before every user key.
	userMin = record.KeyFromBytes([]byte{byte(tuple.TypeReserved) + 1})
	userMax = record.AfterPrefix(record.MinKey())
)

// layers is the newest-first stack a read consults: in-memory builders
// first, then persisted generations from newest to oldest.
type layers struct {
	mem  []*segment.Builder
	view *rangemap.View
	open func(segment.Descriptor) (*segment.Reader, error)
}

func (l *layers) get(k record.Key) (record.Data, error) {
	for _, b := range l.mem {
		if u, ok := b.Get(k); ok {
			return record.FromPair(record.Pair{Key: k, Update: u}), nil
		}
	}
	for _, gen := range l.view.Generations() {
		d, ok := l.view.SegmentAt(gen, k)
		if !ok {
			continue
		}
		r, err := l.open(d)
		if err != nil {
			return record.Data{}, err
		}
		if u, ok := r.Get(k); ok {
			return record.FromPair(record.Pair{Key: k, Update: u}), nil
		}
	}
	return record.Data{State: record.NotProvided, Key: k}, nil
}

// seek returns the newest version of the first key after k, or before k
// when backward. Ties go to the newest layer.
func (l *layers) seek(k record.Key, inclusive, backward bool) (record.Pair, bool, error) {
	var (
		best  record.Pair
		found bool
	)
	consider := func(p record.Pair) {
		if !found {
			best, found = p, true
			return
		}
		c := p.Key.Compare(best.Key)
		if backward {
			c = -c
		}
		if c < 0 {
			best = p
		}
	}

	for _, b := range l.mem {
		var (
			p  record.Pair
			ok bool
		)
		if backward {
			p, ok = b.FindPrev(k, inclusive)
		} else {
			p, ok = b.FindNext(k, inclusive)
		}
		if ok {
			consider(p)
		}
	}
	for _, gen := range l.view.Generations() {
		p, ok, err := l.seekGeneration(gen, k, inclusive, backward)
		if err != nil {
			return record.Pair{}, false, err
		}
		if ok {
			consider(p)
		}
	}
	return best, found, nil
}

func (l *layers) seekGeneration(gen uint64, k record.Key, inclusive, backward bool) (record.Pair, bool, error) {
	var (
		d  segment.Descriptor
		ok bool
	)
	if backward {
		d, ok = l.view.PrevSegment(gen, k)
	} else {
		d, ok = l.view.NextSegment(gen, k)
	}
	for ok {
		r, err := l.open(d)
		if err != nil {
			return record.Pair{}, false, err
		}
		var (
			p     record.Pair
			found bool
		)
		if backward {
			p, found = r.FindPrev(k, inclusive)
		} else {
			p, found = r.FindNext(k, inclusive)
		}
		if found {
			return p, true, nil
		}
		if backward {
			d, ok = l.view.Before(d)
		} else {
			d, ok = l.view.After(d)
		}
	}
	return record.Pair{}, false, nil
}

// withLayers runs fn against the live state. The segment list lock is held
// for the whole call so a concurrent flush or merge commit cannot swap
// layers underneath it.
func (s *Store) withLayers(fn func(l *layers) error) error {
	s.listMu.RLock()
	defer s.listMu.RUnlock()

	l := layers{mem: s.memLayersLocked(), open: s.rm.Reader}
	var err error
	s.rm.Read(func(v *rangemap.View) {
		l.view = v
		err = fn(&l)
	})
	return err
}

func (s *Store) memLayersLocked() []*segment.Builder {
	mem := make([]*segment.Builder, 0, 1+len(s.frozen))
	mem = append(mem, s.working)
	for i := len(s.frozen) - 1; i >= 0; i-- {
		mem = append(mem, s.frozen[i])
	}
	return mem
}

// GetRecord returns the newest version of k. A miss is reported as
// record.NotProvided, a deleted key as record.Deleted.
func (s *Store) GetRecord(k record.Key) (record.Data, error) {
	var d record.Data
	err := s.withLayers(func(l *layers) (err error) {
		d, err = l.get(k)
		return err
	})
	return d, err
}

// GetNextRecord returns the newest version of the first key at or after
// low, tombstones included.
func (s *Store) GetNextRecord(low record.Key) (record.Data, error) {
	var d record.Data
	err := s.withLayers(func(l *layers) error {
		p, ok, err := l.seek(low, true, false)
		if err != nil {
			return err
		}
		if ok {
			d = record.FromPair(p)
		}
		return nil
	})
	return d, err
}

// Get is GetRecord for the KV interface.
func (s *Store) Get(_ context.Context, k record.Key) (record.Data, error) {
	return s.GetRecord(k)
}

// Scan iterates live user records in [lo, hi). Nil bounds are open.
// Every step sees the store as of that step.
func (s *Store) Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator {
	return newIterator(ctx, s.withLayers, lo, hi, reverse, nil)
}

// Iterator is a lazy scan over live records, skipping tombstones and the
// reserved keyspace.
type Iterator struct {
	ctx     context.Context
	src     func(fn func(l *layers) error) error
	lo, hi  record.Key
	reverse bool

	started bool
	done    bool
	cur     record.Pair
	err     error
	release func()
}

func newIterator(ctx context.Context, src func(fn func(l *layers) error) error, lo, hi *record.Key, reverse bool, release func()) *Iterator {
	it := &Iterator{ctx: ctx, src: src, lo: userMin, hi: userMax, reverse: reverse, release: release}
	if lo != nil && lo.Compare(userMin) > 0 {
		it.lo = *lo
	}
	if hi != nil && hi.Compare(userMax) < 0 {
		it.hi = *hi
	}
	return it
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return false
	}

	var found bool
	err := it.src(func(l *layers) error {
		k, inclusive := it.lo, true
		if it.reverse {
			k, inclusive = it.hi, false
		}
		if it.started {
			k, inclusive = it.cur.Key, false
		}
		for {
			p, ok, err := l.seek(k, inclusive, it.reverse)
			if err != nil || !ok || !it.inRange(p.Key) {
				return err
			}
			k, inclusive = p.Key, false
			if p.Update.Tombstone {
				continue
			}
			it.cur, found = p, true
			return nil
		}
	})
	it.started = true
	if err != nil {
		it.fail(err)
		return false
	}
	if !found {
		it.finish()
		return false
	}
	return true
}

func (it *Iterator) inRange(k record.Key) bool {
	return it.lo.Compare(k) <= 0 && k.Less(it.hi)
}

func (it *Iterator) Key() record.Key { return it.cur.Key }

func (it *Iterator) Value() []byte { return it.cur.Update.Value }

func (it *Iterator) Err() error { return it.err }

func (it *Iterator) fail(err error) {
	it.err = err
	it.finish()
}

func (it *Iterator) finish() {
	it.done = true
	it.cur = record.Pair{}
}

func (it *Iterator) Close() error {
	it.finish()
	if it.release != nil {
		it.release()
		it.release = nil
	}
	return nil
}

var _ iterator.Iterator = (*Iterator)(nil)
