package store

import (
	"context"
	"sync"

	"gendb/pkg/batch"
	"gendb/pkg/db"
	"gendb/pkg/dberrors"
	"gendb/pkg/iterator"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/snapshot"
	"gendb/pkg/types"
)

// Snapshot is a point-in-time read-only view. It holds a copy of the
// working segment, the frozen segments and a clone of the rangemap view,
// and pins regions so merges cannot delete what it reads.
type Snapshot struct {
	seq    types.SeqN
	l      layers
	unpin  func()
	closed sync.Once
}

// GetSnapshot captures the store as of the last applied command.
func (s *Store) GetSnapshot() (*Snapshot, error) {
	if s.state.Load() == stateClosed {
		return nil, dberrors.ErrClosed
	}

	// no command can be applied while both locks are held
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.listMu.RLock()
	defer s.listMu.RUnlock()

	working := segment.NewBuilder()
	for it := s.working.Scan(nil, nil, false); it.Next(); {
		working.Set(it.Key(), it.Value())
	}
	mem := make([]*segment.Builder, 0, 1+len(s.frozen))
	mem = append(mem, working)
	for i := len(s.frozen) - 1; i >= 0; i-- {
		mem = append(mem, s.frozen[i])
	}

	return &Snapshot{
		seq:   s.jr.LastSeq(),
		l:     layers{mem: mem, view: s.rm.Snapshot(), open: s.rm.Reader},
		unpin: s.alloc.Pin(),
	}, nil
}

func (sn *Snapshot) Sequence() types.SeqN { return sn.seq }

func (sn *Snapshot) Get(k record.Key) (record.Data, error) {
	return sn.l.get(k)
}

func (sn *Snapshot) Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator {
	return newIterator(ctx, sn.withLayers, lo, hi, reverse, nil)
}

func (sn *Snapshot) withLayers(fn func(l *layers) error) error {
	return fn(&sn.l)
}

// Close releases the snapshot's pin. It is safe to call more than once.
func (sn *Snapshot) Close() error {
	sn.closed.Do(sn.unpin)
	return nil
}

// Snapshot is GetSnapshot for the KV interface.
func (s *Store) Snapshot(_ context.Context) (snapshot.Snapshot, error) {
	sn, err := s.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return sn, nil
}

// NewBatch opens a write group in the default mode.
func (s *Store) NewBatch() (batch.WriteBatch, error) {
	g, err := s.NewWriteGroup()
	if err != nil {
		return nil, err
	}
	return g, nil
}

var (
	_ snapshot.Snapshot = (*Snapshot)(nil)
	_ batch.WriteBatch  = (*WriteGroup)(nil)
	_ db.KV             = (*Store)(nil)
)
