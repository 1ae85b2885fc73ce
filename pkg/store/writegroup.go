package store

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"gendb/pkg/dberrors"
	"gendb/pkg/record"
	"gendb/pkg/types"
	"gendb/pkg/wal"
)

// WriteGroup batches writes under one durability mode. It must be
// terminated exactly once with Finish or Cancel.
type WriteGroup struct {
	s    *Store
	id   uint64
	mode Mode
	site string

	mu      sync.Mutex
	closed  bool
	pending []wal.Entry
	lastSeq types.SeqN

	onCommit []func()
	onCancel []func()
}

// NewWriteGroup opens a write group in the store's default mode.
func (s *Store) NewWriteGroup() (*WriteGroup, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	return s.newGroup(s.opts.DefaultMode, 2), nil
}

// NewWriteGroupMode opens a write group in mode.
func (s *Store) NewWriteGroupMode(mode Mode) (*WriteGroup, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	return s.newGroup(mode, 2), nil
}

func (s *Store) newGroup(mode Mode, skip int) *WriteGroup {
	site := "unknown"
	if _, file, line, ok := runtime.Caller(skip); ok {
		site = fmt.Sprintf("%s:%d", file, line)
	}
	g := &WriteGroup{s: s, id: s.groupIDs.Next(), mode: mode, site: site}
	s.groups.Store(g.id, g)
	return g
}

func (g *WriteGroup) ID() uint64 { return g.id }

func (g *WriteGroup) Mode() Mode { return g.mode }

// Set writes value under k.
func (g *WriteGroup) Set(k record.Key, value []byte) error {
	if k.IsReserved() {
		return dberrors.ErrReservedKey
	}
	if value == nil {
		value = []byte{}
	}
	return g.apply(record.Pair{Key: k, Update: record.Put(value)})
}

// Delete writes a tombstone for k.
func (g *WriteGroup) Delete(k record.Key) error {
	if k.IsReserved() {
		return dberrors.ErrReservedKey
	}
	return g.apply(record.Pair{Key: k, Update: record.Delete()})
}

func (g *WriteGroup) apply(p record.Pair) error {
	return g.command(wal.Entry{Cmd: wal.CmdUpdate, Payload: record.EncodePair(p)})
}

// command logs and applies cmd according to the group's mode.
func (g *WriteGroup) command(cmd wal.Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return dberrors.ErrGroupClosed
	}
	if g.mode.atomic() {
		g.pending = append(g.pending, cmd)
		return nil
	}

	seq, err := g.s.submit(cmd, g.mode != MemoryOnly)
	if err != nil {
		return err
	}
	g.lastSeq = max(g.lastSeq, seq)
	return nil
}

// Finish commits the group. Durable modes block until the group's log
// records are on stable storage or ctx ends.
func (g *WriteGroup) Finish(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.s.logger.Warn("write group finished twice", "group", g.id, "site", g.site)
		return nil
	}
	g.closed = true
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()

	defer g.s.groups.Delete(g.id)

	if g.mode.atomic() && len(pending) > 0 {
		seq, err := g.s.submit(wal.Entry{Cmd: wal.CmdPacket, Payload: wal.EncodePacket(pending)}, true)
		if err != nil {
			// a logged packet is replayed on open, so its regions must stay
			if seq == 0 {
				g.runHooks(g.onCancel)
			}
			return err
		}
		g.lastSeq = seq
	}

	// commit hooks release resources the log still references until the
	// group's records are on stable storage
	switch {
	case g.lastSeq == 0:
	case g.mode == DiskIncremental || g.mode == DiskAtomicFlush:
		if err := g.s.jr.WaitDurable(ctx, g.lastSeq); err != nil {
			if ctx.Err() != nil {
				g.s.afterDurable(g.lastSeq, g.onCommit)
			}
			return err
		}
	case g.mode == DiskAtomicNoFlush:
		g.s.jr.RequestSync()
		g.s.afterDurable(g.lastSeq, g.onCommit)
		return nil
	}
	g.runHooks(g.onCommit)
	return nil
}

// Cancel discards the group. Writes of incremental and memory-only groups
// are applied as they are made and stay applied.
func (g *WriteGroup) Cancel() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.s.logger.Warn("write group cancelled after close", "group", g.id, "site", g.site)
		return
	}
	g.closed = true
	g.pending = nil
	g.mu.Unlock()

	g.s.groups.Delete(g.id)
	g.runHooks(g.onCancel)
}

func (g *WriteGroup) runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// afterDurable runs hooks once seq is on stable storage. If the log fails
// first the hooks are dropped; regions they would have released are
// swept on the next open.
func (s *Store) afterDurable(seq types.SeqN, hooks []func()) {
	if len(hooks) == 0 {
		return
	}
	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		if err := s.jr.WaitDurable(context.Background(), seq); err != nil {
			s.logger.Warn("dropping commit hooks of a group that never became durable", "seq", seq, "error", err)
			return
		}
		for _, fn := range hooks {
			fn()
		}
	}()
}

// sysTxn lets the rangemap and the region allocator write reserved keys
// into a group and hook its outcome.
type sysTxn struct {
	g *WriteGroup
}

func (t sysTxn) Apply(p record.Pair) error { return t.g.apply(p) }

func (t sysTxn) OnCommit(fn func()) {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	t.g.onCommit = append(t.g.onCommit, fn)
}

func (t sysTxn) OnCancel(fn func()) {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	t.g.onCancel = append(t.g.onCancel, fn)
}

// reportLeaks logs groups that were never finished or cancelled.
func (s *Store) reportLeaks() int {
	leaked := 0
	s.groups.Range(func(id uint64, g *WriteGroup) bool {
		leaked++
		s.logger.Error("write group abandoned without Finish or Cancel", "group", id, "mode", g.mode, "site", g.site)
		return true
	})
	if leaked > 0 {
		s.metrics.IncCounter("write_groups_abandoned_total", nil, float64(leaked))
	}
	return leaked
}
