// Package store is the engine façade. It owns the working segment and the
// frozen segments awaiting persistence, runs write groups through the log
// receiver, persists checkpoints, executes merges and serves the layered
// read path.
package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/zhangyunhao116/skipmap"

	"gendb/pkg/clock"
	"gendb/pkg/dberrors"
	"gendb/pkg/merge"
	"gendb/pkg/metrics"
	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/region"
	"gendb/pkg/segment"
	"gendb/pkg/types"
	"gendb/pkg/wal"
)

const (
	stateRecovering int32 = iota
	stateOpen
	stateFailed
	stateClosed
)

type Store struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Registry
	dataDir string

	jr     *wal.WAL
	alloc  *region.Allocator
	rm     *rangemap.Rangemap
	merges *merge.Manager

	groupIDs *clock.AtomicClock
	// open write groups, for leak reporting on Close
	groups *skipmap.FuncMap[uint64, *WriteGroup]

	// applyMu makes log order equal apply order
	applyMu sync.Mutex
	// listMu guards working and frozen; readers hold it for a whole lookup
	listMu  sync.RWMutex
	working *segment.Builder
	// oldest first
	frozen []*segment.Builder

	// serializes flushes and merges
	maintMu sync.Mutex
	maint   *maintainer
	// commit hooks waiting for the log to become durable
	hooks sync.WaitGroup

	state      atomic.Int32
	failure    atomic.Pointer[failureCause]
	instanceID string
	closeOnce  sync.Once
}

// New opens the store in dataDir, replaying its log.
func New(dataDir string, opts Options) (*Store, error) {
	opts.normalize()
	dataDir = filepath.Clean(dataDir)

	journal, err := wal.New(filepath.Join(dataDir, "wal"), opts.WAL)
	if err != nil {
		return nil, err
	}
	alloc, err := region.New(dataDir, region.Options{Capacity: opts.RegionCapacity, Logger: opts.Logger})
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	s := &Store{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		dataDir:  dataDir,
		jr:       journal,
		alloc:    alloc,
		groupIDs: clock.NewAtomic(0),
		groups:   skipmap.NewFunc[uint64, *WriteGroup](func(a, b uint64) bool { return a < b }),
		working:  segment.NewBuilder(),
	}
	s.rm = rangemap.New(alloc.Open, rangemap.Options{
		CacheCapacity: opts.CacheCapacity,
		BloomFPRate:   opts.BloomFPRate,
		Logger:        opts.Logger,
	})
	s.merges = merge.NewManager(s.rm, keySampler{rm: s.rm}, opts.Merge)
	s.state.Store(stateRecovering)

	if err := s.recover(); err != nil {
		_ = journal.Close()
		return nil, errors.Wrap(err, "failed to recover store")
	}

	ctx := context.Background()
	s.jr.Start(ctx)
	s.state.Store(stateOpen)

	if err := s.ensureInstanceID(ctx); err != nil {
		s.jr.Stop()
		_ = journal.Close()
		return nil, err
	}

	if opts.Maintenance.Enabled {
		s.startMaintenance(ctx)
	}
	return s, nil
}

// recover replays the whole log through the receiver.
func (s *Store) recover() error {
	logger := s.logger.With("component", "recovery")
	start := time.Now()

	records := 0
	err := s.jr.Replay(0, func(e wal.Entry) error {
		records++
		_, err := s.HandleCommand(e)
		return err
	})
	if err != nil {
		return err
	}

	if v, ok := s.rm.Config(region.NextAddressKey); ok {
		next, err := rangemap.DecodeCounter(v)
		if err != nil {
			return errors.Wrap(err, "failed to decode region counter")
		}
		s.alloc.Restore(next)
	}
	swept := s.alloc.Sweep(s.rm.IsMapped)
	s.merges.Rebuild()

	s.listMu.RLock()
	workingRows, pending := s.working.Len(), len(s.frozen)
	s.listMu.RUnlock()

	logger.Info("store recovered",
		"records", records,
		"working_rows", workingRows,
		"pending_checkpoints", pending,
		"segments", s.rm.Len(),
		"generations", s.rm.GenCount(),
		"orphan_regions", swept,
		"duration", time.Since(start),
	)
	return nil
}

func (s *Store) ensureInstanceID(ctx context.Context) error {
	if v, ok := s.rm.Config(rangemap.InstanceIDKey); ok {
		s.instanceID = string(v)
		return nil
	}

	id := uuid.NewString()
	g := s.newGroup(DiskAtomicFlush, 1)
	if err := (sysTxn{g}).Apply(record.Pair{Key: rangemap.InstanceIDKey, Update: record.Put([]byte(id))}); err != nil {
		g.Cancel()
		return err
	}
	if err := g.Finish(ctx); err != nil {
		return errors.Wrap(err, "failed to persist instance id")
	}
	s.instanceID = id
	return nil
}

// Metrics is the registry the store reports into.
func (s *Store) Metrics() *metrics.Registry { return s.metrics }

// InstanceID identifies this store's data directory.
func (s *Store) InstanceID() string { return s.instanceID }

func (s *Store) writable() error {
	switch s.state.Load() {
	case stateOpen:
		return nil
	case stateRecovering:
		return errors.Wrap(dberrors.ErrInvalidState, "store is recovering")
	case stateFailed:
		if cause := s.failure.Load(); cause != nil {
			return errors.Wrapf(dberrors.ErrInvalidState, "store failed: %v", cause.err)
		}
		return errors.Wrap(dberrors.ErrInvalidState, "store failed")
	default:
		return dberrors.ErrClosed
	}
}

type failureCause struct{ err error }

func (s *Store) fail(err error) {
	s.failure.CompareAndSwap(nil, &failureCause{err: err})
	if s.state.CompareAndSwap(stateOpen, stateFailed) {
		s.logger.Error("store entered failed state", "error", err)
	}
}

// submit logs cmd if asked and applies it through the receiver.
func (s *Store) submit(cmd wal.Entry, logged bool) (types.SeqN, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}

	s.applyMu.Lock()
	if logged {
		seq, err := s.jr.Append(cmd.Cmd, cmd.Payload)
		if err != nil {
			s.applyMu.Unlock()
			return 0, err
		}
		cmd.Seq = seq
	}
	changes, err := s.HandleCommand(cmd)
	s.applyMu.Unlock()

	if err != nil {
		// the command may already be in the log; the in-memory state no
		// longer matches it
		s.fail(err)
		return cmd.Seq, err
	}
	s.observeChanges(changes)
	return cmd.Seq, nil
}

// HandleCommand applies one log command. Live writes and replay both come
// through here, so the working segment is always the replay of every
// update seen so far.
func (s *Store) HandleCommand(e wal.Entry) ([]rangemap.Change, error) {
	switch e.Cmd {
	case wal.CmdUpdate:
		p, _, err := record.DecodePair(e.Payload)
		if err != nil {
			return nil, err
		}
		if !p.Key.IsReserved() {
			s.listMu.RLock()
			s.working.Set(p.Key, p.Update)
			s.listMu.RUnlock()
			return nil, nil
		}
		s.listMu.Lock()
		defer s.listMu.Unlock()
		return s.applyLocked(e)

	case wal.CmdCheckpointStart, wal.CmdCheckpointDrop:
		s.listMu.Lock()
		defer s.listMu.Unlock()
		return s.applyLocked(e)

	case wal.CmdPacket:
		cmds, err := wal.DecodePacket(e.Seq, e.Payload)
		if err != nil {
			return nil, err
		}
		s.listMu.Lock()
		defer s.listMu.Unlock()

		var changes []rangemap.Change
		for _, c := range cmds {
			ch, err := s.applyLocked(c)
			if err != nil {
				return changes, err
			}
			changes = append(changes, ch...)
		}
		return changes, nil

	default:
		return nil, dberrors.Corruptedf("unknown log command %s at seq %d", e.Cmd, e.Seq)
	}
}

// applyLocked applies a non-packet command with listMu held for writing.
func (s *Store) applyLocked(e wal.Entry) ([]rangemap.Change, error) {
	switch e.Cmd {
	case wal.CmdUpdate:
		p, _, err := record.DecodePair(e.Payload)
		if err != nil {
			return nil, err
		}
		var changes []rangemap.Change
		if p.Key.IsReserved() {
			if changes, err = s.rm.Apply(p); err != nil {
				return nil, err
			}
		}
		s.working.Set(p.Key, p.Update)
		return changes, nil

	case wal.CmdCheckpointStart:
		s.frozen = append(s.frozen, s.working)
		s.working = segment.NewBuilder()
		return nil, nil

	case wal.CmdCheckpointDrop:
		if len(s.frozen) == 0 {
			return nil, dberrors.Invariantf("checkpoint drop at seq %d without a checkpoint segment", e.Seq)
		}
		s.frozen[0] = nil
		s.frozen = s.frozen[1:]
		return nil, nil

	default:
		return nil, dberrors.Corruptedf("unexpected log command %s at seq %d", e.Cmd, e.Seq)
	}
}

// observeChanges feeds committed index changes to the merge manager and
// drops cached readers of unmapped segments.
func (s *Store) observeChanges(changes []rangemap.Change) {
	if s.state.Load() == stateRecovering {
		return
	}
	touched := false
	for _, c := range changes {
		if c.Kind == rangemap.ChangeUnmapped {
			s.merges.NotifyRemoveSegment(c.Desc)
			touched = true
		}
	}
	for _, c := range changes {
		if c.Kind == rangemap.ChangeMapped {
			s.merges.NotifyAddSegment(c.Desc)
			touched = true
		}
	}
	if touched {
		s.rm.InvalidateCache()
		s.metrics.SetGauge("segments", nil, float64(s.rm.Len()))
		s.metrics.SetGauge("merge_candidates", nil, float64(s.merges.NumberOfCandidates()))
	}
}

// Set writes one key in the default mode.
func (s *Store) Set(ctx context.Context, k record.Key, value []byte) error {
	g, err := s.NewWriteGroup()
	if err != nil {
		return err
	}
	if err := g.Set(k, value); err != nil {
		g.Cancel()
		return err
	}
	return g.Finish(ctx)
}

// Delete writes one tombstone in the default mode.
func (s *Store) Delete(ctx context.Context, k record.Key) error {
	g, err := s.NewWriteGroup()
	if err != nil {
		return err
	}
	if err := g.Delete(k); err != nil {
		g.Cancel()
		return err
	}
	return g.Finish(ctx)
}

func (s *Store) PutString(key, value string) error {
	return s.Set(context.Background(), record.StringKey(key), []byte(value))
}

func (s *Store) GetString(key string) (string, bool, error) {
	d, err := s.GetRecord(record.StringKey(key))
	if err != nil || !d.Found() {
		return "", false, err
	}
	return string(d.Value), true, nil
}

func (s *Store) DeleteString(key string) error {
	return s.Delete(context.Background(), record.StringKey(key))
}

// Close stops maintenance, reports abandoned write groups and closes the
// log. It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopMaintenance()
		s.state.Store(stateClosed)
		s.reportLeaks()
		s.jr.Stop()
		err = s.jr.Close()
		s.hooks.Wait()
	})
	return err
}

type keySampler struct {
	rm *rangemap.Rangemap
}

func (k keySampler) Keys(d segment.Descriptor) ([]record.Key, error) {
	r, err := k.rm.Reader(d)
	if err != nil {
		return nil, err
	}
	return r.Keys(), nil
}
