package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
	"gendb/pkg/wal"
)

// FlushWorkingSegment persists the oldest checkpoint segment into a new
// generation. When no checkpoint is pending the working segment is retired
// first. It reports whether anything was flushed.
func (s *Store) FlushWorkingSegment(ctx context.Context) (bool, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Store) flushLocked(ctx context.Context) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	logger := s.logger.With("component", "flush")
	start := time.Now()

	s.listMu.RLock()
	pending, empty := len(s.frozen) > 0, s.working.Len() == 0
	s.listMu.RUnlock()

	if !pending {
		if empty {
			return false, nil
		}
		if _, err := s.submit(wal.Entry{Cmd: wal.CmdCheckpointStart}, true); err != nil {
			return false, errors.Wrap(err, "failed to start checkpoint")
		}
	} else {
		logger.Info("resuming pending checkpoint")
	}

	s.listMu.RLock()
	cp := s.frozen[0]
	s.listMu.RUnlock()
	rows := cp.Len()

	g := s.newGroup(DiskAtomicFlush, 1)
	txn := sysTxn{g}

	var (
		gen      types.Generation
		allocGen bool
		blocks   int
	)
	w := segment.Writer{
		BlockSize:   s.opts.BlockSize,
		Compression: s.opts.Compression,
		Sink: func(block []byte, first, last record.Key, count int) error {
			if !allocGen {
				var err error
				if gen, err = s.rm.AllocNewGeneration(txn); err != nil {
					return err
				}
				allocGen = true
			}
			blocks++
			return s.persistBlock(txn, gen, block, first, last, count)
		},
	}

	written, err := w.WriteStream(cp.Stream())
	if err != nil {
		g.Cancel()
		return false, errors.Wrapf(err, "failed to write checkpoint segment %d", cp.ID())
	}
	if now := cp.Len(); now != rows {
		logger.Warn("checkpoint segment changed while flushing, updates may be lost",
			"segment", cp.ID(), "rows_at_start", rows, "rows_now", now)
		s.metrics.IncCounter("checkpoint_drift_total", nil, 1)
	}

	if err := g.command(wal.Entry{Cmd: wal.CmdCheckpointDrop}); err != nil {
		g.Cancel()
		return false, err
	}
	if err := g.Finish(ctx); err != nil {
		return false, errors.Wrap(err, "failed to commit checkpoint")
	}

	elapsed := time.Since(start)
	s.metrics.IncCounter("flushes_total", nil, 1)
	s.metrics.IncCounter("flush_rows_total", nil, float64(written))
	s.metrics.ObserveHistogram("flush_duration_seconds", nil, elapsed.Seconds())
	logger.Info("checkpoint persisted",
		"segment", cp.ID(),
		"generation", gen,
		"rows", written,
		"blocks", blocks,
		"duration", elapsed,
	)
	return true, nil
}

// persistBlock writes one block into a fresh region and maps it.
func (s *Store) persistBlock(txn sysTxn, gen types.Generation, block []byte, first, last record.Key, count int) error {
	rw, err := s.alloc.Allocate(txn, int64(len(block)))
	if err != nil {
		return err
	}
	if _, err := rw.Write(block); err != nil {
		_ = rw.Close()
		return err
	}
	if err := rw.Close(); err != nil {
		return err
	}
	return s.rm.MapGenerationToRegion(txn, gen, first, last, rangemap.Location{
		Address: rw.Address(),
		Size:    rw.Size(),
		Count:   count,
	})
}
