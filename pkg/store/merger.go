package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"gendb/pkg/dberrors"
	"gendb/pkg/merge"
	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/segment"
)

// Compact executes the best merge candidate if its ratio is within the
// configured threshold. It reports whether a merge ran.
func (s *Store) Compact(ctx context.Context) (bool, error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()
	return s.compactLocked(ctx)
}

func (s *Store) compactLocked(ctx context.Context) (bool, error) {
	c, ok := s.merges.GetBestCandidate()
	if !ok {
		return false, nil
	}
	if c.Ratio() > s.opts.MergeRatioThreshold {
		return false, nil
	}

	err := s.mergeLocked(ctx, c)
	if errors.Is(err, dberrors.ErrStaleCandidate) {
		s.logger.Warn("dropping stale merge candidates", "component", "merge", "candidate", c, "error", err)
		s.merges.Rebuild()
		return false, nil
	}
	return err == nil, err
}

// ExecuteMerge rewrites the inputs of c into its output generation.
func (s *Store) ExecuteMerge(ctx context.Context, c *merge.Candidate) error {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()
	return s.mergeLocked(ctx, c)
}

func (s *Store) mergeLocked(ctx context.Context, c *merge.Candidate) error {
	if err := s.writable(); err != nil {
		return err
	}
	logger := s.logger.With("component", "merge")
	start := time.Now()

	inputs := c.Inputs()
	out := c.OutputGeneration()
	lo, hi := inputs[0].Start, inputs[0].End
	for _, d := range inputs {
		if !s.rm.Contains(d) {
			return errors.Wrapf(dberrors.ErrStaleCandidate, "segment %s", d)
		}
		if d.Start.Less(lo) {
			lo = d.Start
		}
		if hi.Less(d.End) {
			hi = d.End
		}
	}

	var (
		fences         []record.Key
		dropTombstones = true
	)
	s.rm.Read(func(v *rangemap.View) {
		for _, d := range v.Overlapping(out, lo, hi) {
			if !participates(inputs, d) {
				fences = append(fences, d.Start)
			}
		}
		for _, gen := range v.Generations() {
			if gen < out && len(v.Overlapping(gen, lo, hi)) > 0 {
				dropTombstones = false
				break
			}
		}
	})

	streams := make([]segment.Stream, len(inputs))
	for i, d := range inputs {
		r, err := s.rm.Reader(d)
		if err != nil {
			return err
		}
		streams[i] = r.Stream()
	}
	var src segment.Stream = segment.Merge(streams...)
	if dropTombstones {
		src = segment.Filter(src, func(p record.Pair) bool { return !p.Update.Tombstone })
	}

	g := s.newGroup(DiskAtomicFlush, 1)
	txn := sysTxn{g}

	// unmaps go first: an output block may reuse an input's (gen, start) key
	for _, d := range inputs {
		if err := s.rm.UnmapSegment(txn, d); err != nil {
			g.Cancel()
			return err
		}
		s.alloc.Release(txn, d.Address)
	}

	blocks := 0
	w := segment.Writer{
		BlockSize:   s.opts.BlockSize,
		Compression: s.opts.Compression,
		SplitBefore: func(prev, next record.Key) bool {
			for _, f := range fences {
				if prev.Less(f) && f.Compare(next) <= 0 {
					return true
				}
			}
			return false
		},
		Sink: func(block []byte, first, last record.Key, count int) error {
			blocks++
			return s.persistBlock(txn, out, block, first, last, count)
		},
	}
	written, err := w.WriteStream(src)
	if err != nil {
		g.Cancel()
		return errors.Wrapf(err, "failed to merge %s", c)
	}
	if err := g.Finish(ctx); err != nil {
		return errors.Wrapf(err, "failed to commit merge %s", c)
	}

	elapsed := time.Since(start)
	s.metrics.IncCounter("merges_total", nil, 1)
	s.metrics.IncCounter("merge_rows_total", nil, float64(written))
	s.metrics.ObserveHistogram("merge_duration_seconds", nil, elapsed.Seconds())
	logger.Info("merge committed",
		"inputs", segment.FormatList(inputs),
		"generation", out,
		"rows", written,
		"blocks", blocks,
		"tombstones_dropped", dropTombstones,
		"duration", elapsed,
	)
	return nil
}

func participates(inputs []segment.Descriptor, d segment.Descriptor) bool {
	for _, in := range inputs {
		if in.Compare(d) == 0 {
			return true
		}
	}
	return false
}
