package store

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// maintainer drives background flushes and merges. It is stopped by
// cancelling its context and joining its goroutine.
type maintainer struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures int
}

func (s *Store) startMaintenance(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m := &maintainer{cancel: cancel}
	s.maint = m

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.maintain(ctx, m)
	}()
}

func (s *Store) stopMaintenance() {
	if s.maint == nil {
		return
	}
	s.maint.cancel()
	s.maint.wg.Wait()
	s.maint = nil
}

func (s *Store) maintain(ctx context.Context, m *maintainer) {
	logger := s.logger.With("component", "maintenance")
	opts := s.opts.Maintenance

	timer := time.NewTimer(opts.PollInterval)
	defer timer.Stop()

	logger.Info("maintenance started", "poll_interval", opts.PollInterval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance stopped")
			return
		case <-timer.C:
		}

		merged, err := s.MaintenanceRound(ctx)
		next := opts.PollInterval
		switch {
		case err != nil && ctx.Err() != nil:
			logger.Info("maintenance stopped")
			return
		case err != nil:
			m.failures++
			s.metrics.IncCounter("maintenance_failures_total", nil, 1)
			logger.Error("maintenance round failed", "error", err, "consecutive_failures", m.failures)
			if m.failures >= opts.MaxFailures {
				s.fail(errors.Wrapf(err, "maintenance gave up after %d consecutive failures", m.failures))
				return
			}
			next += opts.Backoff * time.Duration(m.failures)
		default:
			m.failures = 0
			if merged {
				next = opts.MergeInterval
			}
		}
		timer.Reset(next)
	}
}

// MaintenanceRound flushes when the working segment crossed a threshold
// or a checkpoint is pending, then runs at most one merge.
func (s *Store) MaintenanceRound(ctx context.Context) (merged bool, err error) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	if s.needsFlush() {
		if _, err := s.flushLocked(ctx); err != nil {
			return false, err
		}
	}
	return s.compactLocked(ctx)
}

func (s *Store) needsFlush() bool {
	opts := s.opts.Maintenance

	s.listMu.RLock()
	defer s.listMu.RUnlock()
	switch {
	case len(s.frozen) > 0:
		return true
	case opts.FlushRows > 0 && s.working.Len() >= opts.FlushRows:
		return true
	case opts.FlushBytes > 0 && s.working.Size() >= opts.FlushBytes:
		return true
	}
	return false
}
