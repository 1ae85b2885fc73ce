// Package wal implements the engine's write-ahead log: an append-only file
// of checksummed command records with group commit.
package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"gendb/pkg/dberrors"
	"gendb/pkg/listener"
	"gendb/pkg/metrics"
	"gendb/pkg/types"
)

const (
	fileName     = "wal.log"
	headerSize   = 8 + 1 + 4
	checksumSize = 8

	defaultBufferSize = 64 << 10
	maxPayloadSize    = 1 << 30
)

// Options tune a WAL.
type Options struct {
	// BufferSize of the in-process write buffer.
	BufferSize int
	// SyncInterval, when positive, syncs buffered records periodically even
	// if nobody waits for them.
	SyncInterval time.Duration
	Logger       *slog.Logger
	// Metrics receives sync counters; nil discards them.
	Metrics metrics.Collector
}

// WAL is the write-ahead log. Appends go to a buffer; a background syncer
// flushes and fsyncs it and publishes the durable sequence number.
type WAL struct {
	*listener.Listener[struct{}]

	logger   *slog.Logger
	metrics  metrics.Collector
	filePath string
	interval time.Duration

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	size     int64
	next     types.SeqN
	appended types.SeqN
	closed   bool

	// serializes fsyncs with Close
	syncMu sync.Mutex
	syncCh chan struct{}

	durMu   sync.Mutex
	durable types.SeqN
	durCh   chan struct{}
	syncErr error
	started bool

	stopTicker func()
	tickerWG   sync.WaitGroup
}

// New opens the log in dir, truncating a torn tail left by a crash.
func New(dir string, opts Options) (*WAL, error) {
	if dir == "" {
		return nil, errors.Wrap(dberrors.ErrInvalidArgument, "empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create WAL directory")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	w := &WAL{
		logger:     logger.With("component", "wal"),
		metrics:    collector,
		filePath:   filepath.Join(dir, fileName),
		interval:   opts.SyncInterval,
		syncCh:     make(chan struct{}, 1),
		durCh:      make(chan struct{}),
		stopTicker: func() {},
	}

	last, size, err := w.recover()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open WAL file")
	}

	w.file = file
	w.writer = bufio.NewWriterSize(file, bufSize)
	w.size = size
	w.next = last + 1
	w.appended = last
	w.durable = last

	w.Listener = listener.New(w.syncCh, func(struct{}) error {
		return w.Sync()
	}, listener.WithErrorHandler[struct{}](func(err error) {
		w.logger.Error("failed to sync WAL", "error", err)
	}))

	return w, nil
}

// recover validates the file and cuts it after the last intact record.
func (w *WAL) recover() (types.SeqN, int64, error) {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to open WAL for recovery")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("failed to close WAL recovery file", "error", cerr)
		}
	}()

	var (
		last types.SeqN
		off  int64
	)
	reader := bufio.NewReader(file)
	for {
		e, n, err := readEntry(reader)
		if errors.Is(err, io.EOF) {
			return last, off, nil
		}
		if err == nil && last != 0 && e.Seq != last+1 {
			err = dberrors.Corruptedf("wal: seq %d follows %d", e.Seq, last)
		}
		if err != nil {
			w.logger.Warn("truncating torn WAL tail", "offset", off, "last_seq", last, "error", err)
			if terr := file.Truncate(off); terr != nil {
				return 0, 0, errors.Wrap(terr, "failed to truncate WAL tail")
			}
			if serr := file.Sync(); serr != nil {
				return 0, 0, errors.Wrap(serr, "failed to sync truncated WAL")
			}
			return last, off, nil
		}
		off += int64(n)
		last = e.Seq
	}
}

// Start runs the background syncer and, if configured, the sync ticker.
func (w *WAL) Start(ctx context.Context) {
	w.durMu.Lock()
	w.started = true
	w.durMu.Unlock()

	w.Listener.Start(ctx)

	if w.interval <= 0 {
		return
	}
	ctx, w.stopTicker = context.WithCancel(ctx)
	w.tickerWG.Add(1)
	go func() {
		defer w.tickerWG.Done()
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.RequestSync()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background goroutines. Buffered records stay buffered
// until Close or Sync.
func (w *WAL) Stop() {
	w.stopTicker()
	w.tickerWG.Wait()
	w.Listener.Stop()

	w.durMu.Lock()
	w.started = false
	w.durMu.Unlock()
}

// Append buffers a record and returns its sequence number. The record is
// durable once WaitDurable for that number returns.
func (w *WAL) Append(cmd Command, payload []byte) (types.SeqN, error) {
	if len(payload) > maxPayloadSize {
		return 0, errors.Wrapf(dberrors.ErrInvalidArgument, "WAL payload too large: %d", len(payload))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, dberrors.ErrClosed
	}

	seq := w.next
	n, err := writeEntry(w.writer, Entry{Seq: seq, Cmd: cmd, Payload: payload})
	if err != nil {
		return 0, errors.Wrap(err, "failed to write WAL entry")
	}
	w.size += int64(n)
	w.next++
	w.appended = seq
	return seq, nil
}

// LastSeq is the sequence number of the last appended record.
func (w *WAL) LastSeq() types.SeqN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// DurableSeq is the highest sequence number known to be on stable storage.
func (w *WAL) DurableSeq() types.SeqN {
	w.durMu.Lock()
	defer w.durMu.Unlock()
	return w.durable
}

// Size is the log size in bytes, buffered records included.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// RequestSync asks the syncer for a flush without waiting for it.
func (w *WAL) RequestSync() {
	w.durMu.Lock()
	started := w.started
	w.durMu.Unlock()

	if !started {
		if err := w.Sync(); err != nil {
			w.logger.Error("failed to sync WAL", "error", err)
		}
		return
	}
	select {
	case w.syncCh <- struct{}{}:
	default:
		// a sync is already queued and will cover this record
	}
}

// Sync flushes the buffer, fsyncs and publishes the durable sequence.
func (w *WAL) Sync() error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return dberrors.ErrClosed
	}
	upTo := w.appended
	start := time.Now()
	err := w.writer.Flush()
	file := w.file
	w.mu.Unlock()

	if err == nil {
		err = file.Sync()
	}
	if err != nil {
		w.metrics.IncCounter("wal_sync_errors_total", nil, 1)
		err = errors.Wrap(err, "failed to sync WAL")
	} else {
		w.metrics.IncCounter("wal_syncs_total", nil, 1)
		w.metrics.ObserveHistogram("wal_sync_duration_seconds", nil, time.Since(start).Seconds())
	}
	w.publish(upTo, err)
	return err
}

func (w *WAL) publish(seq types.SeqN, err error) {
	w.durMu.Lock()
	defer w.durMu.Unlock()

	if err != nil && w.syncErr == nil {
		w.syncErr = err
	} else if err == nil && seq > w.durable {
		w.durable = seq
	} else {
		return
	}
	close(w.durCh)
	w.durCh = make(chan struct{})
}

// WaitDurable blocks until every record up to seq is durable.
func (w *WAL) WaitDurable(ctx context.Context, seq types.SeqN) error {
	for {
		w.durMu.Lock()
		durable, ch, syncErr := w.durable, w.durCh, w.syncErr
		w.durMu.Unlock()

		if durable >= seq {
			return nil
		}
		if syncErr != nil {
			return syncErr
		}
		if w.isClosed() {
			return dberrors.ErrClosed
		}

		w.RequestSync()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *WAL) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Replay calls fn for every record with seq >= start, in file order.
func (w *WAL) Replay(start types.SeqN, fn func(Entry) error) error {
	return w.read(func(e Entry) (bool, error) {
		if e.Seq < start {
			return true, nil
		}
		if err := fn(e); err != nil {
			return false, errors.Wrap(err, "WAL replay callback failed")
		}
		return true, nil
	})
}

// ReadRange calls fn for every record from seq from on. It fails with a
// LogGapError when the first record it finds is not from.
func (w *WAL) ReadRange(from types.SeqN, fn func(Entry) error) error {
	first := true
	err := w.read(func(e Entry) (bool, error) {
		if e.Seq < from {
			return true, nil
		}
		if first && e.Seq != from {
			return false, dberrors.NewLogGap(from, e.Seq)
		}
		first = false
		return true, fn(e)
	})
	if err != nil {
		return err
	}
	// nothing at or after from: only from == next is a clean empty read
	if next := w.LastSeq() + 1; first && from > next {
		return dberrors.NewLogGap(from, next)
	}
	return nil
}

// read flushes the buffer and scans the file up to its current end.
func (w *WAL) read(visit func(Entry) (bool, error)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return dberrors.ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return errors.Wrap(err, "failed to flush WAL before read")
	}
	size := w.size
	w.mu.Unlock()

	file, err := os.Open(w.filePath)
	if err != nil {
		return errors.Wrap(err, "failed to open WAL for reading")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(io.LimitReader(file, size))
	for {
		e, _, err := readEntry(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read WAL entry")
		}
		more, err := visit(e)
		if err != nil || !more {
			return err
		}
	}
}

// Close syncs outstanding records and closes the file. Stop the syncer
// before closing.
func (w *WAL) Close() error {
	syncErr := w.Sync()
	if errors.Is(syncErr, dberrors.ErrClosed) {
		return nil
	}

	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	err := w.file.Close()

	// wake waiters so they observe the closed log
	w.durMu.Lock()
	close(w.durCh)
	w.durCh = make(chan struct{})
	w.durMu.Unlock()

	if syncErr != nil {
		return syncErr
	}
	if err != nil {
		return errors.Wrap(err, "failed to close WAL file")
	}
	return nil
}

// writeEntry frames e as seq | cmd | len | payload | xxh3.
func writeEntry(wr io.Writer, e Entry) (int, error) {
	rec := make([]byte, 0, headerSize+len(e.Payload)+checksumSize)
	rec = binary.LittleEndian.AppendUint64(rec, e.Seq)
	rec = append(rec, byte(e.Cmd))
	rec = binary.LittleEndian.AppendUint32(rec, uint32(len(e.Payload)))
	rec = append(rec, e.Payload...)
	rec = binary.LittleEndian.AppendUint64(rec, xxh3.Hash(rec))
	return wr.Write(rec)
}

// readEntry returns io.EOF only at a clean record boundary.
func readEntry(r io.Reader) (Entry, int, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, 0, io.EOF
		}
		return Entry{}, 0, errors.Wrap(err, "wal: torn header")
	}

	size := binary.LittleEndian.Uint32(header[9:13])
	if size > maxPayloadSize {
		return Entry{}, 0, dberrors.Corruptedf("wal: record of %d bytes", size)
	}
	body := make([]byte, int(size)+checksumSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Entry{}, 0, errors.Wrap(err, "wal: torn record")
	}

	payload := body[:size]
	want := binary.LittleEndian.Uint64(body[size:])
	h := xxh3.New()
	_, _ = h.Write(header[:])
	_, _ = h.Write(payload)
	if got := h.Sum64(); got != want {
		return Entry{}, 0, dberrors.Corruptedf("wal: checksum mismatch: %x != %x", got, want)
	}

	e := Entry{
		Seq:     binary.LittleEndian.Uint64(header[0:8]),
		Cmd:     Command(header[8]),
		Payload: payload,
	}
	return e, headerSize + len(body), nil
}
