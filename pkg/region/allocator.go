// Package region allocates durable storage extents for persisted segments.
//
// Every region is a file named after its address. Addresses come from a
// counter kept in the engine's config area, so they are never reused and
// can serve as rangemap values and cache keys.
package region

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/zhangyunhao116/skipmap"
	"github.com/zhangyunhao116/skipset"

	"gendb/pkg/dberrors"
	"gendb/pkg/encoding/tuple"
	"gendb/pkg/record"
	"gendb/pkg/types"
)

const (
	dirName = "regions"
	fileExt = ".seg"
)

// NextAddressKey is the config-area key holding the next free address.
var NextAddressKey = record.NewKey(tuple.Reserved("config"), tuple.Str("region-next"))

// Txn is the part of a write group the allocator takes part in.
type Txn interface {
	Apply(p record.Pair) error
	// OnCommit runs fn once the txn's records are durable.
	OnCommit(fn func())
	// OnCancel runs fn if the txn never reached the log.
	OnCancel(fn func())
}

// Allocator hands out regions and reclaims them once a committed write
// group releases them and no snapshot pins them anymore.
type Allocator struct {
	dir      string
	capacity int64
	logger   *slog.Logger

	next atomic.Uint64
	used atomic.Int64

	// live regions, address to byte size
	sizes *skipmap.FuncMap[types.Address, int64]

	pinMu    sync.Mutex
	pins     int
	deferred *skipset.FuncSet[types.Address]
}

// Options tune an Allocator.
type Options struct {
	// Capacity bounds the total bytes of live regions. Zero means unbounded.
	Capacity int64
	Logger   *slog.Logger
}

func lessAddr(a, b types.Address) bool { return a < b }

// New opens the region directory under root and indexes existing regions.
func New(root string, opts Options) (*Allocator, error) {
	if root == "" {
		return nil, errors.Wrap(dberrors.ErrInvalidArgument, "empty region root")
	}
	dir := filepath.Join(filepath.Clean(root), dirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create region directory")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Allocator{
		dir:      dir,
		capacity: opts.Capacity,
		logger:   logger.With("component", "region"),
		sizes:    skipmap.NewFunc[types.Address, int64](lessAddr),
		deferred: skipset.NewFunc[types.Address](lessAddr),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list regions")
	}
	for _, e := range entries {
		addr, ok := parseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat region %d", addr)
		}
		a.sizes.Store(addr, info.Size())
		a.used.Add(info.Size())
	}

	return a, nil
}

func parseName(name string) (types.Address, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	addr, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}

func (a *Allocator) path(addr types.Address) string {
	return filepath.Join(a.dir, fmt.Sprintf("%d%s", addr, fileExt))
}

// Restore sets the address counter from the durable config area. It never
// moves the counter backwards.
func (a *Allocator) Restore(next types.Address) {
	for {
		cur := a.next.Load()
		if next <= cur || a.next.CompareAndSwap(cur, next) {
			return
		}
	}
}

// NextAddress is the address the next allocation will receive.
func (a *Allocator) NextAddress() types.Address { return a.next.Load() }

// Allocate reserves a new region and records the advanced address counter
// in txn. The region file is removed again if txn is cancelled.
func (a *Allocator) Allocate(txn Txn, sizeHint int64) (*Writer, error) {
	if a.capacity > 0 && a.used.Load()+sizeHint > a.capacity {
		return nil, dberrors.Allocationf("region capacity exhausted: %d used, %d requested, %d total",
			a.used.Load(), sizeHint, a.capacity)
	}

	addr := a.next.Add(1) - 1
	f, err := os.OpenFile(a.path(addr), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create region %d", addr), dberrors.ErrAllocation)
	}

	if err := txn.Apply(record.Pair{
		Key:    NextAddressKey,
		Update: record.Put(tuple.Encode(tuple.Int(int64(addr + 1)))),
	}); err != nil {
		_ = f.Close()
		a.remove(addr)
		return nil, err
	}

	w := &Writer{alloc: a, addr: addr, file: f}
	txn.OnCancel(func() {
		_ = w.Close()
		a.remove(addr)
	})
	return w, nil
}

// Open reads the whole region at addr.
func (a *Allocator) Open(addr types.Address) ([]byte, error) {
	data, err := os.ReadFile(a.path(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberrors.Corruptedf("region %d does not exist", addr)
		}
		return nil, errors.Wrapf(err, "failed to read region %d", addr)
	}
	return data, nil
}

// Release frees addr once txn is durably committed. While snapshots are pinned the
// deletion waits for the last pin to go.
func (a *Allocator) Release(txn Txn, addr types.Address) {
	txn.OnCommit(func() {
		a.pinMu.Lock()
		defer a.pinMu.Unlock()
		if a.pins > 0 {
			a.deferred.Add(addr)
			return
		}
		a.remove(addr)
	})
}

// Pin keeps released regions on disk until the returned func is called.
func (a *Allocator) Pin() func() {
	a.pinMu.Lock()
	a.pins++
	a.pinMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(a.unpin)
	}
}

func (a *Allocator) unpin() {
	a.pinMu.Lock()
	defer a.pinMu.Unlock()
	a.pins--
	if a.pins > 0 {
		return
	}
	a.deferred.Range(func(addr types.Address) bool {
		a.deferred.Remove(addr)
		a.remove(addr)
		return true
	})
}

// Sweep deletes regions for which live returns false. It runs on open,
// after replay, to drop regions of write groups that never committed.
func (a *Allocator) Sweep(live func(types.Address) bool) int {
	var orphans []types.Address
	a.sizes.Range(func(addr types.Address, _ int64) bool {
		if !live(addr) {
			orphans = append(orphans, addr)
		}
		return true
	})
	for _, addr := range orphans {
		a.logger.Warn("removing orphan region", "addr", addr)
		a.remove(addr)
	}
	return len(orphans)
}

func (a *Allocator) remove(addr types.Address) {
	if size, ok := a.sizes.LoadAndDelete(addr); ok {
		a.used.Add(-size)
	}
	if err := os.Remove(a.path(addr)); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove region", "addr", addr, "error", err)
	}
}

// Len is the number of live regions.
func (a *Allocator) Len() int { return a.sizes.Len() }

// Used is the total byte size of live regions.
func (a *Allocator) Used() int64 { return a.used.Load() }

// Deferred is the number of released regions waiting for pins to go.
func (a *Allocator) Deferred() int { return a.deferred.Len() }

// Writer is a writable region handle.
type Writer struct {
	alloc *Allocator
	addr  types.Address
	file  *os.File
	size  int64
}

func (w *Writer) Address() types.Address { return w.addr }

func (w *Writer) Write(p []byte) (int, error) {
	if w.file == nil {
		return 0, errors.Wrapf(dberrors.ErrClosed, "region %d", w.addr)
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "failed to write region %d", w.addr)
	}
	return n, nil
}

// Close syncs the region and makes its size visible to the allocator.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to sync region %d", w.addr)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close region %d", w.addr)
	}
	w.alloc.sizes.Store(w.addr, w.size)
	w.alloc.used.Add(w.size)
	return nil
}

// Size is the number of bytes written so far.
func (w *Writer) Size() int64 { return w.size }
