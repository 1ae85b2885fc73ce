// Package rangemap indexes persisted segments by (generation, key range).
//
// The authoritative index is a set of records in the engine's reserved
// keyspace. They are written through ordinary write groups and reach the
// Rangemap through Apply, both live and during log replay, which keeps an
// in-memory view of them for lookups.
package rangemap

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"gendb/pkg/dberrors"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
)

// Txn is the part of a write group the rangemap writes into.
type Txn interface {
	Apply(p record.Pair) error
}

// ChangeKind classifies what applying a reserved record did.
type ChangeKind uint8

const (
	ChangeNone ChangeKind = iota
	ChangeMapped
	ChangeUnmapped
	ChangeConfig
)

// Change describes the effect of one applied record.
type Change struct {
	Kind ChangeKind
	Desc segment.Descriptor
}

// Loader reads a region.
type Loader func(types.Address) ([]byte, error)

// Options tune a Rangemap.
type Options struct {
	CacheCapacity int
	BloomFPRate   float64
	Logger        *slog.Logger
}

type Rangemap struct {
	logger  *slog.Logger
	load    Loader
	bloomFP float64
	cache   *ReaderCache

	mu     sync.RWMutex
	view   *View
	addrs  map[types.Address]segment.Descriptor
	config map[string][]byte

	// generations handed out, durable or not
	allocated atomic.Uint64
}

func New(load Loader, opts Options) *Rangemap {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = 64
	}
	return &Rangemap{
		logger:  logger.With("component", "rangemap"),
		load:    load,
		bloomFP: opts.BloomFPRate,
		cache:   NewReaderCache(capacity),
		view:    newView(),
		addrs:   make(map[types.Address]segment.Descriptor),
		config:  make(map[string][]byte),
	}
}

// AllocNewGeneration reserves the next generation. It is younger than
// every generation handed out before and is never reused, even if txn is
// cancelled.
func (r *Rangemap) AllocNewGeneration(txn Txn) (types.Generation, error) {
	gen := r.allocated.Add(1) - 1
	if err := txn.Apply(record.Pair{Key: GenerationKey, Update: record.Put(EncodeCounter(gen + 1))}); err != nil {
		return 0, err
	}
	return gen, nil
}

// MapGenerationToRegion records that [start, end] of gen lives at loc.
func (r *Rangemap) MapGenerationToRegion(txn Txn, gen types.Generation, start, end record.Key, loc Location) error {
	if end.Less(start) {
		return errors.AssertionFailedf("rangemap: inverted range %s..%s", start, end)
	}
	return txn.Apply(record.Pair{
		Key:    SegmentKey(gen, start),
		Update: record.Put(encodeLocation(end, loc)),
	})
}

// UnmapSegment removes d's mapping.
func (r *Rangemap) UnmapSegment(txn Txn, d segment.Descriptor) error {
	return txn.Apply(record.Pair{Key: SegmentKey(d.Generation, d.Start), Update: record.Delete()})
}

// Apply folds committed reserved records into the view. The batch becomes
// visible to readers at once.
func (r *Rangemap) Apply(pairs ...record.Pair) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes := make([]Change, 0, len(pairs))
	for _, p := range pairs {
		c, err := r.applyLocked(p)
		if err != nil {
			return changes, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (r *Rangemap) applyLocked(p record.Pair) (Change, error) {
	switch {
	case p.Key.IsSubkeyOf(Prefix):
		if p.Update.Tombstone {
			kp, err := p.Key.Parts()
			if err != nil {
				return Change{}, err
			}
			if len(kp) != 3 {
				return Change{}, dberrors.Corruptedf("rangemap: malformed key %s", p.Key)
			}
			gen := types.Generation(kp[1].Int64)
			d, ok := r.view.find(gen, record.KeyFromBytes(kp[2].Bytes))
			if !ok {
				return Change{}, nil
			}
			r.view.remove(d)
			delete(r.addrs, d.Address)
			return Change{Kind: ChangeUnmapped, Desc: d}, nil
		}

		d, err := decodeSegment(p.Key, p.Update.Value)
		if err != nil {
			return Change{}, err
		}
		if old, ok := r.view.find(d.Generation, d.Start); ok {
			r.view.remove(old)
			delete(r.addrs, old.Address)
		}
		r.view.insert(d)
		r.addrs[d.Address] = d
		return Change{Kind: ChangeMapped, Desc: d}, nil

	case p.Key.IsSubkeyOf(ConfigPrefix):
		if p.Update.Tombstone {
			delete(r.config, p.Key.Encoded())
		} else {
			r.config[p.Key.Encoded()] = p.Update.Value
		}
		if p.Key.Equal(GenerationKey) && !p.Update.Tombstone {
			next, err := DecodeCounter(p.Update.Value)
			if err != nil {
				return Change{}, err
			}
			r.advanceAllocated(next)
		}
		return Change{Kind: ChangeConfig}, nil
	}
	return Change{}, nil
}

func (r *Rangemap) advanceAllocated(next uint64) {
	for {
		cur := r.allocated.Load()
		if next <= cur || r.allocated.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Config returns the value stored under a config-area key.
func (r *Rangemap) Config(k record.Key) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.config[k.Encoded()]
	return v, ok
}

// GenCount is the number of generations allocated so far.
func (r *Rangemap) GenCount() uint64 { return r.allocated.Load() }

// Read runs fn against the live view under the read lock.
func (r *Rangemap) Read(fn func(v *View)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.view)
}

// Snapshot returns a private copy of the current view.
func (r *Rangemap) Snapshot() *View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.Clone()
}

// IsMapped reports whether a live segment lives at addr.
func (r *Rangemap) IsMapped(addr types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.addrs[addr]
	return ok
}

// Contains reports whether d is still mapped.
func (r *Rangemap) Contains(d segment.Descriptor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.Has(d)
}

// Len is the number of mapped segments.
func (r *Rangemap) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.Len()
}

// Reader returns the decoded segment for d, through the reader cache.
func (r *Rangemap) Reader(d segment.Descriptor) (*segment.Reader, error) {
	if rd, ok := r.cache.Get(d.Address); ok {
		return rd, nil
	}
	block, err := r.load(d.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load segment %s", d)
	}
	rd, err := segment.Open(d, block, r.bloomFP)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode segment %s", d)
	}
	r.cache.Set(d.Address, rd)
	return rd, nil
}

// InvalidateCache drops cached readers of segments no longer mapped.
func (r *Rangemap) InvalidateCache() int {
	r.mu.RLock()
	live := make(map[types.Address]struct{}, len(r.addrs))
	for addr := range r.addrs {
		live[addr] = struct{}{}
	}
	r.mu.RUnlock()

	n := r.cache.Retain(func(addr types.Address) bool {
		_, ok := live[addr]
		return ok
	})
	if n > 0 {
		r.logger.Debug("evicted unmapped segment readers", "count", n)
	}
	return n
}

// Cache exposes the reader cache for stats.
func (r *Rangemap) Cache() *ReaderCache { return r.cache }
