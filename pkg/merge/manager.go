// Package merge schedules compactions. It tracks, for every persisted
// segment, the merges that segment could take part in and always exposes
// the cheapest one.
package merge

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/btree"

	"gendb/pkg/orderedmap"
	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
)

const (
	DefaultMaxFanout          = 8
	DefaultMaxHistogramFanout = 32
)

// ViewSource gives read access to the current segment index.
type ViewSource interface {
	Read(fn func(v *rangemap.View))
}

// KeySampler returns the keys stored in a segment.
type KeySampler interface {
	Keys(d segment.Descriptor) ([]record.Key, error)
}

// Options tune a Manager.
type Options struct {
	// MaxFanout bounds the targets taken from one older generation.
	MaxFanout int
	// MaxHistogramFanout bounds the targets of a histogram candidate.
	MaxHistogramFanout int
	Logger             *slog.Logger
}

type segState struct {
	// candidates produced by this segment's walk
	originated []*Candidate
	// candidates naming this segment as source or target
	refs map[*Candidate]struct{}
}

// Manager maintains the candidate set incrementally.
type Manager struct {
	source  ViewSource
	sampler KeySampler
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	segs  *orderedmap.Map[segment.Descriptor, *segState]
	cands *btree.BTreeG[*Candidate]
}

func NewManager(source ViewSource, sampler KeySampler, opts Options) *Manager {
	if opts.MaxFanout <= 0 {
		opts.MaxFanout = DefaultMaxFanout
	}
	if opts.MaxHistogramFanout < opts.MaxFanout {
		opts.MaxHistogramFanout = max(opts.MaxFanout, DefaultMaxHistogramFanout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:  source,
		sampler: sampler,
		opts:    opts,
		logger:  logger.With("component", "merge"),
		segs:    orderedmap.New[segment.Descriptor, *segState](segment.Descriptor.Compare),
		cands:   btree.NewG[*Candidate](8, (*Candidate).Less),
	}
}

// NotifyAddSegment registers a newly mapped segment, computes its
// candidates and recomputes those of newer segments overlapping it.
func (m *Manager) NotifyAddSegment(d segment.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state(d)
	m.source.Read(func(v *rangemap.View) {
		m.recompute(v, d)
		for _, gen := range v.Generations() {
			if gen <= d.Generation {
				break
			}
			for _, newer := range v.Overlapping(gen, d.Start, d.End) {
				m.state(newer)
				m.recompute(v, newer)
			}
		}
	})
}

// NotifyRemoveSegment forgets a segment and every candidate naming it.
func (m *Manager) NotifyRemoveSegment(d segment.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.segs.Get(d)
	if !ok {
		return
	}
	for _, c := range slices.Clone(st.originated) {
		m.drop(c)
	}
	for c := range st.refs {
		m.drop(c)
	}
	m.segs.Delete(d)
}

// Rebuild recomputes every candidate from the current index. Used after
// log replay instead of replaying each notification.
func (m *Manager) Rebuild() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segs = orderedmap.New[segment.Descriptor, *segState](segment.Descriptor.Compare)
	m.cands.Clear(false)

	m.source.Read(func(v *rangemap.View) {
		all := v.All()
		for _, d := range all {
			m.state(d)
		}
		for _, d := range all {
			m.recompute(v, d)
		}
	})
}

// GetBestCandidate returns the minimum candidate.
func (m *Manager) GetBestCandidate() (*Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cands.Min()
}

// NumberOfCandidates is the size of the candidate set.
func (m *Manager) NumberOfCandidates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cands.Len()
}

// Candidates returns every candidate, best first.
func (m *Manager) Candidates() []*Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Candidate, 0, m.cands.Len())
	m.cands.Ascend(func(c *Candidate) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Segments is the number of tracked segments.
func (m *Manager) Segments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segs.Len()
}

func (m *Manager) state(d segment.Descriptor) *segState {
	if st, ok := m.segs.Get(d); ok {
		return st
	}
	st := &segState{refs: make(map[*Candidate]struct{})}
	m.segs.Set(d, st)
	return st
}

// recompute replaces the candidates originated by d.
func (m *Manager) recompute(v *rangemap.View, d segment.Descriptor) {
	st := m.state(d)
	for _, c := range slices.Clone(st.originated) {
		m.drop(c)
	}
	st.originated = nil

	for _, c := range m.walk(v, d) {
		m.add(st, c)
	}
}

// walk proposes merging d, level by level, into the older generations
// beneath its range. Every level's targets join the sources of the next
// level and widen the range the next level is matched against.
func (m *Manager) walk(v *rangemap.View, d segment.Descriptor) []*Candidate {
	var (
		out     []*Candidate
		sources = []segment.Descriptor{d}
		lo, hi  = d.Start, d.End
	)
	for _, gen := range v.Generations() {
		if gen >= d.Generation {
			continue
		}
		targets := v.Overlapping(gen, lo, hi)
		if len(targets) == 0 {
			continue
		}
		if len(targets) > m.opts.MaxFanout {
			if len(out) == 0 {
				if c := m.histogram(v, d, gen); c != nil {
					out = append(out, c)
				}
			}
			break
		}

		out = append(out, newCandidate(d, sources, targets, false))

		sources = append(sources, targets...)
		if first := targets[0].Start; first.Less(lo) {
			lo = first
		}
		if last := targets[len(targets)-1].End; hi.Less(last) {
			hi = last
		}
	}
	return out
}

// histogram narrows a too-wide target level down to the segments of gen
// that actually hold one of d's keys.
func (m *Manager) histogram(v *rangemap.View, d segment.Descriptor, gen types.Generation) *Candidate {
	if m.sampler == nil {
		return nil
	}
	keys, err := m.sampler.Keys(d)
	if err != nil {
		m.logger.Warn("failed to sample segment keys", "segment", d, "error", err)
		return nil
	}

	var targets []segment.Descriptor
	for _, k := range keys {
		t, ok := v.SegmentAt(gen, k)
		if !ok {
			continue
		}
		if n := len(targets); n == 0 || targets[n-1].Compare(t) != 0 {
			targets = append(targets, t)
		}
		if len(targets) > m.opts.MaxHistogramFanout {
			return nil
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return newCandidate(d, []segment.Descriptor{d}, targets, true)
}

func (m *Manager) add(origin *segState, c *Candidate) {
	if _, dup := m.cands.ReplaceOrInsert(c); dup {
		m.logger.Warn("duplicate merge candidate", "candidate", c)
	}
	origin.originated = append(origin.originated, c)
	for _, d := range c.Sources {
		m.state(d).refs[c] = struct{}{}
	}
	for _, d := range c.Targets {
		m.state(d).refs[c] = struct{}{}
	}
}

func (m *Manager) drop(c *Candidate) {
	m.cands.Delete(c)
	for _, d := range c.Sources {
		if st, ok := m.segs.Get(d); ok {
			delete(st.refs, c)
		}
	}
	for _, d := range c.Targets {
		if st, ok := m.segs.Get(d); ok {
			delete(st.refs, c)
		}
	}
	if st, ok := m.segs.Get(c.origin); ok {
		for i, o := range st.originated {
			if o == c {
				st.originated = append(st.originated[:i], st.originated[i+1:]...)
				break
			}
		}
	}
}
