package segment

import (
	"container/heap"

	"gendb/pkg/dberrors"
	"gendb/pkg/record"
)

// Stream is an ascending sequence of pairs.
type Stream interface {
	Next() bool
	Pair() record.Pair
	Err() error
}

type sliceStream struct {
	pairs []record.Pair
	pos   int
}

// NewSliceStream streams an already sorted slice.
func NewSliceStream(pairs []record.Pair) Stream {
	return &sliceStream{pairs: pairs, pos: -1}
}

func (s *sliceStream) Next() bool {
	s.pos++
	return s.pos < len(s.pairs)
}

func (s *sliceStream) Pair() record.Pair { return s.pairs[s.pos] }

func (s *sliceStream) Err() error { return nil }

type filterStream struct {
	Stream
	keep func(record.Pair) bool
}

// Filter drops pairs keep returns false for.
func Filter(s Stream, keep func(record.Pair) bool) Stream {
	return &filterStream{Stream: s, keep: keep}
}

func (f *filterStream) Next() bool {
	for f.Stream.Next() {
		if f.keep(f.Stream.Pair()) {
			return true
		}
	}
	return false
}

// Merging merges ascending streams into one ascending stream. When several
// streams hold the same key the pair from the stream supplied first wins,
// so callers pass streams newest first. Any input that is not strictly
// ascending stops the merge with an invariant violation.
type Merging struct {
	inputs []Stream
	last   []*record.Key
	h      mergeHeap
	cur    record.Pair
	err    error
	init   bool
}

func Merge(streams ...Stream) *Merging {
	return &Merging{
		inputs: streams,
		last:   make([]*record.Key, len(streams)),
	}
}

// advance pulls the next pair from input i onto the heap.
func (m *Merging) advance(i int) bool {
	s := m.inputs[i]
	if !s.Next() {
		if err := s.Err(); err != nil {
			m.err = err
			return false
		}
		return true
	}
	p := s.Pair()
	if prev := m.last[i]; prev != nil && p.Key.Compare(*prev) <= 0 {
		m.err = dberrors.Invariantf("merge input %d not ascending: %s after %s", i, p.Key, *prev)
		return false
	}
	m.last[i] = &p.Key
	heap.Push(&m.h, mergeItem{pair: p, src: i})
	return true
}

func (m *Merging) Next() bool {
	if m.err != nil {
		return false
	}
	if !m.init {
		m.init = true
		for i := range m.inputs {
			if !m.advance(i) {
				return false
			}
		}
	}
	if m.h.Len() == 0 {
		return false
	}

	top := heap.Pop(&m.h).(mergeItem)
	if !m.advance(top.src) {
		return false
	}
	// shadowed versions of the same key from older inputs
	for m.h.Len() > 0 && m.h[0].pair.Key.Equal(top.pair.Key) {
		dup := heap.Pop(&m.h).(mergeItem)
		if !m.advance(dup.src) {
			return false
		}
	}

	m.cur = top.pair
	return true
}

func (m *Merging) Pair() record.Pair { return m.cur }

func (m *Merging) Err() error { return m.err }

type mergeItem struct {
	pair record.Pair
	src  int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := h[i].pair.Key.Compare(h[j].pair.Key); c != 0 {
		return c < 0
	}
	return h[i].src < h[j].src
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	*h = old[:len(old)-1]
	return it
}
