package rangemap

import (
	"math"

	"github.com/google/btree"

	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
)

const btreeDegree = 16

// maxKey sorts after every encodable key.
var maxKey = record.AfterPrefix(record.MinKey())

// View is an ordered set of segment descriptors, sorted by generation,
// start key and end key. A View is not safe for concurrent mutation; the
// Rangemap guards its live view and hands out clones.
type View struct {
	segs *btree.BTreeG[segment.Descriptor]
}

func newView() *View {
	return &View{segs: btree.NewG[segment.Descriptor](btreeDegree, segment.Descriptor.Less)}
}

// Clone is a cheap copy-on-write copy.
func (v *View) Clone() *View {
	return &View{segs: v.segs.Clone()}
}

func (v *View) insert(d segment.Descriptor) { v.segs.ReplaceOrInsert(d) }

func (v *View) remove(d segment.Descriptor) bool {
	_, ok := v.segs.Delete(d)
	return ok
}

// find returns the stored descriptor with d's generation and start key.
func (v *View) find(gen types.Generation, start record.Key) (segment.Descriptor, bool) {
	var (
		found segment.Descriptor
		ok    bool
	)
	v.segs.AscendGreaterOrEqual(segment.Descriptor{Generation: gen, Start: start}, func(d segment.Descriptor) bool {
		if d.Generation == gen && d.Start.Equal(start) {
			found, ok = d, true
		}
		return false
	})
	return found, ok
}

func (v *View) Len() int { return v.segs.Len() }

// Has reports whether exactly d is mapped.
func (v *View) Has(d segment.Descriptor) bool {
	_, ok := v.segs.Get(d)
	return ok
}

// SegmentAt returns the segment of gen whose range contains k.
func (v *View) SegmentAt(gen types.Generation, k record.Key) (segment.Descriptor, bool) {
	d, ok := v.PrevSegment(gen, k)
	if !ok || !d.Contains(k) {
		return segment.Descriptor{}, false
	}
	return d, true
}

// PrevSegment returns the last segment of gen starting at or before k.
func (v *View) PrevSegment(gen types.Generation, k record.Key) (segment.Descriptor, bool) {
	pivot := segment.Descriptor{Generation: gen, Start: k, End: maxKey, Address: math.MaxUint64}
	var (
		found segment.Descriptor
		ok    bool
	)
	v.segs.DescendLessOrEqual(pivot, func(d segment.Descriptor) bool {
		if d.Generation == gen {
			found, ok = d, true
		}
		return false
	})
	return found, ok
}

// NextSegment returns the first segment of gen that ends at or after k.
func (v *View) NextSegment(gen types.Generation, k record.Key) (segment.Descriptor, bool) {
	if d, ok := v.SegmentAt(gen, k); ok {
		return d, true
	}
	var (
		found segment.Descriptor
		ok    bool
	)
	v.segs.AscendGreaterOrEqual(segment.Descriptor{Generation: gen, Start: k}, func(d segment.Descriptor) bool {
		if d.Generation == gen {
			found, ok = d, true
		}
		return false
	})
	return found, ok
}

// After returns the segment of d's generation following d.
func (v *View) After(d segment.Descriptor) (segment.Descriptor, bool) {
	var (
		found segment.Descriptor
		ok    bool
	)
	v.segs.AscendGreaterOrEqual(d, func(x segment.Descriptor) bool {
		if x.Compare(d) == 0 {
			return true
		}
		if x.Generation == d.Generation {
			found, ok = x, true
		}
		return false
	})
	return found, ok
}

// Before returns the segment of d's generation preceding d.
func (v *View) Before(d segment.Descriptor) (segment.Descriptor, bool) {
	var (
		found segment.Descriptor
		ok    bool
	)
	v.segs.DescendLessOrEqual(d, func(x segment.Descriptor) bool {
		if x.Compare(d) == 0 {
			return true
		}
		if x.Generation == d.Generation {
			found, ok = x, true
		}
		return false
	})
	return found, ok
}

// Overlapping returns the segments of gen intersecting [lo, hi] in key order.
func (v *View) Overlapping(gen types.Generation, lo, hi record.Key) []segment.Descriptor {
	var out []segment.Descriptor
	if d, ok := v.SegmentAt(gen, lo); ok {
		out = append(out, d)
	}
	v.segs.AscendGreaterOrEqual(segment.Descriptor{Generation: gen, Start: lo}, func(d segment.Descriptor) bool {
		if d.Generation != gen || hi.Less(d.Start) {
			return false
		}
		if len(out) == 0 || !out[len(out)-1].Start.Equal(d.Start) {
			out = append(out, d)
		}
		return true
	})
	return out
}

// Generation returns every segment of gen in key order.
func (v *View) Generation(gen types.Generation) []segment.Descriptor {
	var out []segment.Descriptor
	v.segs.AscendGreaterOrEqual(segment.Descriptor{Generation: gen}, func(d segment.Descriptor) bool {
		if d.Generation != gen {
			return false
		}
		out = append(out, d)
		return true
	})
	return out
}

// Generations lists the generations holding segments, newest first.
func (v *View) Generations() []types.Generation {
	var gens []types.Generation
	last, ok := v.segs.Max()
	for ok {
		gen := last.Generation
		gens = append(gens, gen)
		if gen == 0 {
			break
		}
		ok = false
		v.segs.DescendLessOrEqual(segment.Descriptor{Generation: gen - 1, Start: maxKey, End: maxKey, Address: math.MaxUint64}, func(d segment.Descriptor) bool {
			last, ok = d, true
			return false
		})
	}
	return gens
}

// All returns every descriptor in order.
func (v *View) All() []segment.Descriptor {
	out := make([]segment.Descriptor, 0, v.segs.Len())
	v.segs.Ascend(func(d segment.Descriptor) bool {
		out = append(out, d)
		return true
	})
	return out
}
