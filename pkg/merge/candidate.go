package merge

import (
	"cmp"
	"fmt"
	"slices"

	"gendb/pkg/segment"
	"gendb/pkg/types"
)

// Candidate is a proposed merge of newer source segments into older
// target segments. Both sides are kept in descriptor order.
type Candidate struct {
	Sources []segment.Descriptor
	Targets []segment.Descriptor

	// the segment whose walk produced the candidate
	origin segment.Descriptor
	// histogram candidates leave gaps in the target generation
	sparse bool
}

func newCandidate(origin segment.Descriptor, sources, targets []segment.Descriptor, sparse bool) *Candidate {
	c := &Candidate{
		Sources: slices.Clone(sources),
		Targets: slices.Clone(targets),
		origin:  origin,
		sparse:  sparse,
	}
	slices.SortFunc(c.Sources, segment.Descriptor.Compare)
	slices.SortFunc(c.Targets, segment.Descriptor.Compare)
	return c
}

// Ratio is (targets/sources)/(targets+sources).
func (c *Candidate) Ratio() float64 {
	t, s := float64(len(c.Targets)), float64(len(c.Sources))
	return (t / s) / (t + s)
}

// compareRatio compares t1/(s1*(t1+s1)) with t2/(s2*(t2+s2)) exactly.
func compareRatio(a, b *Candidate) int {
	ta, sa := len(a.Targets), len(a.Sources)
	tb, sb := len(b.Targets), len(b.Sources)
	return cmp.Compare(ta*sb*(tb+sb), tb*sa*(ta+sa))
}

// Compare orders candidates by ratio, source count, target count, then
// the descriptor lists. The best candidate is the minimum.
func (c *Candidate) Compare(o *Candidate) int {
	if r := compareRatio(c, o); r != 0 {
		return r
	}
	if r := cmp.Compare(len(c.Sources), len(o.Sources)); r != 0 {
		return r
	}
	if r := cmp.Compare(len(c.Targets), len(o.Targets)); r != 0 {
		return r
	}
	if r := segment.CompareLists(c.Sources, o.Sources); r != 0 {
		return r
	}
	return segment.CompareLists(c.Targets, o.Targets)
}

func (c *Candidate) Less(o *Candidate) bool { return c.Compare(o) < 0 }

// Inputs lists every participating segment newest generation first, the
// order merge streams must be supplied in.
func (c *Candidate) Inputs() []segment.Descriptor {
	in := make([]segment.Descriptor, 0, len(c.Sources)+len(c.Targets))
	in = append(in, c.Sources...)
	in = append(in, c.Targets...)
	slices.SortStableFunc(in, func(a, b segment.Descriptor) int {
		return cmp.Compare(b.Generation, a.Generation)
	})
	return in
}

// OutputGeneration is the oldest generation among the inputs.
func (c *Candidate) OutputGeneration() types.Generation {
	gen := c.Targets[0].Generation
	for _, d := range c.Inputs() {
		gen = min(gen, d.Generation)
	}
	return gen
}

// Sparse reports whether the targets may leave non-participating segments
// of the output generation inside the merged range.
func (c *Candidate) Sparse() bool { return c.sparse }

// Origin is the segment whose walk produced the candidate.
func (c *Candidate) Origin() segment.Descriptor { return c.origin }

func (c *Candidate) references(d segment.Descriptor) bool {
	for _, x := range c.Sources {
		if x.Compare(d) == 0 {
			return true
		}
	}
	for _, x := range c.Targets {
		if x.Compare(d) == 0 {
			return true
		}
	}
	return false
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s -> %s (ratio %.3f)", segment.FormatList(c.Sources), segment.FormatList(c.Targets), c.Ratio())
}
