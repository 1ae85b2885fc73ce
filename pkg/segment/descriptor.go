package segment

import (
	"cmp"
	"fmt"
	"strings"

	"gendb/pkg/record"
	"gendb/pkg/types"
)

// Descriptor identifies a persisted segment: its generation, its inclusive
// key range and the region holding its block.
type Descriptor struct {
	Generation types.Generation
	Start      record.Key
	End        record.Key
	Address    types.Address
	Size       int64
	Count      int
}

// Compare orders descriptors by generation, start key, then end key.
func (d Descriptor) Compare(o Descriptor) int {
	if c := cmp.Compare(d.Generation, o.Generation); c != 0 {
		return c
	}
	if c := d.Start.Compare(o.Start); c != 0 {
		return c
	}
	if c := d.End.Compare(o.End); c != 0 {
		return c
	}
	return cmp.Compare(d.Address, o.Address)
}

func (d Descriptor) Less(o Descriptor) bool { return d.Compare(o) < 0 }

// Contains reports whether k falls inside the segment's key range.
func (d Descriptor) Contains(k record.Key) bool {
	return d.Start.Compare(k) <= 0 && k.Compare(d.End) <= 0
}

// Overlaps reports whether [lo, hi] intersects the segment's key range.
func (d Descriptor) Overlaps(lo, hi record.Key) bool {
	return d.Start.Compare(hi) <= 0 && lo.Compare(d.End) <= 0
}

func (d Descriptor) String() string {
	return fmt.Sprintf("g%d[%s..%s]@%d", d.Generation, d.Start, d.End, d.Address)
}

// CompareLists orders descriptor lists lexicographically.
func CompareLists(a, b []Descriptor) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// FormatList renders descriptors compactly for logs.
func FormatList(ds []Descriptor) string {
	s := make([]string, len(ds))
	for i, d := range ds {
		s[i] = d.String()
	}
	return "{" + strings.Join(s, ", ") + "}"
}
