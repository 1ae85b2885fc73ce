package merge

import (
	"fmt"
	"testing"

	"gendb/pkg/rangemap"
	"gendb/pkg/record"
	"gendb/pkg/segment"
	"gendb/pkg/types"
)

type txn struct{ pairs []record.Pair }

func (t *txn) Apply(p record.Pair) error {
	t.pairs = append(t.pairs, p)
	return nil
}

type index struct {
	t    *testing.T
	rm   *rangemap.Rangemap
	next types.Address
}

func newIndex(t *testing.T) *index {
	return &index{t: t, rm: rangemap.New(nil, rangemap.Options{})}
}

func key(s string) record.Key { return record.StringKey(s) }

func (ix *index) add(gen types.Generation, lo, hi string) segment.Descriptor {
	ix.t.Helper()
	ix.next++
	tx := &txn{}
	loc := rangemap.Location{Address: ix.next, Size: 100, Count: 10}
	if err := ix.rm.MapGenerationToRegion(tx, gen, key(lo), key(hi), loc); err != nil {
		ix.t.Fatalf("MapGenerationToRegion failed: %v", err)
	}
	changes, err := ix.rm.Apply(tx.pairs...)
	if err != nil {
		ix.t.Fatalf("Apply failed: %v", err)
	}
	return changes[0].Desc
}

func (ix *index) remove(d segment.Descriptor) {
	ix.t.Helper()
	tx := &txn{}
	_ = ix.rm.UnmapSegment(tx, d)
	if _, err := ix.rm.Apply(tx.pairs...); err != nil {
		ix.t.Fatalf("Apply failed: %v", err)
	}
}

func TestManager_GenerationScenario(t *testing.T) {
	ix := newIndex(t)
	m := NewManager(ix.rm, nil, Options{})

	g0 := ix.add(0, "A", "Z")
	m.NotifyAddSegment(g0)
	g1 := ix.add(1, "A", "Z")
	m.NotifyAddSegment(g1)

	if n := m.NumberOfCandidates(); n != 1 {
		t.Fatalf("Expected 1 candidate, got %d", n)
	}
	best, ok := m.GetBestCandidate()
	if !ok || len(best.Sources) != 1 || best.Sources[0] != g1 || len(best.Targets) != 1 || best.Targets[0] != g0 {
		t.Fatalf("Expected {g1} -> {g0}, got %v", best)
	}

	g2 := ix.add(2, "A", "Z")
	m.NotifyAddSegment(g2)

	if n := m.NumberOfCandidates(); n != 3 {
		t.Fatalf("Expected 3 candidates, got %d", n)
	}
	best, _ = m.GetBestCandidate()
	if len(best.Sources) != 2 || best.Sources[0] != g1 || best.Sources[1] != g2 {
		t.Fatalf("Expected sources {g1, g2}, got %s", segment.FormatList(best.Sources))
	}
	if len(best.Targets) != 1 || best.Targets[0] != g0 {
		t.Fatalf("Expected target {g0}, got %s", segment.FormatList(best.Targets))
	}
	if best.OutputGeneration() != 0 {
		t.Fatalf("Expected output generation 0, got %d", best.OutputGeneration())
	}
	if in := best.Inputs(); in[0] != g2 || in[1] != g1 || in[2] != g0 {
		t.Fatalf("Inputs must be newest first, got %s", segment.FormatList(in))
	}

	ix.remove(g2)
	m.NotifyRemoveSegment(g2)

	if n := m.NumberOfCandidates(); n != 1 {
		t.Fatalf("Expected 1 candidate after removal, got %d", n)
	}
	best, _ = m.GetBestCandidate()
	if best.Sources[0] != g1 || best.Targets[0] != g0 {
		t.Fatalf("Expected {g1} -> {g0} after removal, got %v", best)
	}
}

func TestManager_Deterministic(t *testing.T) {
	run := func() string {
		ix := newIndex(t)
		m := NewManager(ix.rm, nil, Options{MaxFanout: 3})
		layout := []struct {
			gen    types.Generation
			lo, hi string
		}{
			{0, "a", "f"}, {0, "g", "m"}, {0, "n", "z"},
			{1, "b", "h"}, {1, "p", "q"},
			{2, "c", "d"}, {2, "e", "o"},
			{3, "a", "z"},
		}
		var added []segment.Descriptor
		for _, l := range layout {
			d := ix.add(l.gen, l.lo, l.hi)
			m.NotifyAddSegment(d)
			added = append(added, d)
		}
		ix.remove(added[5])
		m.NotifyRemoveSegment(added[5])

		best, ok := m.GetBestCandidate()
		if !ok {
			t.Fatal("Expected a candidate")
		}
		return fmt.Sprintf("%d %s", m.NumberOfCandidates(), best)
	}

	first := run()
	for i := 0; i < 5; i++ {
		if got := run(); got != first {
			t.Fatalf("Run %d differs: %q vs %q", i, got, first)
		}
	}
}

func TestManager_NewerSegmentsRecomputed(t *testing.T) {
	ix := newIndex(t)
	m := NewManager(ix.rm, nil, Options{})

	// the newer segment arrives first and has nothing to merge into
	newer := ix.add(5, "c", "e")
	m.NotifyAddSegment(newer)
	if m.NumberOfCandidates() != 0 {
		t.Fatal("Expected no candidates yet")
	}

	older := ix.add(2, "a", "d")
	m.NotifyAddSegment(older)

	best, ok := m.GetBestCandidate()
	if !ok || best.Sources[0] != newer || best.Targets[0] != older {
		t.Fatalf("Expected newer -> older after recompute, got %v", best)
	}
}

func TestManager_WalkWidensRange(t *testing.T) {
	ix := newIndex(t)
	m := NewManager(ix.rm, nil, Options{})

	g0a := ix.add(0, "a", "c")
	g0b := ix.add(0, "x", "z")
	g1 := ix.add(1, "b", "y")
	g2 := ix.add(2, "b", "b")
	for _, d := range []segment.Descriptor{g0a, g0b, g1, g2} {
		m.NotifyAddSegment(d)
	}

	var found bool
	for _, c := range m.Candidates() {
		if c.Origin() == g2 && len(c.Targets) == 2 {
			// g2 only overlaps g0a, but g1 widens the range to reach g0b
			found = c.Targets[0] == g0a && c.Targets[1] == g0b
		}
	}
	if !found {
		t.Fatalf("Expected {g2, g1} -> {g0a, g0b}, got %v", m.Candidates())
	}
}

type sampler map[types.Address][]record.Key

func (s sampler) Keys(d segment.Descriptor) ([]record.Key, error) { return s[d.Address], nil }

func TestManager_HistogramFallback(t *testing.T) {
	ix := newIndex(t)
	keys := sampler{}
	m := NewManager(ix.rm, keys, Options{MaxFanout: 2, MaxHistogramFanout: 4})

	var level []segment.Descriptor
	for i := 0; i < 6; i++ {
		lo, hi := fmt.Sprintf("k%d0", i), fmt.Sprintf("k%d9", i)
		d := ix.add(0, lo, hi)
		m.NotifyAddSegment(d)
		level = append(level, d)
	}

	wide := ix.add(1, "k00", "k59")
	keys[wide.Address] = []record.Key{key("k05"), key("k07"), key("k51")}
	m.NotifyAddSegment(wide)

	best, ok := m.GetBestCandidate()
	if !ok {
		t.Fatal("Expected a histogram candidate")
	}
	if !best.Sparse() || len(best.Targets) != 2 || best.Targets[0] != level[0] || best.Targets[1] != level[5] {
		t.Fatalf("Expected sparse {wide} -> {seg0, seg5}, got %v", best)
	}
}

func TestManager_FanoutExceededWithoutSampler(t *testing.T) {
	ix := newIndex(t)
	m := NewManager(ix.rm, nil, Options{MaxFanout: 1})

	m.NotifyAddSegment(ix.add(0, "a", "b"))
	m.NotifyAddSegment(ix.add(0, "c", "d"))
	m.NotifyAddSegment(ix.add(1, "a", "d"))

	if n := m.NumberOfCandidates(); n != 0 {
		t.Fatalf("Expected no candidates beyond fan-out, got %d", n)
	}
}

func TestManager_Rebuild(t *testing.T) {
	ix := newIndex(t)
	m := NewManager(ix.rm, nil, Options{})
	ix.add(0, "A", "Z")
	ix.add(1, "A", "Z")
	ix.add(2, "A", "Z")

	m.Rebuild()
	if n := m.NumberOfCandidates(); n != 3 {
		t.Fatalf("Expected 3 candidates after rebuild, got %d", n)
	}
}

func TestCandidate_Ordering(t *testing.T) {
	d := func(gen types.Generation, lo string) segment.Descriptor {
		return segment.Descriptor{Generation: gen, Start: key(lo), End: key(lo)}
	}
	oneToOne := newCandidate(d(1, "a"), []segment.Descriptor{d(1, "a")}, []segment.Descriptor{d(0, "a")}, false)
	twoToOne := newCandidate(d(2, "a"), []segment.Descriptor{d(2, "a"), d(1, "a")}, []segment.Descriptor{d(0, "a")}, false)
	oneToTwo := newCandidate(d(1, "a"), []segment.Descriptor{d(1, "a")}, []segment.Descriptor{d(0, "a"), d(0, "b")}, false)

	if !twoToOne.Less(oneToOne) || !oneToOne.Less(oneToTwo) {
		t.Fatalf("Unexpected order: %.3f %.3f %.3f", twoToOne.Ratio(), oneToOne.Ratio(), oneToTwo.Ratio())
	}
	if oneToOne.Compare(oneToOne) != 0 {
		t.Fatal("Candidate must equal itself")
	}
}
