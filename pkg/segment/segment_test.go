package segment

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"

	"gendb/pkg/compression"
	"gendb/pkg/dberrors"
	"gendb/pkg/record"
)

func key(s string) record.Key { return record.StringKey(s) }

func put(k, v string) record.Pair {
	return record.Pair{Key: key(k), Update: record.Put([]byte(v))}
}

func del(k string) record.Pair {
	return record.Pair{Key: key(k), Update: record.Delete()}
}

func drain(t *testing.T, s Stream) []record.Pair {
	t.Helper()
	var out []record.Pair
	for s.Next() {
		out = append(out, s.Pair())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	return out
}

func format(pairs []record.Pair) string {
	s := ""
	for _, p := range pairs {
		k, _ := p.Key.Parts()
		v := string(p.Update.Value)
		if p.Update.Tombstone {
			v = "<del>"
		}
		s += fmt.Sprintf("%s=%s ", k[0].String, v)
	}
	return s
}

func TestBuilder_LastWriteWins(t *testing.T) {
	b := NewBuilder()
	b.Set(key("b"), record.Put([]byte("1")))
	b.Set(key("a"), record.Put([]byte("2")))
	b.Set(key("b"), record.Delete())

	if b.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", b.Len())
	}
	u, ok := b.Get(key("b"))
	if !ok || !u.Tombstone {
		t.Fatalf("Expected tombstone for b, got %+v", u)
	}
	if got := format(drain(t, b.Stream())); got != "a=2 b=<del> " {
		t.Fatalf("Unexpected content %q", got)
	}
}

func TestBuilder_FindNextPrev(t *testing.T) {
	b := NewBuilder()
	for _, k := range []string{"a", "c", "e"} {
		b.Set(key(k), record.Put([]byte(k)))
	}

	if p, ok := b.FindNext(key("b"), true); !ok || !p.Key.Equal(key("c")) {
		t.Fatalf("Expected c, got %v", p.Key)
	}
	if p, ok := b.FindPrev(key("c"), false); !ok || !p.Key.Equal(key("a")) {
		t.Fatalf("Expected a, got %v", p.Key)
	}
	if _, ok := b.FindNext(key("e"), false); ok {
		t.Fatal("Expected nothing after e")
	}
}

func TestReader_Lookups(t *testing.T) {
	pairs := []record.Pair{put("a", "1"), put("c", "3"), del("e")}
	r := NewReader(Descriptor{Start: key("a"), End: key("e")}, pairs, 0.01)

	if u, ok := r.Get(key("c")); !ok || string(u.Value) != "3" {
		t.Fatalf("Expected c=3, got %+v (%v)", u, ok)
	}
	if _, ok := r.Get(key("b")); ok {
		t.Fatal("Expected b to be absent")
	}
	if u, ok := r.Get(key("e")); !ok || !u.Tombstone {
		t.Fatal("Expected tombstone for e")
	}

	tests := []struct {
		name      string
		prev      bool
		k         string
		inclusive bool
		want      string
	}{
		{"next incl", false, "c", true, "c"},
		{"next excl", false, "c", false, "e"},
		{"next gap", false, "b", false, "c"},
		{"prev incl", true, "c", true, "c"},
		{"prev excl", true, "c", false, "a"},
		{"prev gap", true, "d", true, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			find := r.FindNext
			if tt.prev {
				find = r.FindPrev
			}
			p, ok := find(key(tt.k), tt.inclusive)
			if !ok || !p.Key.Equal(key(tt.want)) {
				t.Fatalf("Expected %s, got %v (%v)", tt.want, p.Key, ok)
			}
		})
	}

	if _, ok := r.FindPrev(key("a"), false); ok {
		t.Fatal("Expected nothing before a")
	}
}

func TestMerge_NewestStreamWins(t *testing.T) {
	newest := NewSliceStream([]record.Pair{put("b", "new"), del("d")})
	middle := NewSliceStream([]record.Pair{put("a", "mid"), put("b", "mid"), put("c", "mid")})
	oldest := NewSliceStream([]record.Pair{put("a", "old"), put("d", "old"), put("e", "old")})

	got := format(drain(t, Merge(newest, middle, oldest)))
	want := "a=mid b=new c=mid d=<del> e=old "
	if got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}
}

func TestMerge_FailsFastOnUnorderedInput(t *testing.T) {
	bad := NewSliceStream([]record.Pair{put("b", "1"), put("a", "2")})
	m := Merge(bad)

	for m.Next() {
	}
	if !errors.Is(m.Err(), dberrors.ErrInvariant) {
		t.Fatalf("Expected ErrInvariant, got %v", m.Err())
	}
}

func TestFilter(t *testing.T) {
	s := Filter(NewSliceStream([]record.Pair{put("a", "1"), del("b"), put("c", "3")}), func(p record.Pair) bool {
		return !p.Update.Tombstone
	})
	if got := format(drain(t, s)); got != "a=1 c=3 " {
		t.Fatalf("Unexpected filtered content %q", got)
	}
}

type sunkBlock struct {
	first, last record.Key
	count       int
	pairs       []record.Pair
}

func collectSink(t *testing.T, blocks *[]sunkBlock) BlockSink {
	return func(block []byte, first, last record.Key, count int) error {
		pairs, err := record.DecodeBlock(block)
		if err != nil {
			t.Fatalf("DecodeBlock failed: %v", err)
		}
		*blocks = append(*blocks, sunkBlock{first: first, last: last, count: count, pairs: pairs})
		return nil
	}
}

func TestWriter_SplitsBySize(t *testing.T) {
	var pairs []record.Pair
	for i := 0; i < 100; i++ {
		pairs = append(pairs, put(fmt.Sprintf("k%03d", i), "0123456789"))
	}

	var blocks []sunkBlock
	w := Writer{BlockSize: 256, Compression: compression.Snappy, Sink: collectSink(t, &blocks)}
	rows, err := w.WriteStream(NewSliceStream(pairs))
	if err != nil {
		t.Fatalf("WriteStream failed: %v", err)
	}
	if rows != 100 {
		t.Fatalf("Expected 100 rows, got %d", rows)
	}
	if len(blocks) < 2 {
		t.Fatalf("Expected several blocks, got %d", len(blocks))
	}

	total := 0
	for i, b := range blocks {
		if b.count != len(b.pairs) {
			t.Fatalf("Block %d: count %d != decoded %d", i, b.count, len(b.pairs))
		}
		if !b.first.Equal(b.pairs[0].Key) || !b.last.Equal(b.pairs[len(b.pairs)-1].Key) {
			t.Fatalf("Block %d: range does not match content", i)
		}
		if i > 0 && !blocks[i-1].last.Less(b.first) {
			t.Fatalf("Block %d overlaps previous block", i)
		}
		total += b.count
	}
	if total != 100 {
		t.Fatalf("Expected 100 pairs across blocks, got %d", total)
	}
}

func TestWriter_SplitBefore(t *testing.T) {
	pairs := []record.Pair{put("a", "1"), put("b", "2"), put("x", "3"), put("y", "4")}
	fence := key("m")

	var blocks []sunkBlock
	w := Writer{
		Sink: collectSink(t, &blocks),
		SplitBefore: func(prev, next record.Key) bool {
			return prev.Less(fence) && !next.Less(fence)
		},
	}
	if _, err := w.WriteStream(NewSliceStream(pairs)); err != nil {
		t.Fatalf("WriteStream failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks around the fence, got %d", len(blocks))
	}
	if !blocks[0].last.Equal(key("b")) || !blocks[1].first.Equal(key("x")) {
		t.Fatal("Fence split at the wrong place")
	}
}

func TestWriter_EmptyStream(t *testing.T) {
	called := false
	w := Writer{Sink: func([]byte, record.Key, record.Key, int) error {
		called = true
		return nil
	}}
	rows, err := w.WriteStream(NewSliceStream(nil))
	if err != nil || rows != 0 || called {
		t.Fatalf("Expected no blocks for empty stream, got rows=%d called=%v err=%v", rows, called, err)
	}
}

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		if !bf.MayContain([]byte(fmt.Sprintf("key-%d", i))) {
			t.Fatalf("False negative for key-%d", i)
		}
	}

	fp := 0
	for i := 0; i < 10000; i++ {
		if bf.MayContain([]byte(fmt.Sprintf("other-%d", i))) {
			fp++
		}
	}
	if fp > 500 {
		t.Fatalf("False positive rate too high: %d/10000", fp)
	}
}

func TestDescriptor_Order(t *testing.T) {
	a := Descriptor{Generation: 0, Start: key("b"), End: key("c")}
	b := Descriptor{Generation: 0, Start: key("b"), End: key("d")}
	c := Descriptor{Generation: 1, Start: key("a"), End: key("a")}

	if !a.Less(b) || !b.Less(c) || c.Less(a) {
		t.Fatal("Descriptors must order by generation, start, end")
	}
	if !b.Overlaps(key("d"), key("z")) || b.Overlaps(key("e"), key("z")) {
		t.Fatal("Overlaps must treat ends as inclusive")
	}
	if CompareLists([]Descriptor{a}, []Descriptor{a, b}) >= 0 {
		t.Fatal("Shorter prefix list must sort first")
	}
}
