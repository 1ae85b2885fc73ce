package orderedmap

import (
	"cmp"
	"fmt"
	"sync"
	"testing"
)

func newIntMap(keys ...int) *Map[int, string] {
	m := New[int, string](cmp.Compare[int])
	for _, k := range keys {
		m.Set(k, fmt.Sprintf("v%d", k))
	}
	return m
}

func TestMap_SetGetOverwrite(t *testing.T) {
	m := newIntMap(5, 1, 3)

	if replaced := m.Set(3, "three"); !replaced {
		t.Fatal("Expected Set to overwrite existing key")
	}
	if m.Len() != 3 {
		t.Fatalf("Expected len 3, got %d", m.Len())
	}

	v, ok := m.Get(3)
	if !ok || v != "three" {
		t.Fatalf("Expected three, got %q (%v)", v, ok)
	}
	if _, ok := m.Get(4); ok {
		t.Fatal("Expected missing key")
	}
}

func TestMap_Delete(t *testing.T) {
	m := newIntMap(1, 2, 3)

	if !m.Delete(2) {
		t.Fatal("Expected Delete to report removal")
	}
	if m.Delete(2) {
		t.Fatal("Expected second Delete to be a no-op")
	}
	if got := m.Ascend(Range[int, string]{}).Collect(); fmt.Sprint(got) != "[1 3]" {
		t.Fatalf("Unexpected keys after delete: %v", got)
	}
}

func TestMap_FindNextPrev(t *testing.T) {
	m := newIntMap(10, 20, 30)

	tests := []struct {
		name      string
		find      func(int, bool) (int, string, bool)
		key       int
		inclusive bool
		want      int
		found     bool
	}{
		{"next inclusive hit", m.FindNext, 20, true, 20, true},
		{"next exclusive hit", m.FindNext, 20, false, 30, true},
		{"next between", m.FindNext, 21, true, 30, true},
		{"next past end", m.FindNext, 30, false, 0, false},
		{"prev inclusive hit", m.FindPrev, 20, true, 20, true},
		{"prev exclusive hit", m.FindPrev, 20, false, 10, true},
		{"prev between", m.FindPrev, 19, false, 10, true},
		{"prev before start", m.FindPrev, 10, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, _, ok := tt.find(tt.key, tt.inclusive)
			if ok != tt.found || (ok && k != tt.want) {
				t.Fatalf("Expected (%d, %v), got (%d, %v)", tt.want, tt.found, k, ok)
			}
		})
	}
}

func TestMap_FirstLast(t *testing.T) {
	m := newIntMap()
	if _, _, ok := m.First(); ok {
		t.Fatal("Expected empty map")
	}

	m = newIntMap(7, 3, 9)
	if k, _, _ := m.First(); k != 3 {
		t.Fatalf("Expected first 3, got %d", k)
	}
	if k, _, _ := m.Last(); k != 9 {
		t.Fatalf("Expected last 9, got %d", k)
	}
}

func TestMap_ScanBounds(t *testing.T) {
	m := newIntMap(1, 2, 3, 4, 5, 6)
	low, high := 2, 5

	tests := []struct {
		name    string
		r       Range[int, string]
		reverse bool
		want    string
	}{
		{"all", Range[int, string]{}, false, "[1 2 3 4 5 6]"},
		{"all reverse", Range[int, string]{}, true, "[6 5 4 3 2 1]"},
		{"default bounds", Range[int, string]{Low: &low, High: &high}, false, "[2 3 4]"},
		{"default bounds reverse", Range[int, string]{Low: &low, High: &high}, true, "[4 3 2]"},
		{"flipped bounds", Range[int, string]{Low: &low, High: &high, LowExclusive: true, HighInclusive: true}, false, "[3 4 5]"},
		{"flipped bounds reverse", Range[int, string]{Low: &low, High: &high, LowExclusive: true, HighInclusive: true}, true, "[5 4 3]"},
		{"filter", Range[int, string]{Filter: func(k int, _ string) bool { return k%2 == 0 }}, false, "[2 4 6]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := m.Ascend(tt.r)
			if tt.reverse {
				it = m.Descend(tt.r)
			}
			if got := fmt.Sprint(it.Collect()); got != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMap_IteratorValues(t *testing.T) {
	m := newIntMap(1, 2)
	it := m.Ascend(Range[int, string]{})
	for it.Next() {
		if want := fmt.Sprintf("v%d", it.Key()); it.Value() != want {
			t.Fatalf("Expected %s, got %s", want, it.Value())
		}
	}
	if it.Next() {
		t.Fatal("Exhausted iterator must stay exhausted")
	}
}

func TestMap_ConcurrentWritersAndScanners(t *testing.T) {
	m := New[int, int](cmp.Compare[int])

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Set(i*4+w, i)
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				prev := -1
				it := m.Ascend(Range[int, int]{})
				for it.Next() {
					if it.Key() <= prev {
						t.Errorf("Scan went backwards: %d after %d", it.Key(), prev)
						return
					}
					prev = it.Key()
				}
			}
		}()
	}
	wg.Wait()

	if m.Len() != 2000 {
		t.Fatalf("Expected 2000 entries, got %d", m.Len())
	}
}
