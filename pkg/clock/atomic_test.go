package clock

import (
	"sync"
	"testing"
)

func TestAtomicClock_NextIsMonotonic(t *testing.T) {
	c := NewAtomic(10)

	if got := c.Next(); got != 11 {
		t.Fatalf("Expected 11, got %d", got)
	}
	if got := c.Val(); got != 11 {
		t.Fatalf("Expected 11, got %d", got)
	}
}

func TestAtomicClock_AdvanceNeverGoesBack(t *testing.T) {
	c := NewAtomic(5)

	c.Advance(3)
	if got := c.Val(); got != 5 {
		t.Fatalf("Expected clock to stay at 5, got %d", got)
	}

	c.Advance(42)
	if got := c.Val(); got != 42 {
		t.Fatalf("Expected 42, got %d", got)
	}
}

func TestAtomicClock_ConcurrentNext(t *testing.T) {
	c := NewAtomic(0)

	var wg sync.WaitGroup
	seen := make([]uint64, 1000)
	for i := 0; i < len(seen); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = c.Next()
		}(i)
	}
	wg.Wait()

	uniq := make(map[uint64]struct{}, len(seen))
	for _, v := range seen {
		uniq[v] = struct{}{}
	}
	if len(uniq) != len(seen) {
		t.Fatalf("Expected %d unique values, got %d", len(seen), len(uniq))
	}
}
