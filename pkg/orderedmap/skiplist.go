// Package orderedmap provides a concurrent, bidirectionally scannable sorted
// map backed by a skip list.
//
// All operations take an internal lock. Iterators take the lock once per
// step, so they observe the map as of each step rather than a frozen view.
package orderedmap

import (
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/fastrand"
)

const maxLevel = 24

type node[K, V any] struct {
	key  K
	val  V
	next []*node[K, V]
}

// Map is a sorted map ordered by a caller supplied comparator.
type Map[K, V any] struct {
	cmp    func(a, b K) int
	mu     sync.RWMutex
	head   *node[K, V]
	level  int
	length atomic.Int64
}

// New creates an empty map ordered by cmp.
func New[K, V any](cmp func(a, b K) int) *Map[K, V] {
	return &Map[K, V]{
		cmp:   cmp,
		head:  &node[K, V]{next: make([]*node[K, V], maxLevel)},
		level: 1,
	}
}

func randomLevel() int {
	lvl := 1
	for lvl < maxLevel && fastrand.Uint32()&3 == 0 {
		lvl++
	}
	return lvl
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return int(m.length.Load())
}

// findGE fills prev with the rightmost node before key on every level and
// returns the first node with key >= k. Callers hold mu.
func (m *Map[K, V]) findGE(k K, prev []*node[K, V]) *node[K, V] {
	x := m.head
	for i := m.level - 1; i >= 0; i-- {
		for x.next[i] != nil && m.cmp(x.next[i].key, k) < 0 {
			x = x.next[i]
		}
		if prev != nil {
			prev[i] = x
		}
	}
	return x.next[0]
}

// findLT returns the last node with key < k, or nil. Callers hold mu.
func (m *Map[K, V]) findLT(k K) *node[K, V] {
	x := m.head
	for i := m.level - 1; i >= 0; i-- {
		for x.next[i] != nil && m.cmp(x.next[i].key, k) < 0 {
			x = x.next[i]
		}
	}
	if x == m.head {
		return nil
	}
	return x
}

func (m *Map[K, V]) findLast() *node[K, V] {
	x := m.head
	for i := m.level - 1; i >= 0; i-- {
		for x.next[i] != nil {
			x = x.next[i]
		}
	}
	if x == m.head {
		return nil
	}
	return x
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n := m.findGE(k, nil); n != nil && m.cmp(n.key, k) == 0 {
		return n.val, true
	}
	var zero V
	return zero, false
}

// Set stores v under k, overwriting any existing value. It reports whether
// an existing entry was replaced.
func (m *Map[K, V]) Set(k K, v V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev [maxLevel]*node[K, V]
	if n := m.findGE(k, prev[:]); n != nil && m.cmp(n.key, k) == 0 {
		n.val = v
		return true
	}

	lvl := randomLevel()
	if lvl > m.level {
		for i := m.level; i < lvl; i++ {
			prev[i] = m.head
		}
		m.level = lvl
	}

	n := &node[K, V]{key: k, val: v, next: make([]*node[K, V], lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
	}
	m.length.Add(1)
	return false
}

// Delete removes k and reports whether it was present. The removed node
// keeps its forward links so in-flight iterators can move past it.
func (m *Map[K, V]) Delete(k K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev [maxLevel]*node[K, V]
	n := m.findGE(k, prev[:])
	if n == nil || m.cmp(n.key, k) != 0 {
		return false
	}
	for i := 0; i < len(n.next); i++ {
		if prev[i].next[i] == n {
			prev[i].next[i] = n.next[i]
		}
	}
	for m.level > 1 && m.head.next[m.level-1] == nil {
		m.level--
	}
	m.length.Add(-1)
	return true
}

// FindNext returns the first entry with key >= k, or > k when inclusive is
// false.
func (m *Map[K, V]) FindNext(k K, inclusive bool) (K, V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.findGE(k, nil)
	if n != nil && !inclusive && m.cmp(n.key, k) == 0 {
		n = n.next[0]
	}
	return unpack(n)
}

// FindPrev returns the last entry with key <= k, or < k when inclusive is
// false.
func (m *Map[K, V]) FindPrev(k K, inclusive bool) (K, V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if inclusive {
		if n := m.findGE(k, nil); n != nil && m.cmp(n.key, k) == 0 {
			return unpack(n)
		}
	}
	return unpack(m.findLT(k))
}

// First returns the smallest entry.
func (m *Map[K, V]) First() (K, V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return unpack(m.head.next[0])
}

// Last returns the largest entry.
func (m *Map[K, V]) Last() (K, V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return unpack(m.findLast())
}

func unpack[K, V any](n *node[K, V]) (K, V, bool) {
	if n == nil {
		var (
			k K
			v V
		)
		return k, v, false
	}
	return n.key, n.val, true
}
