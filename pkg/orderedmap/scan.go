package orderedmap

// Range bounds a scan. A nil bound is open. Low is inclusive and High is
// exclusive unless the corresponding flag says otherwise. Filter, when set,
// drops entries it returns false for; it runs without the map lock held.
type Range[K, V any] struct {
	Low           *K
	High          *K
	LowExclusive  bool
	HighInclusive bool
	Filter        func(K, V) bool
}

// Iterator is a lazy, restartable-by-recreation scan over a Map.
type Iterator[K, V any] struct {
	m       *Map[K, V]
	r       Range[K, V]
	reverse bool

	cur  *node[K, V]
	val  V
	done bool
}

// Ascend scans r in ascending key order.
func (m *Map[K, V]) Ascend(r Range[K, V]) *Iterator[K, V] {
	return &Iterator[K, V]{m: m, r: r}
}

// Descend scans r in descending key order.
func (m *Map[K, V]) Descend(r Range[K, V]) *Iterator[K, V] {
	return &Iterator[K, V]{m: m, r: r, reverse: true}
}

// Next advances the iterator and reports whether an entry is available.
func (it *Iterator[K, V]) Next() bool {
	if it.done {
		return false
	}
	for {
		n, v := it.step()
		if n == nil {
			it.done = true
			it.cur = nil
			return false
		}
		it.cur, it.val = n, v
		if it.r.Filter == nil || it.r.Filter(n.key, v) {
			return true
		}
	}
}

func (it *Iterator[K, V]) step() (*node[K, V], V) {
	m := it.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V

	if it.reverse {
		var n *node[K, V]
		switch {
		case it.cur != nil:
			n = m.findLT(it.cur.key)
		case it.r.High != nil:
			n = m.findLT(*it.r.High)
			if it.r.HighInclusive {
				if ge := m.findGE(*it.r.High, nil); ge != nil && m.cmp(ge.key, *it.r.High) == 0 {
					n = ge
				}
			}
		default:
			n = m.findLast()
		}
		if n == nil || !it.aboveLow(n.key) {
			return nil, zero
		}
		return n, n.val
	}

	var n *node[K, V]
	switch {
	case it.cur != nil:
		n = it.cur.next[0]
	case it.r.Low != nil:
		n = m.findGE(*it.r.Low, nil)
		if n != nil && it.r.LowExclusive && m.cmp(n.key, *it.r.Low) == 0 {
			n = n.next[0]
		}
	default:
		n = m.head.next[0]
	}
	if n == nil || !it.belowHigh(n.key) {
		return nil, zero
	}
	return n, n.val
}

func (it *Iterator[K, V]) aboveLow(k K) bool {
	if it.r.Low == nil {
		return true
	}
	c := it.m.cmp(k, *it.r.Low)
	return c > 0 || (c == 0 && !it.r.LowExclusive)
}

func (it *Iterator[K, V]) belowHigh(k K) bool {
	if it.r.High == nil {
		return true
	}
	c := it.m.cmp(k, *it.r.High)
	return c < 0 || (c == 0 && it.r.HighInclusive)
}

// Key returns the current key. Valid after Next returned true.
func (it *Iterator[K, V]) Key() K {
	return it.cur.key
}

// Value returns the current value. Valid after Next returned true.
func (it *Iterator[K, V]) Value() V {
	return it.val
}

// Collect drains the iterator into a slice of keys.
func (it *Iterator[K, V]) Collect() []K {
	var keys []K
	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys
}
