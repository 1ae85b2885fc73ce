package segment

import (
	"sort"

	"gendb/pkg/record"
)

// Reader is a decoded, immutable persisted segment.
type Reader struct {
	desc  Descriptor
	pairs []record.Pair
	bloom *BloomFilter
}

// Open decodes a block read from the segment's region.
func Open(desc Descriptor, block []byte, bloomFPRate float64) (*Reader, error) {
	pairs, err := record.DecodeBlock(block)
	if err != nil {
		return nil, err
	}
	return NewReader(desc, pairs, bloomFPRate), nil
}

// NewReader wraps an ascending run of pairs.
func NewReader(desc Descriptor, pairs []record.Pair, bloomFPRate float64) *Reader {
	bloom := NewBloomFilter(len(pairs), bloomFPRate)
	for _, p := range pairs {
		bloom.Add([]byte(p.Key.Encoded()))
	}
	return &Reader{desc: desc, pairs: pairs, bloom: bloom}
}

func (r *Reader) Descriptor() Descriptor { return r.desc }

func (r *Reader) Len() int { return len(r.pairs) }

// search returns the index of the first pair with key >= k.
func (r *Reader) search(k record.Key) int {
	return sort.Search(len(r.pairs), func(i int) bool {
		return r.pairs[i].Key.Compare(k) >= 0
	})
}

// Get returns the update stored for k.
func (r *Reader) Get(k record.Key) (record.Update, bool) {
	if !r.bloom.MayContain([]byte(k.Encoded())) {
		return record.Update{}, false
	}
	if i := r.search(k); i < len(r.pairs) && r.pairs[i].Key.Equal(k) {
		return r.pairs[i].Update, true
	}
	return record.Update{}, false
}

// FindNext returns the first pair with key >= k (> k when not inclusive).
func (r *Reader) FindNext(k record.Key, inclusive bool) (record.Pair, bool) {
	i := r.search(k)
	if i < len(r.pairs) && !inclusive && r.pairs[i].Key.Equal(k) {
		i++
	}
	if i >= len(r.pairs) {
		return record.Pair{}, false
	}
	return r.pairs[i], true
}

// FindPrev returns the last pair with key <= k (< k when not inclusive).
func (r *Reader) FindPrev(k record.Key, inclusive bool) (record.Pair, bool) {
	i := r.search(k)
	if inclusive && i < len(r.pairs) && r.pairs[i].Key.Equal(k) {
		return r.pairs[i], true
	}
	if i == 0 {
		return record.Pair{}, false
	}
	return r.pairs[i-1], true
}

// Keys returns every key of the segment in ascending order.
func (r *Reader) Keys() []record.Key {
	keys := make([]record.Key, len(r.pairs))
	for i, p := range r.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Stream returns the segment's content as an ascending Stream.
func (r *Reader) Stream() Stream {
	return NewSliceStream(r.pairs)
}
