package segment

import (
	"math"

	"github.com/zeebo/xxh3"
)

// BloomFilter answers "definitely absent" for point lookups into a segment.
type BloomFilter struct {
	bits   []uint64
	size   uint32
	hashes uint32
}

// NewBloomFilter sizes a filter for expectedItems at falsePositiveRate.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -(n * ln(p)) / (ln(2)^2), k = m/n * ln(2)
	m := math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	k := math.Round(m / float64(expectedItems) * math.Ln2)
	k = math.Max(1, math.Min(k, 16))

	size := uint32(m)
	return &BloomFilter{
		bits:   make([]uint64, (size+63)/64),
		size:   size,
		hashes: uint32(k),
	}
}

func (bf *BloomFilter) positions(key []byte, f func(pos uint32) bool) {
	h := xxh3.Hash(key)
	h1, h2 := uint32(h), uint32(h>>32)|1
	for i := uint32(0); i < bf.hashes; i++ {
		if !f((h1 + i*h2) % bf.size) {
			return
		}
	}
}

// Add records key in the filter.
func (bf *BloomFilter) Add(key []byte) {
	bf.positions(key, func(pos uint32) bool {
		bf.bits[pos/64] |= 1 << (pos % 64)
		return true
	})
}

// MayContain reports false only if key was never added.
func (bf *BloomFilter) MayContain(key []byte) bool {
	found := true
	bf.positions(key, func(pos uint32) bool {
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			found = false
		}
		return found
	})
	return found
}
