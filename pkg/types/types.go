package types

// Key is an encoded record key. Encodings compare with bytes.Compare.
type Key = []byte

// Value is an immutable payload byte slice.
type Value = []byte

// SeqN is a monotonically increasing write-ahead log sequence number.
type SeqN = uint64

// Generation is a segment compaction level. Generations are allocated
// monotonically and never reused.
type Generation = uint64

// Address is the start address of a durable storage region.
type Address = uint64
