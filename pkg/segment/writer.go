package segment

import (
	"gendb/pkg/compression"
	"gendb/pkg/record"
)

// DefaultBlockSize bounds the uncompressed body of one persisted segment.
const DefaultBlockSize = 4 << 20

// BlockSink receives each finished block with its inclusive key range.
type BlockSink func(block []byte, first, last record.Key, count int) error

// Writer cuts an ascending stream into blocks of at most BlockSize bytes.
type Writer struct {
	BlockSize   int
	Compression compression.Type
	// SplitBefore, when set, forces a block boundary between prev and next.
	SplitBefore func(prev, next record.Key) bool
	Sink        BlockSink
}

// WriteStream drains s into blocks and returns the number of pairs written.
func (w *Writer) WriteStream(s Stream) (int, error) {
	blockSize := w.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var (
		b     record.BlockBuilder
		first record.Key
		last  record.Key
		rows  int
	)

	flush := func() error {
		count := b.Count()
		block, err := b.Finish(w.Compression)
		if err != nil {
			return err
		}
		return w.Sink(block, first, last, count)
	}

	for s.Next() {
		p := s.Pair()
		if b.Count() > 0 {
			full := b.Size()+p.Key.Len()+p.Update.Size() > blockSize
			if full || (w.SplitBefore != nil && w.SplitBefore(last, p.Key)) {
				if err := flush(); err != nil {
					return rows, err
				}
			}
		}
		if b.Count() == 0 {
			first = p.Key
		}
		if err := b.Add(p); err != nil {
			return rows, err
		}
		last = p.Key
		rows++
	}
	if err := s.Err(); err != nil {
		return rows, err
	}

	if b.Count() > 0 {
		if err := flush(); err != nil {
			return rows, err
		}
	}
	return rows, nil
}
