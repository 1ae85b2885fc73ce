package record

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"gendb/pkg/compression"
	"gendb/pkg/dberrors"
)

const (
	kindPut       byte = 0
	kindTombstone byte = 1

	blockMagic      = "GSB1"
	blockHeaderSize = 4 + 1 + 4 + 4
	checksumSize    = 8
)

// AppendPair appends the binary encoding of p to buf. The same encoding is
// used for segment block bodies and for WAL update payloads.
func AppendPair(buf []byte, p Pair) []byte {
	buf = binary.AppendUvarint(buf, uint64(p.Key.Len()))
	buf = append(buf, p.Key.enc...)
	if p.Update.Tombstone {
		return append(buf, kindTombstone)
	}
	buf = append(buf, kindPut)
	buf = binary.AppendUvarint(buf, uint64(len(p.Update.Value)))
	return append(buf, p.Update.Value...)
}

// EncodePair encodes a single pair.
func EncodePair(p Pair) []byte {
	return AppendPair(make([]byte, 0, p.Key.Len()+len(p.Update.Value)+12), p)
}

// DecodePair decodes the leading pair of data and returns the number of
// bytes consumed.
func DecodePair(data []byte) (Pair, int, error) {
	keyLen, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < keyLen+1 {
		return Pair{}, 0, dberrors.Corruptedf("record: truncated key")
	}
	off := n
	key := Key{enc: string(data[off : off+int(keyLen)])}
	off += int(keyLen)

	kind := data[off]
	off++
	switch kind {
	case kindTombstone:
		return Pair{Key: key, Update: Delete()}, off, nil
	case kindPut:
	default:
		return Pair{}, 0, dberrors.Corruptedf("record: unknown update kind %d", kind)
	}

	valLen, n := binary.Uvarint(data[off:])
	if n <= 0 || uint64(len(data)-off-n) < valLen {
		return Pair{}, 0, dberrors.Corruptedf("record: truncated value")
	}
	off += n
	value := make([]byte, valLen)
	copy(value, data[off:off+int(valLen)])
	off += int(valLen)

	return Pair{Key: key, Update: Put(value)}, off, nil
}

// BlockBuilder accumulates an ascending run of pairs into one block.
type BlockBuilder struct {
	body  []byte
	count int
	last  Key
}

// Add appends p. Keys must be strictly ascending.
func (b *BlockBuilder) Add(p Pair) error {
	if b.count > 0 && p.Key.Compare(b.last) <= 0 {
		return dberrors.Invariantf("block keys not ascending: %s after %s", p.Key, b.last)
	}
	b.body = AppendPair(b.body, p)
	b.last = p.Key
	b.count++
	return nil
}

// Size is the uncompressed body size so far.
func (b *BlockBuilder) Size() int { return len(b.body) }

func (b *BlockBuilder) Count() int { return b.count }

// Finish encodes the block and resets the builder.
func (b *BlockBuilder) Finish(ct compression.Type) ([]byte, error) {
	packed, err := compression.Compress(ct, b.body)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, blockHeaderSize+len(packed)+checksumSize)
	out = append(out, blockMagic...)
	out = append(out, byte(ct))
	out = binary.LittleEndian.AppendUint32(out, uint32(b.count))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.body)))
	out = append(out, packed...)
	out = binary.LittleEndian.AppendUint64(out, xxh3.Hash(out))

	*b = BlockBuilder{}
	return out, nil
}

// EncodeBlock encodes an ascending run of pairs.
func EncodeBlock(pairs []Pair, ct compression.Type) ([]byte, error) {
	var b BlockBuilder
	for _, p := range pairs {
		if err := b.Add(p); err != nil {
			return nil, err
		}
	}
	return b.Finish(ct)
}

// DecodeBlock verifies and decodes a block produced by EncodeBlock.
func DecodeBlock(data []byte) ([]Pair, error) {
	if len(data) < blockHeaderSize+checksumSize || string(data[:4]) != blockMagic {
		return nil, dberrors.Corruptedf("record: bad block header")
	}

	payload := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if got := xxh3.Hash(payload); got != want {
		return nil, dberrors.Corruptedf("record: block checksum mismatch: %x != %x", got, want)
	}

	ct := compression.Type(payload[4])
	count := int(binary.LittleEndian.Uint32(payload[5:9]))
	rawLen := int(binary.LittleEndian.Uint32(payload[9:13]))

	body, err := compression.Decompress(ct, payload[blockHeaderSize:])
	if err != nil {
		return nil, dberrors.Corruptedf("record: decompress block: %v", err)
	}
	if len(body) != rawLen {
		return nil, dberrors.Corruptedf("record: block body is %d bytes, header says %d", len(body), rawLen)
	}

	pairs := make([]Pair, 0, count)
	for len(body) > 0 {
		p, n, err := DecodePair(body)
		if err != nil {
			return nil, err
		}
		if len(pairs) > 0 && p.Key.Compare(pairs[len(pairs)-1].Key) <= 0 {
			return nil, dberrors.Invariantf("block keys not ascending: %s after %s", p.Key, pairs[len(pairs)-1].Key)
		}
		pairs = append(pairs, p)
		body = body[n:]
	}
	if len(pairs) != count {
		return nil, dberrors.Corruptedf("record: block has %d pairs, header says %d", len(pairs), count)
	}

	return pairs, nil
}
