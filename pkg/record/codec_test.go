package record

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"

	"gendb/pkg/compression"
	"gendb/pkg/dberrors"
)

func samplePairs(n int) []Pair {
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		u := Put([]byte(fmt.Sprintf("value-%d", i)))
		if i%5 == 0 {
			u = Delete()
		}
		pairs = append(pairs, Pair{Key: StringKey(fmt.Sprintf("key%04d", i)), Update: u})
	}
	return pairs
}

func TestPair_RoundTrip(t *testing.T) {
	for _, p := range samplePairs(10) {
		got, n, err := DecodePair(EncodePair(p))
		if err != nil {
			t.Fatalf("DecodePair failed: %v", err)
		}
		if n != len(EncodePair(p)) {
			t.Fatalf("Expected to consume %d bytes, consumed %d", len(EncodePair(p)), n)
		}
		if !got.Key.Equal(p.Key) || !got.Update.Equal(p.Update) {
			t.Fatalf("Expected %v, got %v", p, got)
		}
	}
}

func TestBlock_RoundTrip(t *testing.T) {
	pairs := samplePairs(200)

	for _, ct := range []compression.Type{compression.None, compression.Snappy, compression.Zstd, compression.LZ4} {
		t.Run(ct.String(), func(t *testing.T) {
			data, err := EncodeBlock(pairs, ct)
			if err != nil {
				t.Fatalf("EncodeBlock failed: %v", err)
			}

			got, err := DecodeBlock(data)
			if err != nil {
				t.Fatalf("DecodeBlock failed: %v", err)
			}
			if len(got) != len(pairs) {
				t.Fatalf("Expected %d pairs, got %d", len(pairs), len(got))
			}
			for i := range pairs {
				if !got[i].Key.Equal(pairs[i].Key) || !got[i].Update.Equal(pairs[i].Update) {
					t.Fatalf("Pair %d differs", i)
				}
			}
		})
	}
}

func TestBlock_DetectsCorruption(t *testing.T) {
	data, err := EncodeBlock(samplePairs(20), compression.None)
	if err != nil {
		t.Fatalf("EncodeBlock failed: %v", err)
	}
	data[len(data)/2] ^= 0xFF

	_, err = DecodeBlock(data)
	if !errors.Is(err, dberrors.ErrCorrupted) {
		t.Fatalf("Expected ErrCorrupted, got %v", err)
	}
}

func TestBlockBuilder_RejectsUnorderedKeys(t *testing.T) {
	var b BlockBuilder
	if err := b.Add(Pair{Key: StringKey("b"), Update: Put(nil)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	err := b.Add(Pair{Key: StringKey("a"), Update: Put(nil)})
	if !errors.Is(err, dberrors.ErrInvariant) {
		t.Fatalf("Expected ErrInvariant, got %v", err)
	}

	err = b.Add(Pair{Key: StringKey("b"), Update: Put(nil)})
	if !errors.Is(err, dberrors.ErrInvariant) {
		t.Fatalf("Expected ErrInvariant for duplicate key, got %v", err)
	}
}
