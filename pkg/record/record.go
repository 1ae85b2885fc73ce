// Package record defines the engine's record model: ordered composite keys,
// updates (payload or tombstone) and read results.
package record

import (
	"bytes"
	"encoding/hex"
	"strings"

	"gendb/pkg/encoding/tuple"
)

// Key is an immutable composite key. It holds the order-preserving
// encoding of its parts, so keys compare as plain strings.
type Key struct {
	enc string
}

// NewKey builds a key from typed parts.
func NewKey(parts ...tuple.Part) Key {
	return Key{enc: string(tuple.Encode(parts...))}
}

// KeyFromBytes wraps an already encoded key.
func KeyFromBytes(b []byte) Key {
	return Key{enc: string(b)}
}

// StringKey is shorthand for a single string part key.
func StringKey(s string) Key {
	return NewKey(tuple.Str(s))
}

// StringPrefix is the encoded prefix shared by every single-string key
// starting with s. Pair it with AfterPrefix to bound a prefix scan; keys
// continuing s with a raw 0xFF byte sort past that bound.
func StringPrefix(s string) Key {
	enc := tuple.Encode(tuple.Str(s))
	// drop the two-byte string terminator
	return Key{enc: string(enc[:len(enc)-2])}
}

// MinKey sorts before every other key.
func MinKey() Key { return Key{} }

// Bytes returns a copy of the encoded key.
func (k Key) Bytes() []byte { return []byte(k.enc) }

// Encoded returns the encoded key without copying.
func (k Key) Encoded() string { return k.enc }

func (k Key) Len() int { return len(k.enc) }

func (k Key) IsMin() bool { return k.enc == "" }

func (k Key) Compare(o Key) int { return strings.Compare(k.enc, o.enc) }

func (k Key) Less(o Key) bool { return k.enc < o.enc }

func (k Key) Equal(o Key) bool { return k.enc == o.enc }

// Parts decodes the key. AfterPrefix keys do not decode.
func (k Key) Parts() ([]tuple.Part, error) {
	return tuple.Decode([]byte(k.enc))
}

// IsSubkeyOf reports whether the leading parts of k equal the parts of
// prefix. Part encodings are self-delimiting, so a byte prefix at a part
// boundary is a part prefix.
func (k Key) IsSubkeyOf(prefix Key) bool {
	return strings.HasPrefix(k.enc, prefix.enc)
}

// IsReserved reports whether k lives in the engine's reserved keyspace.
func (k Key) IsReserved() bool {
	return len(k.enc) > 0 && k.enc[0] == byte(tuple.TypeReserved)
}

// AfterPrefix returns the smallest key greater than every key having
// prefix as a prefix. It is only meaningful as an exclusive range end.
func AfterPrefix(prefix Key) Key {
	return Key{enc: prefix.enc + string([]byte{tuple.MaxTag})}
}

func (k Key) String() string {
	if k.enc == "" {
		return "()"
	}
	parts, err := k.Parts()
	if err != nil {
		return "0x" + hex.EncodeToString([]byte(k.enc))
	}
	return tuple.Format(parts)
}

// Update is either a payload or a deletion tombstone.
type Update struct {
	Value     []byte
	Tombstone bool
}

func Put(value []byte) Update { return Update{Value: value} }

func Delete() Update { return Update{Tombstone: true} }

func (u Update) Equal(o Update) bool {
	return u.Tombstone == o.Tombstone && bytes.Equal(u.Value, o.Value)
}

// Size approximates the encoded size of the update.
func (u Update) Size() int { return len(u.Value) + 1 }

// Pair is a key with its update, the unit stored in segments and logs.
type Pair struct {
	Key    Key
	Update Update
}

// State is the outcome of a read.
type State uint8

const (
	NotProvided State = iota
	Full
	Deleted
)

func (s State) String() string {
	switch s {
	case Full:
		return "FULL"
	case Deleted:
		return "DELETED"
	default:
		return "NOT_PROVIDED"
	}
}

// Data is a read result. Value is set only for Full.
type Data struct {
	State State
	Key   Key
	Value []byte
}

// FromPair converts a stored pair into a read result.
func FromPair(p Pair) Data {
	if p.Update.Tombstone {
		return Data{State: Deleted, Key: p.Key}
	}
	return Data{State: Full, Key: p.Key, Value: p.Update.Value}
}

func (d Data) Found() bool { return d.State == Full }
