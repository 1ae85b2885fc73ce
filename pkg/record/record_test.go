package record

import (
	"testing"

	"gendb/pkg/encoding/tuple"
)

func TestKey_IsSubkeyOf(t *testing.T) {
	prefix := NewKey(tuple.Str("users"))
	child := NewKey(tuple.Str("users"), tuple.Int(7))
	other := NewKey(tuple.Str("usersX"))

	if !child.IsSubkeyOf(prefix) {
		t.Fatal("Expected child to be a subkey of prefix")
	}
	if !prefix.IsSubkeyOf(prefix) {
		t.Fatal("Expected key to be a subkey of itself")
	}
	if other.IsSubkeyOf(prefix) {
		t.Fatal("A longer string part is not a subkey")
	}
}

func TestAfterPrefix(t *testing.T) {
	prefix := NewKey(tuple.Str("users"))
	end := AfterPrefix(prefix)

	inside := []Key{
		prefix,
		NewKey(tuple.Str("users"), tuple.Int(-1)),
		NewKey(tuple.Str("users"), tuple.Str("zzz"), tuple.Bin([]byte{0xFF, 0xFF})),
	}
	for _, k := range inside {
		if !k.Less(end) {
			t.Fatalf("Expected %s < AfterPrefix(%s)", k, prefix)
		}
	}

	outside := NewKey(tuple.Str("users\x00"))
	if outside.Less(end) {
		t.Fatalf("Expected %s >= AfterPrefix(%s)", outside, prefix)
	}
}

func TestKey_IsReserved(t *testing.T) {
	if !NewKey(tuple.Reserved("config")).IsReserved() {
		t.Fatal("Expected reserved key")
	}
	if StringKey("config").IsReserved() {
		t.Fatal("Expected user key")
	}
	if MinKey().IsReserved() {
		t.Fatal("Min key is not reserved")
	}
}

func TestFromPair(t *testing.T) {
	k := StringKey("k")

	d := FromPair(Pair{Key: k, Update: Put([]byte("v"))})
	if d.State != Full || string(d.Value) != "v" || !d.Key.Equal(k) {
		t.Fatalf("Unexpected data %+v", d)
	}

	d = FromPair(Pair{Key: k, Update: Delete()})
	if d.State != Deleted || d.Value != nil {
		t.Fatalf("Unexpected data %+v", d)
	}
}

func TestStringPrefix(t *testing.T) {
	lo := StringPrefix("ab")
	hi := AfterPrefix(lo)

	tests := []struct {
		key    string
		inside bool
	}{
		{"ab", true},
		{"abc", true},
		{"ab\x00z", true},
		{"a", false},
		{"ac", false},
		{"b", false},
	}
	for _, tt := range tests {
		k := StringKey(tt.key)
		got := lo.Compare(k) <= 0 && k.Less(hi)
		if got != tt.inside {
			t.Fatalf("Expected %q inside=%v, got %v", tt.key, tt.inside, got)
		}
	}
}
