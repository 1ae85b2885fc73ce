package iterator

import "gendb/pkg/record"

// Iterator walks live records in key order. It is positioned before the
// first record; call Next before Key or Value.
type Iterator interface {
	// Next advances to the next record and reports whether there is one.
	Next() bool
	// Key returns the current key.
	Key() record.Key
	// Value returns the current value.
	Value() []byte
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases resources.
	Close() error
}

// Collect drains it into key/value pairs and closes it.
func Collect(it Iterator) ([]record.Pair, error) {
	defer it.Close()

	var out []record.Pair
	for it.Next() {
		out = append(out, record.Pair{Key: it.Key(), Update: record.Put(it.Value())})
	}
	return out, it.Err()
}
