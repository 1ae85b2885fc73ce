package db

import (
	"context"

	"gendb/pkg/iterator"
	"gendb/pkg/record"
)

// Scanner is anything that can open a range iterator: a KV or a snapshot.
type Scanner interface {
	Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator
}

// SearchOptions bound a range search.
type SearchOptions struct {
	// Prefix, when set, narrows the range to keys having it as a prefix.
	Prefix  *record.Key
	Reverse bool
	Limit   int
}

// SearchResult is one record handed to a SearchCallback.
type SearchResult struct {
	Key   record.Key
	Value []byte
}

// SearchCallback receives results in scan order. Returning an error stops
// the search and is returned from SearchRange.
type SearchCallback func(SearchResult) error

// SearchRange scans [start, end) through src and calls callback for every
// live record. Nil bounds are open.
func SearchRange(ctx context.Context, src Scanner, start, end *record.Key, opts SearchOptions, callback SearchCallback) error {
	if opts.Prefix != nil {
		start, end = narrow(start, end, *opts.Prefix)
	}

	it := src.Scan(ctx, start, end, opts.Reverse)
	defer it.Close()

	count := 0
	for (opts.Limit == 0 || count < opts.Limit) && it.Next() {
		if err := callback(SearchResult{Key: it.Key(), Value: it.Value()}); err != nil {
			return err
		}
		count++
	}
	return it.Err()
}

// narrow intersects [start, end) with the range covered by prefix.
func narrow(start, end *record.Key, prefix record.Key) (*record.Key, *record.Key) {
	lo, hi := prefix, record.AfterPrefix(prefix)
	if start != nil && start.Compare(lo) > 0 {
		lo = *start
	}
	if end != nil && end.Compare(hi) < 0 {
		hi = *end
	}
	return &lo, &hi
}
