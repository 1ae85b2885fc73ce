package snapshot

import (
	"context"

	"gendb/pkg/iterator"
	"gendb/pkg/record"
	"gendb/pkg/types"
)

// Snapshot is a point-in-time, read-only view of the store.
type Snapshot interface {
	// Sequence returns the last log sequence number the view includes.
	Sequence() types.SeqN
	// Get returns the newest version of k as of the snapshot.
	Get(k record.Key) (record.Data, error)
	// Scan iterates live records in [lo, hi). Nil bounds are open.
	Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator
	// Close releases the snapshot.
	Close() error
}
