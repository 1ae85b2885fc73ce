// Package db is the narrow interface collaborators such as log shippers and
// exporters consume the store through.
package db

import (
	"context"

	"gendb/pkg/batch"
	"gendb/pkg/iterator"
	"gendb/pkg/record"
	"gendb/pkg/snapshot"
)

// KV is the public key-value API.
type KV interface {
	Get(ctx context.Context, k record.Key) (record.Data, error)
	Set(ctx context.Context, k record.Key, value []byte) error
	Delete(ctx context.Context, k record.Key) error
	NewBatch() (batch.WriteBatch, error)

	// Iteration
	Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
}
