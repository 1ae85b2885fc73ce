package batch

import (
	"context"

	"gendb/pkg/record"
)

// WriteBatch groups mutations under one durability mode. It must be
// terminated exactly once with Finish or Cancel.
type WriteBatch interface {
	Set(k record.Key, value []byte) error
	Delete(k record.Key) error
	Finish(ctx context.Context) error
	Cancel()
}
