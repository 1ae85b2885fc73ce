// Package export copies a point-in-time view of the store into other
// storage formats.
package export

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"gendb/pkg/snapshot"
)

const defaultBatchSize = 1000

// ToLevelDB writes every live record of snap into a LevelDB database at
// path, keyed by the encoded record key so LevelDB's byte order matches
// the store's. It returns the number of records written.
func ToLevelDB(ctx context.Context, snap snapshot.Snapshot, path string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	defer ldb.Close()

	wo := &opt.WriteOptions{Sync: true}
	batch := new(leveldb.Batch)
	written := 0

	it := snap.Scan(ctx, nil, nil, false)
	defer it.Close()
	for it.Next() {
		batch.Put(it.Key().Bytes(), it.Value())
		if batch.Len() < batchSize {
			continue
		}
		if err := ldb.Write(batch, wo); err != nil {
			return written, errors.Wrap(err, "failed to write leveldb batch")
		}
		written += batch.Len()
		batch.Reset()
	}
	if err := it.Err(); err != nil {
		return written, err
	}
	if batch.Len() > 0 {
		if err := ldb.Write(batch, wo); err != nil {
			return written, errors.Wrap(err, "failed to write leveldb batch")
		}
		written += batch.Len()
	}
	return written, nil
}
