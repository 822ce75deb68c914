package storage

import (
	"context"
	"fmt"

	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/vs"
)

// GetTimestamp issues the next versionstamp for a database by
// bumping its persisted last-issued stamp. Persisting the stamp is
// what keeps versionstamps strictly increasing across restarts. The
// write participates in this transaction, so under optimistic locking
// two transactions stamping the same database conflict rather than
// issue the same stamp.
func (txn *Transaction) GetTimestamp(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID) (vs.VersionStamp, error) {
	if err := txn.writable(); err != nil {
		return vs.VersionStamp{}, err
	}

	key := keyspace.DatabaseVersionstamp(ns, db)

	raw, err := txn.txn.Get(ctx, key)

	if err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	stamp := vs.New(1)

	if raw != nil {
		last, err := vs.FromSlice(raw)

		if err != nil {
			return vs.VersionStamp{}, txn.fail(err)
		}

		if stamp, err = last.Next(); err != nil {
			return vs.VersionStamp{}, txn.fail(err)
		}
	}

	if err := txn.txn.Set(ctx, key, stamp.Slice()); err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	return stamp, nil
}

// SetTimestampForVersionstamp maps the wall-clock timestamp ts (unix
// seconds) to the database's current versionstamp, so change feed
// cleanup can translate wall-clock horizons into stamp horizons. The
// index must stay in time order even if the wall clock jumps
// backwards, so a regressing ts is recorded just after the newest
// entry instead.
func (txn *Transaction) SetTimestampForVersionstamp(ctx context.Context, ts uint64, ns catalog.NamespaceID, db catalog.DatabaseID) (vs.VersionStamp, error) {
	if err := txn.writable(); err != nil {
		return vs.VersionStamp{}, err
	}

	newest, err := txn.txn.Scan(ctx, keyspace.TimestampRange(ns, db), 1, kv.SortOrderDesc)

	if err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	if len(newest) > 0 {
		last, err := keyspace.DecodeTimestampVersionstamp(newest[0].Key)

		if err != nil {
			return vs.VersionStamp{}, txn.fail(err)
		}

		if ts < last {
			ts = last + 1
		}
	}

	raw, err := txn.txn.Get(ctx, keyspace.DatabaseVersionstamp(ns, db))

	if err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	if raw == nil {
		return vs.VersionStamp{}, txn.fail(fmt.Errorf("no versionstamp was issued for this database yet"))
	}

	stamp, err := vs.FromSlice(raw)

	if err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	if err := txn.txn.Set(ctx, keyspace.TimestampVersionstamp(ns, db, ts), stamp.Slice()); err != nil {
		return vs.VersionStamp{}, txn.fail(err)
	}

	return stamp, nil
}

// GetVersionstampFromTimestamp returns the newest versionstamp
// recorded at or before the wall-clock timestamp ts. It returns false
// if no stamp that old exists.
func (txn *Transaction) GetVersionstampFromTimestamp(ctx context.Context, ts uint64, ns catalog.NamespaceID, db catalog.DatabaseID) (vs.VersionStamp, bool, error) {
	if err := txn.active(); err != nil {
		return vs.VersionStamp{}, false, err
	}

	kvs, err := txn.txn.Scan(ctx, keyspace.TimestampRangeAt(ns, db, ts), 1, kv.SortOrderDesc)

	if err != nil {
		return vs.VersionStamp{}, false, txn.fail(err)
	}

	if len(kvs) == 0 {
		return vs.VersionStamp{}, false, nil
	}

	stamp, err := vs.FromSlice(kvs[0].Value)

	if err != nil {
		return vs.VersionStamp{}, false, txn.fail(err)
	}

	return stamp, true, nil
}
