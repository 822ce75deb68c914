package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/vs"
	"go.uber.org/zap"
)

// Change is one row-level change destined for a table's change feed
type Change struct {
	// Record is the id of the changed record
	Record string `json:"record"`
	// Value is the record's new value, or its diff when the table
	// is configured to store diffs. Nil for deletes.
	Value []byte `json:"value,omitempty"`
	// Deleted is true if the record was deleted
	Deleted bool `json:"deleted,omitempty"`
}

// ChangeSet is one change feed entry: all the changes one committed
// transaction made to one table
type ChangeSet struct {
	Stamp   vs.VersionStamp
	Table   string
	Changes []Change
}

// RecordChange buffers a change feed entry for a record of a
// changefeed-enabled table. Buffered changes are stamped and written
// when the transaction commits; a cancelled transaction discards
// them.
func (txn *Transaction) RecordChange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, change Change) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if txn.changes == nil {
		txn.changes = map[feedRef]map[string][]Change{}
	}

	ref := feedRef{namespace: ns, database: db}

	if txn.changes[ref] == nil {
		txn.changes[ref] = map[string][]Change{}
	}

	txn.changes[ref][tb] = append(txn.changes[ref][tb], change)

	return nil
}

// writeChangefeed materializes buffered changes: one fresh
// versionstamp per affected database, one feed entry per affected
// table, plus the wall-clock index entry cleanup relies on
func (txn *Transaction) writeChangefeed(ctx context.Context) error {
	if len(txn.changes) == 0 {
		return nil
	}

	now := uint64(txn.ds.clock.Now().Unix())

	for ref, tables := range txn.changes {
		stamp, err := txn.GetTimestamp(ctx, ref.namespace, ref.database)

		if err != nil {
			return err
		}

		if _, err := txn.SetTimestampForVersionstamp(ctx, now, ref.namespace, ref.database); err != nil {
			return err
		}

		for tb, changes := range tables {
			key, err := keyspace.Changefeed(ref.namespace, ref.database, stamp, tb)

			if err != nil {
				return txn.fail(err)
			}

			value, err := catalog.Marshal(changes)

			if err != nil {
				return txn.fail(err)
			}

			if err := txn.txn.Set(ctx, key, value); err != nil {
				return txn.fail(err)
			}
		}
	}

	return nil
}

// Changefeed reads up to limit change feed entries of a database with
// versionstamps at or above since, oldest first
func (txn *Transaction) Changefeed(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, since vs.VersionStamp, limit int) ([]ChangeSet, error) {
	kvs, err := txn.Scan(ctx, keyspace.ChangefeedRangeSince(ns, db, since), limit, kv.SortOrderAsc)

	if err != nil {
		return nil, err
	}

	sets := make([]ChangeSet, len(kvs))

	for i, pair := range kvs {
		stamp, tb, err := keyspace.DecodeChangefeed(pair.Key)

		if err != nil {
			return nil, txn.fail(err)
		}

		var changes []Change

		if err := catalog.Unmarshal(pair.Value, &changes); err != nil {
			return nil, txn.fail(err)
		}

		sets[i] = ChangeSet{Stamp: stamp, Table: tb, Changes: changes}
	}

	return sets, nil
}

// ChangefeedVersionstamp translates a wall-clock time into the newest
// versionstamp of the database recorded at or before it. It returns
// false if the database has no stamp that old.
func (ds *Datastore) ChangefeedVersionstamp(ctx context.Context, at time.Time, ns catalog.NamespaceID, db catalog.DatabaseID) (vs.VersionStamp, bool, error) {
	txn, err := ds.Transaction(ctx, Read, Optimistic)

	if err != nil {
		return vs.VersionStamp{}, false, err
	}

	defer txn.Cancel()

	return txn.GetVersionstampFromTimestamp(ctx, uint64(at.Unix()), ns, db)
}

// ChangefeedCleanup prunes, for every changefeed-enabled table's
// database, all feed entries older than that database's retention
// horizon as of now. The horizon is the longest expiry configured on
// any of the database's tables, translated from wall-clock time to a
// versionstamp through the timestamp index.
func (ds *Datastore) ChangefeedCleanup(ctx context.Context, now time.Time) error {
	txn, err := ds.Transaction(ctx, Write, Optimistic)

	if err != nil {
		return err
	}

	defer txn.Cancel()

	namespaces, err := txn.AllNamespaces(ctx)

	if err != nil {
		return err
	}

	for _, namespace := range namespaces {
		databases, err := txn.AllDatabases(ctx, namespace.ID)

		if err != nil {
			return err
		}

		for _, database := range databases {
			if err := txn.cleanupDatabaseChangefeed(ctx, namespace.ID, database.ID, now); err != nil {
				return err
			}
		}
	}

	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("could not commit change feed cleanup: %w", err)
	}

	return nil
}

func (txn *Transaction) cleanupDatabaseChangefeed(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, now time.Time) error {
	tables, err := txn.AllTables(ctx, ns, db)

	if err != nil {
		return err
	}

	expiries := []time.Duration{}

	for _, table := range tables {
		if table.Changefeed != nil && table.Changefeed.Expiry > 0 {
			expiries = append(expiries, table.Changefeed.Expiry)
		}
	}

	if len(expiries) == 0 {
		return nil
	}

	// The database keeps entries long enough for its most patient
	// table
	sort.Slice(expiries, func(i, j int) bool { return expiries[i] > expiries[j] })

	horizon := now.Add(-expiries[0])

	if horizon.Unix() < 0 {
		return nil
	}

	stamp, ok, err := txn.GetVersionstampFromTimestamp(ctx, uint64(horizon.Unix()), ns, db)

	if err != nil || !ok {
		return err
	}

	if err := txn.DelRange(ctx, keyspace.ChangefeedRangeBefore(ns, db, stamp)); err != nil {
		return err
	}

	// Index entries below the horizon are no longer needed to
	// translate any future cleanup time
	if err := txn.DelRange(ctx, keyspace.TimestampRange(ns, db).Lt(keyspace.TimestampVersionstamp(ns, db, uint64(horizon.Unix())))); err != nil {
		return err
	}

	txn.logger.Debug("pruned change feed",
		zap.Uint32("namespace", uint32(ns)),
		zap.Uint32("database", uint32(db)),
		zap.String("stamp", stamp.String()))

	return nil
}
