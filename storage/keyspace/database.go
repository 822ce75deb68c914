package keyspace

import (
	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/kv/keys"
)

// Database returns the key of a database definition
func Database(ns catalog.NamespaceID, name string) (keys.Key, error) {
	return namespaceLevel(ns).tag("!db").str(name).build()
}

// DatabasePrefix returns the lower bound for scanning a namespace's
// database definitions
func DatabasePrefix(ns catalog.NamespaceID) keys.Key {
	return namespaceLevel(ns).tag("!db").key
}

// DatabaseSuffix returns the inclusive upper bound for scanning a
// namespace's database definitions
func DatabaseSuffix(ns catalog.NamespaceID) keys.Key {
	return suffix(DatabasePrefix(ns))
}

// DatabaseRange returns the range of a namespace's database
// definitions
func DatabaseRange(ns catalog.NamespaceID) keys.Range {
	return namespaceLevel(ns).tag("!db").rng()
}

// DecodeDatabase extracts the namespace id and database name from a
// definition key
func DecodeDatabase(k keys.Key) (catalog.NamespaceID, string, error) {
	var (
		ns   catalog.NamespaceID
		name string
	)

	d := decode(k).namespace(&ns).tag("!db").str(&name)

	return ns, name, d.done()
}

// DatabaseSubtree returns the range of every key belonging to a
// database
func DatabaseSubtree(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).rng()
}

// DatabaseIDState returns the key of a node's database-id sequence
// state within a namespace
func DatabaseIDState(ns catalog.NamespaceID, node uuid.UUID) keys.Key {
	return namespaceLevel(ns).tag("!di").raw(node[:]).key
}

// DatabaseIDStateRange returns the range of all nodes' database-id
// sequence state records within a namespace
func DatabaseIDStateRange(ns catalog.NamespaceID) keys.Range {
	return namespaceLevel(ns).tag("!di").rng()
}

// DatabaseIDBatch returns the key of a reserved database-id batch
func DatabaseIDBatch(ns catalog.NamespaceID, start uint32) keys.Key {
	return namespaceLevel(ns).tag("!dh").uint32(start).key
}

// DatabaseIDBatchRange returns the range of all reserved database-id
// batches within a namespace in ascending start order
func DatabaseIDBatchRange(ns catalog.NamespaceID) keys.Range {
	return namespaceLevel(ns).tag("!dh").rng()
}

// DecodeDatabaseIDBatch extracts the batch start from a batch key
func DecodeDatabaseIDBatch(k keys.Key) (uint32, error) {
	var (
		ns    catalog.NamespaceID
		start uint32
	)

	d := decode(k).namespace(&ns).tag("!dh").uint32(&start)

	return start, d.done()
}

// Access returns the key of an access definition
func Access(ns catalog.NamespaceID, db catalog.DatabaseID, name string) (keys.Key, error) {
	return databaseLevel(ns, db).tag("!ac").str(name).build()
}

// AccessPrefix returns the lower bound for scanning a database's
// access definitions
func AccessPrefix(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Key {
	return databaseLevel(ns, db).tag("!ac").key
}

// AccessSuffix returns the inclusive upper bound for scanning a
// database's access definitions
func AccessSuffix(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Key {
	return suffix(AccessPrefix(ns, db))
}

// AccessRange returns the range of a database's access definitions
func AccessRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag("!ac").rng()
}

// DecodeAccess extracts the access name from a definition key
func DecodeAccess(k keys.Key) (string, error) {
	var (
		ns   catalog.NamespaceID
		db   catalog.DatabaseID
		name string
	)

	d := decode(k).database(&ns, &db).tag("!ac").str(&name)

	return name, d.done()
}

// DatabaseVersionstamp returns the key of a database's last-issued
// versionstamp record
func DatabaseVersionstamp(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Key {
	return databaseLevel(ns, db).tag("!vs").key
}

// TimestampVersionstamp returns the key mapping a wall-clock
// timestamp to the versionstamp current at that time. Timestamps are
// unix seconds encoded fixed-width so the index scans in time order.
func TimestampVersionstamp(ns catalog.NamespaceID, db catalog.DatabaseID, ts uint64) keys.Key {
	return databaseLevel(ns, db).tag("!ts").uint64(ts).key
}

// TimestampRange returns the range of a database's
// timestamp-to-versionstamp index in ascending time order
func TimestampRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag("!ts").rng()
}

// TimestampRangeAt returns the portion of the index at or below ts,
// used to find the newest versionstamp not newer than a wall-clock
// time
func TimestampRangeAt(ns catalog.NamespaceID, db catalog.DatabaseID, ts uint64) keys.Range {
	return TimestampRange(ns, db).Lte(TimestampVersionstamp(ns, db, ts))
}

// DecodeTimestampVersionstamp extracts the timestamp from an index
// key
func DecodeTimestampVersionstamp(k keys.Key) (uint64, error) {
	var (
		ns catalog.NamespaceID
		db catalog.DatabaseID
		ts uint64
	)

	d := decode(k).database(&ns, &db).tag("!ts").uint64(&ts)

	return ts, d.done()
}
