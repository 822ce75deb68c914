package keyspace

import (
	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/kv/keys"
)

// Table returns the key of a table definition
func Table(ns catalog.NamespaceID, db catalog.DatabaseID, name string) (keys.Key, error) {
	return databaseLevel(ns, db).tag("!tb").str(name).build()
}

// TablePrefix returns the lower bound for scanning a database's table
// definitions
func TablePrefix(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Key {
	return databaseLevel(ns, db).tag("!tb").key
}

// TableSuffix returns the inclusive upper bound for scanning a
// database's table definitions
func TableSuffix(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Key {
	return suffix(TablePrefix(ns, db))
}

// TableRange returns the range of a database's table definitions
func TableRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag("!tb").rng()
}

// DecodeTable extracts the table name from a definition key
func DecodeTable(k keys.Key) (string, error) {
	var (
		ns   catalog.NamespaceID
		db   catalog.DatabaseID
		name string
	)

	d := decode(k).database(&ns, &db).tag("!tb").str(&name)

	return name, d.done()
}

// TableSubtree returns the range of every key belonging to a table:
// its field, event, index, and live query definitions plus all its
// records
func TableSubtree(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	b := tableLevel(ns, db, tb)

	if b.err != nil {
		return keys.Range{}, b.err
	}

	return b.rng(), nil
}

// TableIDState returns the key of a node's table-id sequence state
// within a database
func TableIDState(ns catalog.NamespaceID, db catalog.DatabaseID, node uuid.UUID) keys.Key {
	return databaseLevel(ns, db).tag("!ti").raw(node[:]).key
}

// TableIDStateRange returns the range of all nodes' table-id sequence
// state records within a database
func TableIDStateRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag("!ti").rng()
}

// TableIDBatch returns the key of a reserved table-id batch
func TableIDBatch(ns catalog.NamespaceID, db catalog.DatabaseID, start uint32) keys.Key {
	return databaseLevel(ns, db).tag("!th").uint32(start).key
}

// TableIDBatchRange returns the range of all reserved table-id
// batches within a database in ascending start order
func TableIDBatchRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag("!th").rng()
}

// DecodeTableIDBatch extracts the batch start from a batch key
func DecodeTableIDBatch(k keys.Key) (uint32, error) {
	var (
		ns    catalog.NamespaceID
		db    catalog.DatabaseID
		start uint32
	)

	d := decode(k).database(&ns, &db).tag("!th").uint32(&start)

	return start, d.done()
}

// Field returns the key of a field definition
func Field(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!fd").str(name).build()
}

// FieldRange returns the range of a table's field definitions
func FieldRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!fd"))
}

// DecodeField extracts the field name from a definition key
func DecodeField(k keys.Key) (string, error) {
	return decodeTableChild(k, "!fd")
}

// Event returns the key of an event definition
func Event(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!ev").str(name).build()
}

// EventRange returns the range of a table's event definitions
func EventRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!ev"))
}

// DecodeEvent extracts the event name from a definition key
func DecodeEvent(k keys.Key) (string, error) {
	return decodeTableChild(k, "!ev")
}

// Index returns the key of an index definition
func Index(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!ix").str(name).build()
}

// IndexRange returns the range of a table's index definitions
func IndexRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!ix"))
}

// DecodeIndex extracts the index name from a definition key
func DecodeIndex(k keys.Key) (string, error) {
	return decodeTableChild(k, "!ix")
}

// IndexIDState returns the key of a node's index-id sequence state
// within a table
func IndexIDState(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, node uuid.UUID) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!ii").raw(node[:]).build()
}

// IndexIDStateRange returns the range of all nodes' index-id sequence
// state records within a table
func IndexIDStateRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!ii"))
}

// IndexIDBatch returns the key of a reserved index-id batch
func IndexIDBatch(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, start uint32) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!ih").uint32(start).build()
}

// IndexIDBatchRange returns the range of all reserved index-id
// batches within a table in ascending start order
func IndexIDBatchRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!ih"))
}

// DecodeIndexIDBatch extracts the batch start from a batch key
func DecodeIndexIDBatch(k keys.Key) (uint32, error) {
	var (
		ns    catalog.NamespaceID
		db    catalog.DatabaseID
		tb    string
		start uint32
	)

	d := decode(k).table(&ns, &db, &tb).tag("!ih").uint32(&start)

	return start, d.done()
}

// LiveQuery returns the key of a live query registration
func LiveQuery(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, id uuid.UUID) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag("!lq").raw(id[:]).build()
}

// LiveQueryRange returns the range of a table's live query
// registrations
func LiveQueryRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag("!lq"))
}

// DecodeLiveQuery extracts the live query id from a registration key
func DecodeLiveQuery(k keys.Key) (uuid.UUID, error) {
	var (
		ns catalog.NamespaceID
		db catalog.DatabaseID
		tb string
		id uuid.UUID
	)

	d := decode(k).table(&ns, &db, &tb).tag("!lq").raw(id[:])

	return id, d.done()
}

// Record returns the key of a record
func Record(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, id string) (keys.Key, error) {
	return tableLevel(ns, db, tb).tag(childTag).str(id).build()
}

// RecordRange returns the range of a table's records in ascending
// record id order
func RecordRange(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (keys.Range, error) {
	return childRange(tableLevel(ns, db, tb).tag(childTag))
}

// DecodeRecord extracts the record id from a record key
func DecodeRecord(k keys.Key) (string, error) {
	var (
		ns catalog.NamespaceID
		db catalog.DatabaseID
		tb string
		id string
	)

	d := decode(k).table(&ns, &db, &tb).tag(childTag).str(&id)

	return id, d.done()
}

func childRange(b builder) (keys.Range, error) {
	if b.err != nil {
		return keys.Range{}, b.err
	}

	return b.rng(), nil
}

func decodeTableChild(k keys.Key, tag string) (string, error) {
	var (
		ns   catalog.NamespaceID
		db   catalog.DatabaseID
		tb   string
		name string
	)

	d := decode(k).table(&ns, &db, &tb).tag(tag).str(&name)

	return name, d.done()
}
