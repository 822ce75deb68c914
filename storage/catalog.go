package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/cache"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
)

// cached consults the catalog cache for read-only transactions. Write
// transactions bypass it both ways: they must observe their own
// uncommitted writes, and nothing uncommitted may leak into the
// cache. The epoch captured at begin keeps a reader whose snapshot
// predates an invalidation from repopulating the cache with the
// definition it can still see.
func (txn *Transaction) cached(lookup cache.Lookup, load func() (interface{}, error)) (interface{}, error) {
	if txn.typ != Read {
		return load()
	}

	return txn.ds.cache.GetOrLoad(lookup, txn.epoch, load)
}

func (txn *Transaction) getDefinition(ctx context.Context, key keys.Key, out interface{}) (bool, error) {
	raw, err := txn.Get(ctx, key)

	if err != nil || raw == nil {
		return false, err
	}

	if err := catalog.Unmarshal(raw, out); err != nil {
		return false, txn.fail(err)
	}

	return true, nil
}

func (txn *Transaction) putDefinition(ctx context.Context, key keys.Key, definition interface{}) error {
	value, err := catalog.Marshal(definition)

	if err != nil {
		return err
	}

	return txn.Set(ctx, key, value)
}

func scanDefinitions[T any](ctx context.Context, txn *Transaction, rng keys.Range) ([]T, error) {
	kvs, err := txn.Scan(ctx, rng, -1, kv.SortOrderAsc)

	if err != nil {
		return nil, err
	}

	definitions := make([]T, len(kvs))

	for i, pair := range kvs {
		if err := catalog.Unmarshal(pair.Value, &definitions[i]); err != nil {
			return nil, txn.fail(err)
		}
	}

	return definitions, nil
}

// AllNamespaces lists every namespace definition
func (txn *Transaction) AllNamespaces(ctx context.Context) ([]catalog.NamespaceDefinition, error) {
	return scanDefinitions[catalog.NamespaceDefinition](ctx, txn, keyspace.NamespaceRange())
}

// GetNamespaceByName returns the namespace definition named name
func (txn *Transaction) GetNamespaceByName(ctx context.Context, name string) (*catalog.NamespaceDefinition, error) {
	lookup := cache.Lookup{Kind: cache.KindNamespace, Name: name}

	definition, err := txn.cached(lookup, func() (interface{}, error) {
		key, err := keyspace.Namespace(name)

		if err != nil {
			return nil, err
		}

		var definition catalog.NamespaceDefinition

		ok, err := txn.getDefinition(ctx, key, &definition)

		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
		}

		return &definition, nil
	})

	if err != nil {
		return nil, err
	}

	return definition.(*catalog.NamespaceDefinition), nil
}

// DefineNamespace creates a new namespace, allocating its id
func (txn *Transaction) DefineNamespace(ctx context.Context, name string, comment string) (*catalog.NamespaceDefinition, error) {
	key, err := keyspace.Namespace(name)

	if err != nil {
		return nil, err
	}

	if exists, err := txn.Exists(ctx, key); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceExists, name)
	}

	id, err := txn.nextID(ctx, namespaceIDKeys(txn.ds.node))

	if err != nil {
		return nil, err
	}

	definition := &catalog.NamespaceDefinition{ID: catalog.NamespaceID(id), Name: name, Comment: comment}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return nil, err
	}

	txn.invalidate(func() {
		txn.ds.cache.Delete(cache.Lookup{Kind: cache.KindNamespace, Name: name})
	})

	return definition, nil
}

// RemoveNamespace deletes a namespace and everything under it. Its
// numeric id is never reused.
func (txn *Transaction) RemoveNamespace(ctx context.Context, name string) error {
	key, err := keyspace.Namespace(name)

	if err != nil {
		return err
	}

	var definition catalog.NamespaceDefinition

	ok, err := txn.getDefinition(ctx, key, &definition)

	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}

	if err := txn.DelRange(ctx, keyspace.NamespaceSubtree(definition.ID)); err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.ds.sequences.drop(string(databaseIDKeys(definition.ID, txn.ds.node).state))
	txn.invalidate(txn.ds.cache.Clear)

	return nil
}

// AllDatabases lists a namespace's database definitions
func (txn *Transaction) AllDatabases(ctx context.Context, ns catalog.NamespaceID) ([]catalog.DatabaseDefinition, error) {
	return scanDefinitions[catalog.DatabaseDefinition](ctx, txn, keyspace.DatabaseRange(ns))
}

// GetDatabaseByName returns the database definition named name within
// a namespace
func (txn *Transaction) GetDatabaseByName(ctx context.Context, ns catalog.NamespaceID, name string) (*catalog.DatabaseDefinition, error) {
	lookup := cache.Lookup{Kind: cache.KindDatabase, Namespace: ns, Name: name}

	definition, err := txn.cached(lookup, func() (interface{}, error) {
		key, err := keyspace.Database(ns, name)

		if err != nil {
			return nil, err
		}

		var definition catalog.DatabaseDefinition

		ok, err := txn.getDefinition(ctx, key, &definition)

		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
		}

		return &definition, nil
	})

	if err != nil {
		return nil, err
	}

	return definition.(*catalog.DatabaseDefinition), nil
}

// DefineDatabase creates a new database within a namespace,
// allocating its id
func (txn *Transaction) DefineDatabase(ctx context.Context, ns catalog.NamespaceID, name string, comment string) (*catalog.DatabaseDefinition, error) {
	key, err := keyspace.Database(ns, name)

	if err != nil {
		return nil, err
	}

	if exists, err := txn.Exists(ctx, key); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}

	id, err := txn.nextID(ctx, databaseIDKeys(ns, txn.ds.node))

	if err != nil {
		return nil, err
	}

	definition := &catalog.DatabaseDefinition{ID: catalog.DatabaseID(id), Namespace: ns, Name: name, Comment: comment}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return nil, err
	}

	txn.invalidate(func() {
		txn.ds.cache.Delete(cache.Lookup{Kind: cache.KindDatabase, Namespace: ns, Name: name})
	})

	return definition, nil
}

// RemoveDatabase deletes a database and everything under it
func (txn *Transaction) RemoveDatabase(ctx context.Context, ns catalog.NamespaceID, name string) error {
	key, err := keyspace.Database(ns, name)

	if err != nil {
		return err
	}

	var definition catalog.DatabaseDefinition

	ok, err := txn.getDefinition(ctx, key, &definition)

	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}

	if err := txn.DelRange(ctx, keyspace.DatabaseSubtree(ns, definition.ID)); err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.ds.sequences.drop(string(tableIDKeys(ns, definition.ID, txn.ds.node).state))
	txn.invalidate(txn.ds.cache.Clear)

	return nil
}

// AllTables lists a database's table definitions
func (txn *Transaction) AllTables(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID) ([]catalog.TableDefinition, error) {
	return scanDefinitions[catalog.TableDefinition](ctx, txn, keyspace.TableRange(ns, db))
}

// GetTable returns the table definition named tb within a database
func (txn *Transaction) GetTable(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (*catalog.TableDefinition, error) {
	lookup := txn.ds.cache.TableLookup(cache.KindTable, ns, db, tb)

	definition, err := txn.cached(lookup, func() (interface{}, error) {
		return txn.loadTable(ctx, ns, db, tb)
	})

	if err != nil {
		return nil, err
	}

	return definition.(*catalog.TableDefinition), nil
}

func (txn *Transaction) loadTable(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (*catalog.TableDefinition, error) {
	key, err := keyspace.Table(ns, db, tb)

	if err != nil {
		return nil, err
	}

	var definition catalog.TableDefinition

	ok, err := txn.getDefinition(ctx, key, &definition)

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tb)
	}

	return &definition, nil
}

// DefineTable creates a new table within a database, allocating its
// id
func (txn *Transaction) DefineTable(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, name string, changefeed *catalog.ChangefeedConfig, comment string) (*catalog.TableDefinition, error) {
	key, err := keyspace.Table(ns, db, name)

	if err != nil {
		return nil, err
	}

	if exists, err := txn.Exists(ctx, key); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	id, err := txn.nextID(ctx, tableIDKeys(ns, db, txn.ds.node))

	if err != nil {
		return nil, err
	}

	definition := &catalog.TableDefinition{
		ID:         catalog.TableID(id),
		Name:       name,
		Changefeed: changefeed,
		Comment:    comment,
	}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return nil, err
	}

	txn.invalidate(func() {
		txn.ds.cache.ClearTable(ns, db, name)
	})

	return definition, nil
}

// RemoveTable deletes a table, its definitions, and its records
func (txn *Transaction) RemoveTable(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, name string) error {
	key, err := keyspace.Table(ns, db, name)

	if err != nil {
		return err
	}

	if exists, err := txn.Exists(ctx, key); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	subtree, err := keyspace.TableSubtree(ns, db, name)

	if err != nil {
		return err
	}

	if err := txn.DelRange(ctx, subtree); err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.invalidate(func() {
		txn.ds.cache.ClearTable(ns, db, name)
	})

	return nil
}

func (txn *Transaction) requireTable(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) error {
	_, err := txn.loadTable(ctx, ns, db, tb)

	return err
}

// tableChildren lists one kind of table-scoped definition through the
// cache
func tableChildren[T any](ctx context.Context, txn *Transaction, kind cache.Kind, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, rng keys.Range, rngErr error) ([]T, error) {
	if rngErr != nil {
		return nil, rngErr
	}

	lookup := txn.ds.cache.TableLookup(kind, ns, db, tb)

	definitions, err := txn.cached(lookup, func() (interface{}, error) {
		return scanDefinitions[T](ctx, txn, rng)
	})

	if err != nil {
		return nil, err
	}

	return definitions.([]T), nil
}

// AllTableFields lists a table's field definitions
func (txn *Transaction) AllTableFields(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) ([]catalog.FieldDefinition, error) {
	rng, err := keyspace.FieldRange(ns, db, tb)

	return tableChildren[catalog.FieldDefinition](ctx, txn, cache.KindFields, ns, db, tb, rng, err)
}

// AllTableEvents lists a table's event definitions
func (txn *Transaction) AllTableEvents(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) ([]catalog.EventDefinition, error) {
	rng, err := keyspace.EventRange(ns, db, tb)

	return tableChildren[catalog.EventDefinition](ctx, txn, cache.KindEvents, ns, db, tb, rng, err)
}

// AllTableIndexes lists a table's index definitions
func (txn *Transaction) AllTableIndexes(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) ([]catalog.IndexDefinition, error) {
	rng, err := keyspace.IndexRange(ns, db, tb)

	return tableChildren[catalog.IndexDefinition](ctx, txn, cache.KindIndexes, ns, db, tb, rng, err)
}

// AllTableLiveQueries lists a table's live query registrations
func (txn *Transaction) AllTableLiveQueries(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) ([]catalog.LiveQueryDefinition, error) {
	rng, err := keyspace.LiveQueryRange(ns, db, tb)

	return tableChildren[catalog.LiveQueryDefinition](ctx, txn, cache.KindLiveQueries, ns, db, tb, rng, err)
}

// DefineField creates or replaces a field definition on a table
func (txn *Transaction) DefineField(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, definition catalog.FieldDefinition) error {
	if err := txn.requireTable(ctx, ns, db, tb); err != nil {
		return err
	}

	key, err := keyspace.Field(ns, db, tb, definition.Name)

	if err != nil {
		return err
	}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// RemoveField deletes a field definition from a table
func (txn *Transaction) RemoveField(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) error {
	key, err := keyspace.Field(ns, db, tb, name)

	if err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// DefineEvent creates or replaces an event definition on a table
func (txn *Transaction) DefineEvent(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, definition catalog.EventDefinition) error {
	if err := txn.requireTable(ctx, ns, db, tb); err != nil {
		return err
	}

	key, err := keyspace.Event(ns, db, tb, definition.Name)

	if err != nil {
		return err
	}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// RemoveEvent deletes an event definition from a table
func (txn *Transaction) RemoveEvent(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) error {
	key, err := keyspace.Event(ns, db, tb, name)

	if err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// DefineIndex creates or replaces an index definition on a table. A
// new index gets a fresh id; redefining keeps the existing one.
func (txn *Transaction) DefineIndex(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, definition catalog.IndexDefinition) (*catalog.IndexDefinition, error) {
	if err := txn.requireTable(ctx, ns, db, tb); err != nil {
		return nil, err
	}

	key, err := keyspace.Index(ns, db, tb, definition.Name)

	if err != nil {
		return nil, err
	}

	var existing catalog.IndexDefinition

	ok, err := txn.getDefinition(ctx, key, &existing)

	if err != nil {
		return nil, err
	}

	if ok {
		definition.ID = existing.ID
	} else {
		sk, err := indexIDKeys(ns, db, tb, txn.ds.node)

		if err != nil {
			return nil, err
		}

		id, err := txn.nextID(ctx, sk)

		if err != nil {
			return nil, err
		}

		definition.ID = catalog.IndexID(id)
	}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return nil, err
	}

	txn.invalidateTable(ns, db, tb)

	return &definition, nil
}

// RemoveIndex deletes an index definition from a table
func (txn *Transaction) RemoveIndex(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, name string) error {
	key, err := keyspace.Index(ns, db, tb, name)

	if err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// AllAccesses lists a database's access definitions
func (txn *Transaction) AllAccesses(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID) ([]catalog.AccessDefinition, error) {
	return scanDefinitions[catalog.AccessDefinition](ctx, txn, keyspace.AccessRange(ns, db))
}

// GetAccess returns the access definition named name within a
// database
func (txn *Transaction) GetAccess(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, name string) (*catalog.AccessDefinition, error) {
	key, err := keyspace.Access(ns, db, name)

	if err != nil {
		return nil, err
	}

	var definition catalog.AccessDefinition

	ok, err := txn.getDefinition(ctx, key, &definition)

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccessNotFound, name)
	}

	return &definition, nil
}

// DefineAccess creates or replaces an access definition on a database
func (txn *Transaction) DefineAccess(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, definition catalog.AccessDefinition) error {
	key, err := keyspace.Access(ns, db, definition.Name)

	if err != nil {
		return err
	}

	return txn.putDefinition(ctx, key, definition)
}

// RemoveAccess deletes an access definition from a database
func (txn *Transaction) RemoveAccess(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, name string) error {
	key, err := keyspace.Access(ns, db, name)

	if err != nil {
		return err
	}

	exists, err := txn.Exists(ctx, key)

	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrAccessNotFound, name)
	}

	return txn.Del(ctx, key)
}

// AddLiveQuery registers a live query against a table
func (txn *Transaction) AddLiveQuery(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, definition catalog.LiveQueryDefinition) error {
	if err := txn.requireTable(ctx, ns, db, tb); err != nil {
		return err
	}

	key, err := keyspace.LiveQuery(ns, db, tb, definition.ID)

	if err != nil {
		return err
	}

	if err := txn.putDefinition(ctx, key, definition); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

// RemoveLiveQuery deletes a live query registration from a table
func (txn *Transaction) RemoveLiveQuery(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string, id uuid.UUID) error {
	key, err := keyspace.LiveQuery(ns, db, tb, id)

	if err != nil {
		return err
	}

	if err := txn.Del(ctx, key); err != nil {
		return err
	}

	txn.invalidateTable(ns, db, tb)

	return nil
}

func (txn *Transaction) invalidateTable(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) {
	txn.invalidate(func() {
		txn.ds.cache.ClearTable(ns, db, tb)
	})
}
