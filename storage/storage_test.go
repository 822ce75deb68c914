package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrife/tanager/storage"
	"github.com/jrife/tanager/storage/clock"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
	"github.com/jrife/tanager/storage/kv/plugins"
	"github.com/jrife/tanager/storage/keyspace"
)

var baseTime = time.Unix(1700000000, 0)

func tempDatastore(t *testing.T, clk clock.Clock) *storage.Datastore {
	t.Helper()

	ds, err := storage.OpenTemp(storage.Config{
		Driver:            "memory",
		Clock:             clk,
		SequenceBatchSize: 5,
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	t.Cleanup(func() { ds.Delete() })

	return ds
}

func commitValue(t *testing.T, ds *storage.Datastore, key string, value string) {
	t.Helper()

	ctx := context.Background()

	txn, err := ds.Transaction(ctx, storage.Write, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Set(ctx, keys.Key(key), []byte(value)); err != nil {
		txn.Cancel()
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func readValue(t *testing.T, ds *storage.Datastore, key string) []byte {
	t.Helper()

	ctx := context.Background()

	txn, err := ds.Transaction(ctx, storage.Read, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Cancel()

	value, err := txn.Get(ctx, keys.Key(key))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return value
}

func TestTransactionStateMachine(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	reader, err := ds.Transaction(ctx, storage.Read, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer reader.Cancel()

	if err := reader.Set(ctx, keys.Key("a"), []byte("1")); !errors.Is(err, storage.ErrTxReadonly) {
		t.Fatalf("expected ErrTxReadonly, got %#v", err)
	}

	if err := reader.Commit(ctx); !errors.Is(err, storage.ErrTxReadonly) {
		t.Fatalf("expected ErrTxReadonly, got %#v", err)
	}

	writer, err := ds.Transaction(ctx, storage.Write, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := writer.Set(ctx, keys.Key("a"), []byte("1")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := writer.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := writer.Get(ctx, keys.Key("a")); !errors.Is(err, storage.ErrTxFinished) {
		t.Fatalf("expected ErrTxFinished, got %#v", err)
	}

	if err := writer.Commit(ctx); !errors.Is(err, storage.ErrTxFinished) {
		t.Fatalf("expected ErrTxFinished, got %#v", err)
	}

	if err := writer.Cancel(); err != nil {
		t.Fatalf("expected cancel after commit to be a no-op, got %#v", err)
	}
}

func TestCancelIsNoOpOnStorage(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	commitValue(t, ds, "keep", "before")

	txn, err := ds.Transaction(ctx, storage.Write, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	txn.Set(ctx, keys.Key("keep"), []byte("after"))
	txn.Set(ctx, keys.Key("extra"), []byte("after"))

	if err := txn.Cancel(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if v := readValue(t, ds, "keep"); string(v) != "before" {
		t.Fatalf("expected the store to be untouched, got %#v", string(v))
	}

	if v := readValue(t, ds, "extra"); v != nil {
		t.Fatalf("expected the store to be untouched, got %#v", v)
	}
}

func TestOptimisticConflict(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	commitValue(t, ds, "test", "V0")

	transactions := make([]*storage.Transaction, 3)
	texts := []string{"other text 1", "other text 2", "other text 3"}

	for i := range transactions {
		txn, err := ds.Transaction(ctx, storage.Write, storage.Optimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		transactions[i] = txn

		// Read before writing so commit validation has a read
		// set to check
		if _, err := txn.Get(ctx, keys.Key("test")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := txn.Set(ctx, keys.Key("test"), []byte(texts[i])); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	if err := transactions[0].Commit(ctx); err != nil {
		t.Fatalf("expected the first committer to win, got %#v", err)
	}

	for _, txn := range transactions[1:] {
		if err := txn.Commit(ctx); !errors.Is(err, storage.ErrTxConflict) {
			t.Fatalf("expected ErrTxConflict, got %#v", err)
		}
	}

	if v := readValue(t, ds, "test"); string(v) != "other text 1" {
		t.Fatalf("expected the first committer's value, got %#v", string(v))
	}
}

func TestDelPrefix(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	for _, key := range []string{"p/a", "p/b", "q/a"} {
		commitValue(t, ds, key, "v")
	}

	txn, err := ds.Transaction(ctx, storage.Write, storage.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.DelPrefix(ctx, keys.Key("p/")); err != nil {
		txn.Cancel()
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if v := readValue(t, ds, "p/a"); v != nil {
		t.Fatalf("expected p/a to be deleted, got %#v", v)
	}

	if v := readValue(t, ds, "q/a"); v == nil {
		t.Fatalf("expected q/a to survive")
	}
}

func TestStorageVersionCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	ds, err := storage.Open(storage.Config{
		Driver:        "bbolt",
		DriverOptions: kv.Options{"path": path},
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := ds.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// Reopening a store stamped at the current version works
	ds, err = storage.Open(storage.Config{
		Driver:        "bbolt",
		DriverOptions: kv.Options{"path": path},
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := ds.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// Corrupt the version stamp underneath the datastore
	store, err := plugins.Driver("bbolt").Open(kv.Options{"path": path})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	ctx := context.Background()

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Set(ctx, keyspace.StorageVersion(), []byte{255}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := storage.Open(storage.Config{
		Driver:        "bbolt",
		DriverOptions: kv.Options{"path": path},
	}); !errors.Is(err, storage.ErrInvalidStorageVersion) {
		t.Fatalf("expected ErrInvalidStorageVersion, got %#v", err)
	}
}
