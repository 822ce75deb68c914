package kv_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
	"github.com/jrife/tanager/storage/kv/plugins"
)

func tempStore(t *testing.T, driver kv.Driver) kv.Store {
	t.Helper()

	store, err := driver.OpenTemp()

	if err != nil {
		t.Fatalf("could not build a %s store: %s", driver.Name(), err.Error())
	}

	t.Cleanup(func() { store.Delete() })

	return store
}

func set(t *testing.T, store kv.Store, key string, value string) {
	t.Helper()

	ctx := context.Background()

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Set(ctx, keys.Key(key), []byte(value)); err != nil {
		txn.Rollback()
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func get(t *testing.T, store kv.Store, key string) []byte {
	t.Helper()

	ctx := context.Background()

	txn, err := store.Begin(ctx, false, kv.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Rollback()

	value, err := txn.Get(ctx, keys.Key(key))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return value
}

func TestDrivers(t *testing.T) {
	for _, driver := range plugins.Drivers() {
		t.Run(driver.Name(), func(t *testing.T) {
			t.Run("ProgramOrder", func(t *testing.T) { testProgramOrder(t, driver) })
			t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, driver) })
			t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollbackDiscardsWrites(t, driver) })
			t.Run("ReadOnlyRejectsWrites", func(t *testing.T) { testReadOnlyRejectsWrites(t, driver) })
			t.Run("Scan", func(t *testing.T) { testScan(t, driver) })
			t.Run("Conditional", func(t *testing.T) { testConditional(t, driver) })
			t.Run("ClosedTx", func(t *testing.T) { testClosedTx(t, driver) })
		})
	}
}

func testProgramOrder(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Rollback()

	if err := txn.Set(ctx, keys.Key("a"), []byte("1")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, err := txn.Get(ctx, keys.Key("a"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "1" {
		t.Fatalf("expected a set to be visible to a later get in the same transaction, got %#v", value)
	}

	// Not visible to other transactions until commit
	if v := get(t, store, "a"); v != nil {
		t.Fatalf("expected uncommitted write to be invisible, got %#v", v)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if v := get(t, store, "a"); string(v) != "1" {
		t.Fatalf("expected committed write to be visible, got %#v", v)
	}
}

func testSnapshotIsolation(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	set(t, store, "test", "V0")

	reader, err := store.Begin(ctx, false, kv.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer reader.Rollback()

	set(t, store, "test", "V1")

	value, err := reader.Get(ctx, keys.Key("test"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "V0" {
		t.Fatalf("expected reader to keep observing its snapshot, got %#v", string(value))
	}
}

func testRollbackDiscardsWrites(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	set(t, store, "keep", "yes")

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	txn.Set(ctx, keys.Key("keep"), []byte("no"))
	txn.Set(ctx, keys.Key("extra"), []byte("no"))

	if err := txn.Rollback(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if v := get(t, store, "keep"); string(v) != "yes" {
		t.Fatalf("expected rollback to leave the store untouched, got %#v", v)
	}

	if v := get(t, store, "extra"); v != nil {
		t.Fatalf("expected rollback to leave the store untouched, got %#v", v)
	}
}

func testReadOnlyRejectsWrites(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	txn, err := store.Begin(ctx, false, kv.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Rollback()

	if err := txn.Set(ctx, keys.Key("a"), []byte("1")); !errors.Is(err, kv.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %#v", err)
	}

	if err := txn.Del(ctx, keys.Key("a")); !errors.Is(err, kv.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %#v", err)
	}
}

func testScan(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	for _, k := range []string{"a1", "a2", "a3", "b1", "b2"} {
		set(t, store, k, "v-"+k)
	}

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Rollback()

	// Uncommitted writes must participate in scans
	txn.Set(ctx, keys.Key("a15"), []byte("v-a15"))
	txn.Del(ctx, keys.Key("a3"))

	kvs, err := txn.Scan(ctx, keys.All().Prefix([]byte("a")), -1, kv.SortOrderAsc)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	var got []string

	for _, pair := range kvs {
		got = append(got, string(pair.Key))
	}

	diff := cmp.Diff([]string{"a1", "a15", "a2"}, got)

	if diff != "" {
		t.Fatalf(diff)
	}

	ks, err := txn.Keys(ctx, keys.All(), 2, kv.SortOrderDesc)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	got = nil

	for _, k := range ks {
		got = append(got, string(k))
	}

	diff = cmp.Diff([]string{"b2", "b1"}, got)

	if diff != "" {
		t.Fatalf(diff)
	}
}

func testConditional(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Rollback()

	if err := txn.Put(ctx, keys.Key("a"), []byte("1")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Put(ctx, keys.Key("a"), []byte("2")); !errors.Is(err, kv.ErrExists) {
		t.Fatalf("expected ErrExists, got %#v", err)
	}

	if err := txn.PutC(ctx, keys.Key("a"), []byte("2"), []byte("wrong")); !errors.Is(err, kv.ErrNotExpectedValue) {
		t.Fatalf("expected ErrNotExpectedValue, got %#v", err)
	}

	if err := txn.PutC(ctx, keys.Key("a"), []byte("2"), []byte("1")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.DelC(ctx, keys.Key("a"), []byte("1")); !errors.Is(err, kv.ErrNotExpectedValue) {
		t.Fatalf("expected ErrNotExpectedValue, got %#v", err)
	}

	if err := txn.DelC(ctx, keys.Key("a"), []byte("2")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func testClosedTx(t *testing.T, driver kv.Driver) {
	store := tempStore(t, driver)
	ctx := context.Background()

	txn, err := store.Begin(ctx, true, kv.Pessimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := txn.Get(ctx, keys.Key("a")); !errors.Is(err, kv.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %#v", err)
	}

	if err := txn.Commit(ctx); !errors.Is(err, kv.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %#v", err)
	}

	if err := txn.Rollback(); err != nil {
		t.Fatalf("expected rollback after commit to be a no-op, got %#v", err)
	}
}

func TestMemoryOptimisticConflict(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	set(t, store, "test", "V0")

	begin := func() kv.Tx {
		txn, err := store.Begin(ctx, true, kv.Optimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		return txn
	}

	t.Run("ReadThenWrite", func(t *testing.T) {
		t1, t2, t3 := begin(), begin(), begin()

		for i, txn := range []kv.Tx{t1, t2, t3} {
			if _, err := txn.Get(ctx, keys.Key("test")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if err := txn.Set(ctx, keys.Key("test"), []byte{byte('1' + i)}); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		}

		// Only the first committer wins, the rest conflict
		if err := t1.Commit(ctx); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := t2.Commit(ctx); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %#v", err)
		}

		if err := t3.Commit(ctx); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %#v", err)
		}

		if v := get(t, store, "test"); string(v) != "1" {
			t.Fatalf("expected the first committer's value, got %#v", string(v))
		}
	})

	t.Run("BlindWrites", func(t *testing.T) {
		set(t, store, "test", "V0")

		t1, t2, t3 := begin(), begin(), begin()

		texts := []string{"other text 1", "other text 2", "other text 3"}

		for i, txn := range []kv.Tx{t1, t2, t3} {
			if err := txn.Set(ctx, keys.Key("test"), []byte(texts[i])); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		}

		// Writes without a preceding read carry no read set, so
		// all three commit and the last writer wins.
		for _, txn := range []kv.Tx{t1, t2, t3} {
			if err := txn.Commit(ctx); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		}

		if v := get(t, store, "test"); string(v) != "other text 3" {
			t.Fatalf("expected the last writer to win, got %#v", string(v))
		}
	})
}

func TestMemoryMixedLockWriters(t *testing.T) {
	ctx := context.Background()

	t.Run("OptimisticCommitWaitsForPessimisticWriter", func(t *testing.T) {
		store := kv.NewMemoryStore()
		defer store.Close()

		set(t, store, "x", "V0")

		pessimistic, err := store.Begin(ctx, true, kv.Pessimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if _, err := pessimistic.Get(ctx, keys.Key("x")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		optimistic, err := store.Begin(ctx, true, kv.Optimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := optimistic.Set(ctx, keys.Key("x"), []byte("optimistic")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		committed := make(chan error, 1)

		go func() { committed <- optimistic.Commit(ctx) }()

		if err := pessimistic.Set(ctx, keys.Key("x"), []byte("pessimistic")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := pessimistic.Commit(ctx); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := <-committed; err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		// The optimistic write landed after the pessimistic writer
		// finished, never in the middle of its lifetime
		if v := get(t, store, "x"); string(v) != "optimistic" {
			t.Fatalf("expected the delayed optimistic write to be the final value, got %#v", string(v))
		}
	})

	t.Run("OptimisticReaderConflictsWithPessimisticWriter", func(t *testing.T) {
		store := kv.NewMemoryStore()
		defer store.Close()

		set(t, store, "x", "V0")

		pessimistic, err := store.Begin(ctx, true, kv.Pessimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if _, err := pessimistic.Get(ctx, keys.Key("x")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		optimistic, err := store.Begin(ctx, true, kv.Optimistic)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if _, err := optimistic.Get(ctx, keys.Key("x")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := optimistic.Set(ctx, keys.Key("x"), []byte("optimistic")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		committed := make(chan error, 1)

		go func() { committed <- optimistic.Commit(ctx) }()

		if err := pessimistic.Set(ctx, keys.Key("x"), []byte("pessimistic")); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if err := pessimistic.Commit(ctx); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		// Having read x before the pessimistic writer replaced it,
		// the optimistic transaction must fail validation
		if err := <-committed; !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %#v", err)
		}

		if v := get(t, store, "x"); string(v) != "pessimistic" {
			t.Fatalf("expected the pessimistic write to survive, got %#v", string(v))
		}
	})
}

func TestMemoryCloseWaitsForTransactions(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	txn, err := store.Begin(ctx, true, kv.Optimistic)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Set(ctx, keys.Key("a"), []byte("1")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	closed := make(chan error, 1)

	go func() { closed <- store.Close() }()

	// Close must block while the transaction is still in flight
	select {
	case err := <-closed:
		t.Fatalf("expected close to wait for the open transaction, got %#v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := <-closed; err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := store.Begin(ctx, false, kv.Optimistic); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %#v", err)
	}
}
