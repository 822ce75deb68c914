package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage"
	"github.com/jrife/tanager/storage/kv"
)

func TestSequenceSerialAllocation(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	// Spanning multiple batches: the batch size in tempDatastore is 5
	var last catalog.TableID

	for i := 0; i < 12; i++ {
		id, err := ds.NextTableID(ctx, 1, 1)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if i > 0 && id != last+1 {
			t.Fatalf("expected gapless ids under a single writer, got %d after %d", id, last)
		}

		last = id
	}

	// Independent domains do not share a sequence
	id, err := ds.NextTableID(ctx, 1, 2)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if id != 0 {
		t.Fatalf("expected a fresh domain to start at 0, got %d", id)
	}
}

func TestSequenceConcurrentAllocation(t *testing.T) {
	ds := tempDatastore(t, nil)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = map[catalog.DatabaseID]int{}
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 25; j++ {
				id, err := ds.NextDatabaseID(ctx, 1)

				if err != nil {
					t.Errorf("expected err to be nil, got %#v", err)

					return
				}

				mu.Lock()
				ids[id]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if len(ids) != 200 {
		t.Fatalf("expected 200 distinct ids, got %d", len(ids))
	}

	for id, n := range ids {
		if n != 1 {
			t.Fatalf("expected id %d to be allocated once, got %d", id, n)
		}
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	ctx := context.Background()

	open := func() *storage.Datastore {
		ds, err := storage.Open(storage.Config{
			Driver:            "bbolt",
			DriverOptions:     kv.Options{"path": path},
			SequenceBatchSize: 5,
		})

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		return ds
	}

	ds := open()

	var highest catalog.NamespaceID

	for i := 0; i < 7; i++ {
		id, err := ds.NextNamespaceID(ctx)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		highest = id
	}

	if err := ds.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// A new process with a new node identity must not recycle ids
	ds = open()
	defer ds.Close()

	id, err := ds.NextNamespaceID(ctx)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if id <= highest {
		t.Fatalf("expected ids to keep increasing across reopen, got %d after %d", id, highest)
	}
}
