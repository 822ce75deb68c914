package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
)

const (
	// DefaultSequenceBatchSize is how many ids a node reserves at a
	// time when its cursor runs dry
	DefaultSequenceBatchSize = 100

	maxReserveAttempts = 10
	reserveBackoffBase = 5 * time.Millisecond
	reserveBackoffCap  = 500 * time.Millisecond
)

// sequenceState is a node's persisted cursor for one id domain
type sequenceState struct {
	Next uint32 `json:"next"`
}

// sequenceBatch records one reserved id range [start, To). The start
// is in the key.
type sequenceBatch struct {
	To    uint32    `json:"to"`
	Owner uuid.UUID `json:"owner"`
}

// sequenceKeys describes where one id domain keeps its records
type sequenceKeys struct {
	state   keys.Key
	batch   func(start uint32) keys.Key
	batches keys.Range
}

func namespaceIDKeys(node uuid.UUID) sequenceKeys {
	return sequenceKeys{
		state:   keyspace.NamespaceIDState(node),
		batch:   keyspace.NamespaceIDBatch,
		batches: keyspace.NamespaceIDBatchRange(),
	}
}

func databaseIDKeys(ns catalog.NamespaceID, node uuid.UUID) sequenceKeys {
	return sequenceKeys{
		state:   keyspace.DatabaseIDState(ns, node),
		batch:   func(start uint32) keys.Key { return keyspace.DatabaseIDBatch(ns, start) },
		batches: keyspace.DatabaseIDBatchRange(ns),
	}
}

func tableIDKeys(ns catalog.NamespaceID, db catalog.DatabaseID, node uuid.UUID) sequenceKeys {
	return sequenceKeys{
		state:   keyspace.TableIDState(ns, db, node),
		batch:   func(start uint32) keys.Key { return keyspace.TableIDBatch(ns, db, start) },
		batches: keyspace.TableIDBatchRange(ns, db),
	}
}

func indexIDKeys(ns catalog.NamespaceID, db catalog.DatabaseID, tb string, node uuid.UUID) (sequenceKeys, error) {
	state, err := keyspace.IndexIDState(ns, db, tb, node)

	if err != nil {
		return sequenceKeys{}, err
	}

	batches, err := keyspace.IndexIDBatchRange(ns, db, tb)

	if err != nil {
		return sequenceKeys{}, err
	}

	return sequenceKeys{
		state: state,
		batch: func(start uint32) keys.Key {
			key, _ := keyspace.IndexIDBatch(ns, db, tb, start)

			return key
		},
		batches: batches,
	}, nil
}

// sequence is the in-memory cursor over a node's reserved batch
type sequence struct {
	mu   sync.Mutex
	next uint32
	end  uint32
}

// sequences holds the process-local cursors, one per id domain. The
// cursors are an optimization only; the persisted state is what makes
// allocation safe across processes.
type sequences struct {
	mu      sync.Mutex
	cursors map[string]*sequence
	batch   uint32
}

func newSequences(batch uint32) *sequences {
	if batch == 0 {
		batch = DefaultSequenceBatchSize
	}

	return &sequences{
		cursors: map[string]*sequence{},
		batch:   batch,
	}
}

func (s *sequences) cursor(domain string) *sequence {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, ok := s.cursors[domain]

	if !ok {
		cursor = &sequence{}
		s.cursors[domain] = cursor
	}

	return cursor
}

func (s *sequences) drop(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cursors, domain)
}

// NextNamespaceID allocates the next namespace id. Like all the
// Next*ID methods it may open its own write transaction, so it must
// not be called while the caller holds a write transaction on a
// store without concurrent writers.
func (ds *Datastore) NextNamespaceID(ctx context.Context) (catalog.NamespaceID, error) {
	id, err := ds.nextID(ctx, namespaceIDKeys(ds.node))

	return catalog.NamespaceID(id), err
}

// NextDatabaseID allocates the next database id within a namespace
func (ds *Datastore) NextDatabaseID(ctx context.Context, ns catalog.NamespaceID) (catalog.DatabaseID, error) {
	id, err := ds.nextID(ctx, databaseIDKeys(ns, ds.node))

	return catalog.DatabaseID(id), err
}

// NextTableID allocates the next table id within a database
func (ds *Datastore) NextTableID(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID) (catalog.TableID, error) {
	id, err := ds.nextID(ctx, tableIDKeys(ns, db, ds.node))

	return catalog.TableID(id), err
}

// NextIndexID allocates the next index id within a table
func (ds *Datastore) NextIndexID(ctx context.Context, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) (catalog.IndexID, error) {
	sk, err := indexIDKeys(ns, db, tb, ds.node)

	if err != nil {
		return 0, err
	}

	id, err := ds.nextID(ctx, sk)

	return catalog.IndexID(id), err
}

// nextID hands out the next id from the node's in-memory cursor,
// reserving a fresh batch when the cursor is exhausted. Ids are
// strictly monotonic per domain and never recycled; gaps appear only
// when a node abandons part of a reserved batch.
func (ds *Datastore) nextID(ctx context.Context, sk sequenceKeys) (uint32, error) {
	cursor := ds.sequences.cursor(string(sk.state))

	cursor.mu.Lock()
	defer cursor.mu.Unlock()

	if cursor.next >= cursor.end {
		start, end, err := ds.reserveBatch(ctx, sk)

		if err != nil {
			return 0, err
		}

		cursor.next, cursor.end = start, end
	}

	id := cursor.next
	cursor.next++

	return id, nil
}

// nextID allocates an id for a transaction that is already writing.
// On stores with concurrent writers the reservation happens in its
// own transaction as usual; on single-writer stores a second write
// transaction would deadlock, so the id records are written through
// this transaction instead, one id at a time. There is no contention
// to amortize on such stores anyway.
func (txn *Transaction) nextID(ctx context.Context, sk sequenceKeys) (uint32, error) {
	if txn.ds.store.Capabilities().ConcurrentWriters {
		return txn.ds.nextID(ctx, sk)
	}

	start, err := txn.nextSequenceStart(ctx, sk)

	if err != nil {
		return 0, err
	}

	value, err := catalog.Marshal(sequenceBatch{To: start + 1, Owner: txn.ds.node})

	if err != nil {
		return 0, err
	}

	if err := txn.Put(ctx, sk.batch(start), value); err != nil {
		return 0, err
	}

	state, err := catalog.Marshal(sequenceState{Next: start + 1})

	if err != nil {
		return 0, err
	}

	if err := txn.Set(ctx, sk.state, state); err != nil {
		return 0, err
	}

	return start, nil
}

// nextSequenceStart finds the next unreserved id of a domain: the
// node's persisted cursor, or the end of the newest reserved batch if
// another node moved past it
func (txn *Transaction) nextSequenceStart(ctx context.Context, sk sequenceKeys) (uint32, error) {
	var start uint32

	raw, err := txn.Get(ctx, sk.state)

	if err != nil {
		return 0, err
	}

	if raw != nil {
		var state sequenceState

		if err := catalog.Unmarshal(raw, &state); err != nil {
			return 0, fmt.Errorf("could not decode sequence state: %w", err)
		}

		start = state.Next
	}

	newest, err := txn.Scan(ctx, sk.batches, 1, kv.SortOrderDesc)

	if err != nil {
		return 0, err
	}

	if len(newest) > 0 {
		var batch sequenceBatch

		if err := catalog.Unmarshal(newest[0].Value, &batch); err != nil {
			return 0, fmt.Errorf("could not decode sequence batch: %w", err)
		}

		if batch.To > start {
			start = batch.To
		}
	}

	return start, nil
}

// reserveBatch reserves the next [start, start+batch) id range in its
// own optimistic transaction, retrying with backoff when another node
// reserves the same range first
func (ds *Datastore) reserveBatch(ctx context.Context, sk sequenceKeys) (uint32, uint32, error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		start, end, err := ds.tryReserveBatch(ctx, sk)

		if err == nil {
			return start, end, nil
		}

		if !errors.Is(err, ErrTxConflict) && !errors.Is(err, kv.ErrExists) {
			return 0, 0, err
		}

		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(reserveBackoff(attempt)):
		}
	}

	return 0, 0, fmt.Errorf("could not reserve an id batch: %w", ErrTxConflict)
}

func (ds *Datastore) tryReserveBatch(ctx context.Context, sk sequenceKeys) (uint32, uint32, error) {
	txn, err := ds.Transaction(ctx, Write, Optimistic)

	if err != nil {
		return 0, 0, err
	}

	defer txn.Cancel()

	start, err := txn.nextSequenceStart(ctx, sk)

	if err != nil {
		return 0, 0, err
	}

	end := start + ds.sequences.batch

	if end < start {
		return 0, 0, fmt.Errorf("%w: id space overflow", ErrSequenceExhausted)
	}

	value, err := catalog.Marshal(sequenceBatch{To: end, Owner: ds.node})

	if err != nil {
		return 0, 0, err
	}

	// Put, not Set: reading the batch key makes two racing
	// reservations of the same range conflict at commit
	if err := txn.Put(ctx, sk.batch(start), value); err != nil {
		return 0, 0, err
	}

	state, err := catalog.Marshal(sequenceState{Next: end})

	if err != nil {
		return 0, 0, err
	}

	if err := txn.Set(ctx, sk.state, state); err != nil {
		return 0, 0, err
	}

	if err := txn.Commit(ctx); err != nil {
		return 0, 0, err
	}

	return start, end, nil
}

func reserveBackoff(attempt int) time.Duration {
	backoff := reserveBackoffBase << uint(attempt)

	if backoff > reserveBackoffCap {
		backoff = reserveBackoffCap
	}

	return time.Duration(rand.Int63n(int64(backoff))) + backoff/2
}
