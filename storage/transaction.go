package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
	"go.uber.org/zap"
)

// TransactionType says whether a transaction may write
type TransactionType int

const (
	// Read transactions can only read
	Read TransactionType = iota
	// Write transactions can read and write
	Write
)

// LockType selects the concurrency control discipline
type LockType = kv.LockType

const (
	// Optimistic transactions validate at commit time and may fail
	// with ErrTxConflict
	Optimistic = kv.Optimistic
	// Pessimistic transactions block conflicting writers instead
	Pessimistic = kv.Pessimistic
)

type txState int

const (
	txActive txState = iota
	txCommitted
	txCancelled
	// txPoisoned marks a transaction that hit a backend error. It
	// can still be cancelled but every other operation fails fast.
	txPoisoned
)

type feedRef struct {
	namespace catalog.NamespaceID
	database  catalog.DatabaseID
}

// Transaction wraps one backend transaction and enforces the
// transaction lifecycle: operations are legal only while active,
// writes require a Write transaction, and after Commit or Cancel
// every further operation fails with ErrTxFinished. A Transaction
// must be used by one goroutine at a time and must end with exactly
// one Commit or Cancel.
type Transaction struct {
	ds      *Datastore
	txn     kv.Tx
	typ     TransactionType
	lock    LockType
	state   txState
	logger  *zap.Logger
	// epoch is the cache invalidation epoch observed when this
	// transaction began; reads from this transaction's snapshot are
	// only cacheable while it is still current
	epoch   uint64
	changes map[feedRef]map[string][]Change
	// cache writes are buffered and applied only after a successful
	// commit so a cancelled transaction cannot leak uncommitted
	// definitions into the cache
	cacheOps []func()
}

func (txn *Transaction) active() error {
	if txn.state != txActive {
		return ErrTxFinished
	}

	return nil
}

func (txn *Transaction) writable() error {
	if err := txn.active(); err != nil {
		return err
	}

	if txn.typ != Write {
		return ErrTxReadonly
	}

	return nil
}

// fail classifies an error coming back from the backend. Condition
// failures (key exists, unexpected value) are normal control flow;
// anything else poisons the transaction so later operations fail fast
// instead of reasoning over partial state.
func (txn *Transaction) fail(err error) error {
	if errors.Is(err, kv.ErrExists) || errors.Is(err, kv.ErrNotExpectedValue) {
		return err
	}

	txn.state = txPoisoned

	return err
}

// Exists reports whether key exists
func (txn *Transaction) Exists(ctx context.Context, key keys.Key) (bool, error) {
	value, err := txn.Get(ctx, key)

	if err != nil {
		return false, err
	}

	return value != nil, nil
}

// Get returns the value stored at key, or nil if there is none
func (txn *Transaction) Get(ctx context.Context, key keys.Key) ([]byte, error) {
	if err := txn.active(); err != nil {
		return nil, err
	}

	value, err := txn.txn.Get(ctx, key)

	if err != nil {
		return nil, txn.fail(err)
	}

	return value, nil
}

// Set stores value at key unconditionally
func (txn *Transaction) Set(ctx context.Context, key keys.Key, value []byte) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.txn.Set(ctx, key, value); err != nil {
		return txn.fail(err)
	}

	return nil
}

// Put stores value at key only if the key does not exist, returning
// kv.ErrExists otherwise
func (txn *Transaction) Put(ctx context.Context, key keys.Key, value []byte) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.txn.Put(ctx, key, value); err != nil {
		return txn.fail(err)
	}

	return nil
}

// PutC stores value at key only if its current value matches check.
// A nil check asserts the key does not exist. It returns
// kv.ErrNotExpectedValue otherwise.
func (txn *Transaction) PutC(ctx context.Context, key keys.Key, value []byte, check []byte) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.txn.PutC(ctx, key, value, check); err != nil {
		return txn.fail(err)
	}

	return nil
}

// Del deletes key. Deleting a key that does not exist has no effect.
func (txn *Transaction) Del(ctx context.Context, key keys.Key) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.txn.Del(ctx, key); err != nil {
		return txn.fail(err)
	}

	return nil
}

// DelC deletes key only if its current value matches check, returning
// kv.ErrNotExpectedValue otherwise
func (txn *Transaction) DelC(ctx context.Context, key keys.Key, check []byte) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.txn.DelC(ctx, key, check); err != nil {
		return txn.fail(err)
	}

	return nil
}

// DelRange deletes every key in the range
func (txn *Transaction) DelRange(ctx context.Context, rng keys.Range) error {
	if err := txn.writable(); err != nil {
		return err
	}

	ks, err := txn.txn.Keys(ctx, rng, -1, kv.SortOrderAsc)

	if err != nil {
		return txn.fail(err)
	}

	for _, key := range ks {
		if err := txn.txn.Del(ctx, key); err != nil {
			return txn.fail(err)
		}
	}

	return nil
}

// DelPrefix deletes every key starting with prefix
func (txn *Transaction) DelPrefix(ctx context.Context, prefix keys.Key) error {
	return txn.DelRange(ctx, keys.All().Prefix(prefix))
}

// Keys lists up to limit keys in the range in ascending order.
// limit < 0 means no limit.
func (txn *Transaction) Keys(ctx context.Context, rng keys.Range, limit int) ([]keys.Key, error) {
	if err := txn.active(); err != nil {
		return nil, err
	}

	ks, err := txn.txn.Keys(ctx, rng, limit, kv.SortOrderAsc)

	if err != nil {
		return nil, txn.fail(err)
	}

	return ks, nil
}

// Scan lists up to limit key-value pairs in the range in the given
// order. limit < 0 means no limit.
func (txn *Transaction) Scan(ctx context.Context, rng keys.Range, limit int, order kv.SortOrder) ([]kv.KV, error) {
	if err := txn.active(); err != nil {
		return nil, err
	}

	kvs, err := txn.txn.Scan(ctx, rng, limit, order)

	if err != nil {
		return nil, txn.fail(err)
	}

	return kvs, nil
}

// GetRange lists up to limit key-value pairs in the range in
// ascending order
func (txn *Transaction) GetRange(ctx context.Context, rng keys.Range, limit int) ([]kv.KV, error) {
	return txn.Scan(ctx, rng, limit, kv.SortOrderAsc)
}

// GetPrefix lists up to limit key-value pairs starting with prefix in
// ascending order
func (txn *Transaction) GetPrefix(ctx context.Context, prefix keys.Key, limit int) ([]kv.KV, error) {
	return txn.Scan(ctx, keys.All().Prefix(prefix), limit, kv.SortOrderAsc)
}

// Count returns the number of keys in the range
func (txn *Transaction) Count(ctx context.Context, rng keys.Range) (int, error) {
	ks, err := txn.Keys(ctx, rng, -1)

	if err != nil {
		return 0, err
	}

	return len(ks), nil
}

// Commit commits the transaction. If any change feed entries were
// recorded they are stamped and written first, so the feed becomes
// durable with the rest of the transaction. Optimistic transactions
// may fail with ErrTxConflict, in which case none of the writes took
// effect.
func (txn *Transaction) Commit(ctx context.Context) error {
	if err := txn.writable(); err != nil {
		return err
	}

	if err := txn.writeChangefeed(ctx); err != nil {
		txn.txn.Rollback()
		txn.state = txCancelled

		return fmt.Errorf("could not write change feed entries: %w", err)
	}

	if err := txn.txn.Commit(ctx); err != nil {
		txn.state = txCancelled

		if errors.Is(err, kv.ErrConflict) {
			txn.ds.conflicts.Inc()

			return ErrTxConflict
		}

		return fmt.Errorf("could not commit transaction: %w", err)
	}

	txn.state = txCommitted
	txn.ds.commits.Inc()

	for _, op := range txn.cacheOps {
		op()
	}

	txn.logger.Debug("committed transaction")

	return nil
}

// Cancel discards the transaction. It never fails and is safe to
// call after Commit, so callers can defer it unconditionally.
func (txn *Transaction) Cancel() error {
	if txn.state == txCommitted || txn.state == txCancelled {
		return nil
	}

	txn.state = txCancelled
	txn.txn.Rollback()
	txn.logger.Debug("cancelled transaction")

	return nil
}

// invalidate schedules a cache operation to run after a successful
// commit
func (txn *Transaction) invalidate(op func()) {
	txn.cacheOps = append(txn.cacheOps, op)
}
