package kv

import (
	"context"
	"errors"

	"github.com/jrife/tanager/storage/kv/keys"
)

var (
	// ErrClosed indicates that the store was closed
	ErrClosed = errors.New("store was closed")
	// ErrTxClosed indicates that the transaction was already
	// committed or rolled back
	ErrTxClosed = errors.New("transaction was closed")
	// ErrReadOnly indicates that an update was attempted on a
	// read-only transaction
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrConflict indicates that optimistic validation failed at
	// commit time because another transaction committed a
	// conflicting write first. The caller must retry the whole
	// transaction from the beginning.
	ErrConflict = errors.New("transaction conflict")
	// ErrExists indicates that a key already exists
	ErrExists = errors.New("key already exists")
	// ErrNotExpectedValue indicates that a conditional update found
	// a value other than the expected one
	ErrNotExpectedValue = errors.New("current value is not the expected value")
)

// LockType selects the concurrency control discipline for a
// transaction.
type LockType int

const (
	// Optimistic transactions validate their read set at commit
	// time and fail with ErrConflict when validation fails.
	Optimistic LockType = iota
	// Pessimistic transactions hold backend locks for their whole
	// lifetime so conflicting writers block instead of failing.
	Pessimistic
)

// SortOrder describes the order of iteration
type SortOrder int

const (
	// SortOrderAsc sorts in increasing order
	SortOrderAsc SortOrder = iota
	// SortOrderDesc sorts in decreasing order
	SortOrderDesc
)

// Capabilities describes what a driver can guarantee. Consumers use
// this to document per-driver isolation rather than assuming it is
// uniform.
type Capabilities struct {
	// SnapshotIsolation is true if a transaction observes a
	// consistent snapshot taken when it began, regardless of
	// concurrent commits.
	SnapshotIsolation bool
	// PessimisticLocks is true if the driver enforces mutual
	// exclusion between writers natively. Drivers without it fall
	// back to optimistic validation at commit.
	PessimisticLocks bool
	// ConcurrentWriters is true if multiple write transactions can
	// be open at once. When false, beginning a second write
	// transaction blocks until the first finishes, so consumers
	// must never nest write transactions on the same store.
	ConcurrentWriters bool
	// NativeVersionstamps is true if the driver assigns its own
	// monotonic commit versions that can back versionstamps
	// directly.
	NativeVersionstamps bool
}

// Options is a free-form bag of driver configuration options
type Options map[string]interface{}

// Driver constructs stores for one physical storage backend. Drivers
// register themselves with the plugins package and are selected at
// runtime by name.
type Driver interface {
	// Name returns the name of the storage driver
	Name() string
	// Open returns a store configured with the given options
	Open(options Options) (Store, error)
	// OpenTemp returns a store initialized with sane defaults. It
	// is meant for tests that need a working store without knowing
	// how to configure one.
	OpenTemp() (Store, error)
}

// Store is a handle for one physical keyspace.
type Store interface {
	// Begin starts a transaction. writable should be true for
	// read-write transactions and false for read-only
	// transactions. Begin must return ErrClosed if its invocation
	// starts after Close() returns.
	Begin(ctx context.Context, writable bool, lock LockType) (Tx, error)
	// Capabilities reports what this store guarantees
	Capabilities() Capabilities
	// Close closes the store. Close must not return until all
	// concurrent transactions have either rolled back or
	// committed. Operations started after Close returns must
	// return ErrClosed and have no effect.
	Close() error
	// Delete closes then deletes this store and all its contents
	Delete() error
}

// KV is a single key-value pair
type KV struct {
	Key   keys.Key
	Value []byte
}

// Tx is a transaction against a store. It must only be used by one
// goroutine at a time. Every transaction must end with exactly one
// call to Commit or Rollback.
type Tx interface {
	// Get gets a key. It must observe updates made previously by
	// this transaction. It returns nil if the key does not exist.
	Get(ctx context.Context, key keys.Key) ([]byte, error)
	// Set sets a key unconditionally
	Set(ctx context.Context, key keys.Key, value []byte) error
	// Put sets a key only if it does not exist, returning
	// ErrExists otherwise
	Put(ctx context.Context, key keys.Key, value []byte) error
	// PutC sets a key only if its current value matches check. A
	// nil check asserts that the key does not exist. It returns
	// ErrNotExpectedValue otherwise.
	PutC(ctx context.Context, key keys.Key, value []byte, check []byte) error
	// Del deletes a key. Deleting a key that does not exist has
	// no effect.
	Del(ctx context.Context, key keys.Key) error
	// DelC deletes a key only if its current value matches check,
	// returning ErrNotExpectedValue otherwise
	DelC(ctx context.Context, key keys.Key, check []byte) error
	// Keys lists up to limit keys in the range in the given
	// order. limit < 0 means no limit. Results are contiguous with
	// no gaps.
	Keys(ctx context.Context, rng keys.Range, limit int, order SortOrder) ([]keys.Key, error)
	// Scan lists up to limit key-value pairs in the range in the
	// given order. limit < 0 means no limit.
	Scan(ctx context.Context, rng keys.Range, limit int, order SortOrder) ([]KV, error)
	// Commit commits the transaction. Optimistic transactions may
	// return ErrConflict, in which case none of the writes took
	// effect.
	Commit(ctx context.Context) error
	// Rollback discards the transaction. It never fails and is
	// safe to call after Commit.
	Rollback() error
}
