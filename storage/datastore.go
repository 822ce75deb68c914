package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jrife/tanager/storage/cache"
	"github.com/jrife/tanager/storage/clock"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/plugins"
	"github.com/jrife/tanager/utils/log"
	"go.uber.org/zap"
)

// storageVersion is the on-disk format version written at the store's
// version key. Opening a store written at any other version fails.
const storageVersion byte = 1

// DefaultQueryTimeout bounds queries that do not set their own
// timeout
const DefaultQueryTimeout = 30 * time.Second

// Config configures a Datastore
type Config struct {
	// Driver is the name of the storage driver to open the store
	// with
	Driver string
	// DriverOptions configures the chosen driver
	DriverOptions kv.Options
	// NodeID identifies this node in persisted sequence state. A
	// zero id gets a fresh one minted.
	NodeID uuid.UUID
	// Logger is the logger the datastore and its transactions log
	// through. Defaults to a no-op logger.
	Logger *zap.Logger
	// Clock is the wall-clock source for change feed timestamps.
	// Defaults to the system clock.
	Clock clock.Clock
	// SequenceBatchSize is how many ids a node reserves per batch.
	// Defaults to DefaultSequenceBatchSize.
	SequenceBatchSize uint32
	// QueryTimeout is the initial query timeout. It can be changed
	// at runtime with SetQueryTimeout.
	QueryTimeout time.Duration
}

// Datastore owns one opened store plus everything layered on it: the
// catalog cache, the id sequences, the clock, and this node's
// identity. It is the factory for transactions.
type Datastore struct {
	store        kv.Store
	cache        *cache.Cache
	sequences    *sequences
	clock        clock.Clock
	node         uuid.UUID
	logger       *zap.Logger
	queryTimeout atomic.Int64
	commits      *metrics.Counter
	conflicts    *metrics.Counter
}

// Open opens a datastore using the driver named in the config. The
// driver must be one registered with the plugins package.
func Open(config Config) (*Datastore, error) {
	driver := plugins.Driver(config.Driver)

	if driver == nil {
		return nil, fmt.Errorf("no storage driver named %q", config.Driver)
	}

	store, err := driver.Open(config.DriverOptions)

	if err != nil {
		return nil, fmt.Errorf("could not open store with driver %q: %w", config.Driver, err)
	}

	return newDatastore(store, config)
}

// OpenTemp opens a datastore on a throwaway store of the named
// driver. It is meant for tests.
func OpenTemp(config Config) (*Datastore, error) {
	driver := plugins.Driver(config.Driver)

	if driver == nil {
		return nil, fmt.Errorf("no storage driver named %q", config.Driver)
	}

	store, err := driver.OpenTemp()

	if err != nil {
		return nil, fmt.Errorf("could not open store with driver %q: %w", config.Driver, err)
	}

	return newDatastore(store, config)
}

func newDatastore(store kv.Store, config Config) (*Datastore, error) {
	node := config.NodeID

	if node == (uuid.UUID{}) {
		node = uuid.New()
	}

	logger := config.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	clk := config.Clock

	if clk == nil {
		clk = &clock.SystemClock{}
	}

	queryTimeout := config.QueryTimeout

	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}

	ds := &Datastore{
		store:     store,
		cache:     cache.New(),
		sequences: newSequences(config.SequenceBatchSize),
		clock:     clk,
		node:      node,
		logger:    logger.With(zap.String("node", node.String())),
		commits:   metrics.GetOrCreateCounter("tanager_commits_total"),
		conflicts: metrics.GetOrCreateCounter("tanager_conflicts_total"),
	}

	ds.queryTimeout.Store(int64(queryTimeout))

	if err := ds.checkStorageVersion(context.Background()); err != nil {
		store.Close()

		return nil, err
	}

	ds.logger.Info("opened datastore", zap.Bool("snapshot_isolation", store.Capabilities().SnapshotIsolation))

	return ds, nil
}

// checkStorageVersion stamps a fresh store with the current format
// version, or verifies the stamp of an existing one
func (ds *Datastore) checkStorageVersion(ctx context.Context) error {
	txn, err := ds.Transaction(ctx, Write, Pessimistic)

	if err != nil {
		return err
	}

	defer txn.Cancel()

	key := keyspace.StorageVersion()

	raw, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if raw == nil {
		if err := txn.Set(ctx, key, []byte{storageVersion}); err != nil {
			return err
		}

		return txn.Commit(ctx)
	}

	if len(raw) != 1 || raw[0] != storageVersion {
		return fmt.Errorf("%w: expected %d, got %v", ErrInvalidStorageVersion, storageVersion, raw)
	}

	return txn.Cancel()
}

// Transaction begins a new transaction. ctx carries any log fields
// attached with the log package.
func (ds *Datastore) Transaction(ctx context.Context, typ TransactionType, lock LockType) (*Transaction, error) {
	txn, err := ds.store.Begin(ctx, typ == Write, lock)

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}

	return &Transaction{
		ds:     ds,
		txn:    txn,
		typ:    typ,
		lock:   lock,
		epoch:  ds.cache.Epoch(),
		logger: log.WithContext(ctx, ds.logger),
	}, nil
}

// Node returns this node's identity
func (ds *Datastore) Node() uuid.UUID {
	return ds.node
}

// Cache returns the datastore's catalog cache
func (ds *Datastore) Cache() *cache.Cache {
	return ds.cache
}

// QueryTimeout returns the current query timeout
func (ds *Datastore) QueryTimeout() time.Duration {
	return time.Duration(ds.queryTimeout.Load())
}

// SetQueryTimeout changes the query timeout at runtime
func (ds *Datastore) SetQueryTimeout(timeout time.Duration) {
	ds.queryTimeout.Store(int64(timeout))
}

// Close closes the datastore and its store. In-flight transactions
// finish first.
func (ds *Datastore) Close() error {
	ds.cache.Clear()

	if err := ds.store.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	ds.logger.Info("closed datastore")

	return nil
}

// Delete closes the datastore and deletes its store and all its
// contents
func (ds *Datastore) Delete() error {
	ds.cache.Clear()

	return ds.store.Delete()
}
