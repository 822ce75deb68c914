package bbolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/keys"
	"github.com/jrife/tanager/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

// DriverName is the name the bbolt driver registers under
const DriverName = "bbolt"

var rootBucket = []byte{0}

// Drivers returns the drivers contributed by this package
func Drivers() []kv.Driver {
	return []kv.Driver{
		&BBoltDriver{},
	}
}

// BBoltDriver builds stores backed by an embedded bbolt B+tree file.
type BBoltDriver struct {
}

// Name implements Driver.Name
func (driver *BBoltDriver) Name() string {
	return DriverName
}

// Open implements Driver.Open
func (driver *BBoltDriver) Open(options kv.Options) (kv.Store, error) {
	var config BBoltStoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Path = pathString
	}

	return New(config)
}

// OpenTemp implements Driver.OpenTemp
func (driver *BBoltDriver) OpenTemp() (kv.Store, error) {
	return driver.Open(kv.Options{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("bbolt-%s", uuid.MustUUID())),
	})
}

// BBoltStoreConfig holds the bbolt driver configuration
type BBoltStoreConfig struct {
	Path string
}

var _ kv.Store = (*BBoltStore)(nil)

// BBoltStore is a store backed by a single bbolt file. bbolt allows
// one writer at a time so both lock modes behave pessimistically,
// and its B+tree MVCC gives readers a snapshot for free.
type BBoltStore struct {
	db *bolt.DB
}

// New opens a bbolt store at the configured path
func New(config BBoltStoreConfig) (*BBoltStore, error) {
	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(rootBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure root bucket exists: %w", err)
	}

	return &BBoltStore{db: db}, nil
}

// Begin implements Store.Begin
func (store *BBoltStore) Begin(ctx context.Context, writable bool, lock kv.LockType) (kv.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	transaction, err := store.db.Begin(writable)

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}

	return &bboltTx{transaction: transaction, writable: writable}, nil
}

// Capabilities implements Store.Capabilities. bolt allows exactly
// one write transaction at a time, so ConcurrentWriters stays false.
func (store *BBoltStore) Capabilities() kv.Capabilities {
	return kv.Capabilities{
		SnapshotIsolation: true,
		PessimisticLocks:  true,
	}
}

// Close implements Store.Close
func (store *BBoltStore) Close() error {
	return store.db.Close()
}

// Delete implements Store.Delete
func (store *BBoltStore) Delete() error {
	path := store.db.Path()

	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

var _ kv.Tx = (*bboltTx)(nil)

type bboltTx struct {
	transaction *bolt.Tx
	writable    bool
	done        bool
}

func (txn *bboltTx) bucket() *bolt.Bucket {
	return txn.transaction.Bucket(rootBucket)
}

func (txn *bboltTx) Get(ctx context.Context, key keys.Key) ([]byte, error) {
	if txn.done {
		return nil, kv.ErrTxClosed
	}

	value := txn.bucket().Get(key)

	if value == nil {
		return nil, nil
	}

	return append([]byte{}, value...), nil
}

func (txn *bboltTx) Set(ctx context.Context, key keys.Key, value []byte) error {
	if txn.done {
		return kv.ErrTxClosed
	}

	if !txn.writable {
		return kv.ErrReadOnly
	}

	return txn.bucket().Put(key, value)
}

func (txn *bboltTx) Put(ctx context.Context, key keys.Key, value []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if existing != nil {
		return kv.ErrExists
	}

	return txn.Set(ctx, key, value)
}

func (txn *bboltTx) PutC(ctx context.Context, key keys.Key, value []byte, check []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if !expected(existing, check) {
		return kv.ErrNotExpectedValue
	}

	return txn.Set(ctx, key, value)
}

func (txn *bboltTx) Del(ctx context.Context, key keys.Key) error {
	if txn.done {
		return kv.ErrTxClosed
	}

	if !txn.writable {
		return kv.ErrReadOnly
	}

	return txn.bucket().Delete(key)
}

func (txn *bboltTx) DelC(ctx context.Context, key keys.Key, check []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if !expected(existing, check) {
		return kv.ErrNotExpectedValue
	}

	return txn.Del(ctx, key)
}

func (txn *bboltTx) Keys(ctx context.Context, rng keys.Range, limit int, order kv.SortOrder) ([]keys.Key, error) {
	kvs, err := txn.Scan(ctx, rng, limit, order)

	if err != nil {
		return nil, err
	}

	ks := make([]keys.Key, len(kvs))

	for i, pair := range kvs {
		ks[i] = pair.Key
	}

	return ks, nil
}

func (txn *bboltTx) Scan(ctx context.Context, rng keys.Range, limit int, order kv.SortOrder) ([]kv.KV, error) {
	if txn.done {
		return nil, kv.ErrTxClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var kvs []kv.KV

	cursor := txn.bucket().Cursor()

	if order == kv.SortOrderDesc {
		for k, v := seekLast(cursor, rng.Max); k != nil; k, v = cursor.Prev() {
			if rng.Min != nil && keys.Compare(k, rng.Min) < 0 {
				break
			}

			if limit >= 0 && len(kvs) >= limit {
				break
			}

			kvs = append(kvs, copyKV(k, v))
		}

		return kvs, nil
	}

	var k, v []byte

	if rng.Min == nil {
		k, v = cursor.First()
	} else {
		k, v = cursor.Seek(rng.Min)
	}

	for ; k != nil; k, v = cursor.Next() {
		if rng.Max != nil && keys.Compare(k, rng.Max) >= 0 {
			break
		}

		if limit >= 0 && len(kvs) >= limit {
			break
		}

		kvs = append(kvs, copyKV(k, v))
	}

	return kvs, nil
}

// seekLast positions the cursor on the last key below max, or the
// last key overall when max is nil.
func seekLast(cursor *bolt.Cursor, max []byte) ([]byte, []byte) {
	if max == nil {
		return cursor.Last()
	}

	k, _ := cursor.Seek(max)

	if k == nil {
		return cursor.Last()
	}

	return cursor.Prev()
}

func copyKV(k []byte, v []byte) kv.KV {
	return kv.KV{
		Key:   append(keys.Key{}, k...),
		Value: append([]byte{}, v...),
	}
}

func (txn *bboltTx) Commit(ctx context.Context) error {
	if txn.done {
		return kv.ErrTxClosed
	}

	txn.done = true

	if !txn.writable {
		// bbolt read transactions can only be rolled back
		return txn.transaction.Rollback()
	}

	return txn.transaction.Commit()
}

func (txn *bboltTx) Rollback() error {
	if txn.done {
		return nil
	}

	txn.done = true

	return txn.transaction.Rollback()
}

func expected(existing []byte, check []byte) bool {
	if existing == nil || check == nil {
		return existing == nil && check == nil
	}

	return string(existing) == string(check)
}
