package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/jrife/tanager/storage/kv/keys"
)

// MemoryDriverName is the name the memory driver registers under
const MemoryDriverName = "memory"

// MemoryDriver builds single-process in-memory stores. It keeps a
// version chain per key so read transactions observe a consistent
// snapshot while writers commit concurrently.
type MemoryDriver struct {
}

// Name implements Driver.Name
func (driver *MemoryDriver) Name() string {
	return MemoryDriverName
}

// Open implements Driver.Open
func (driver *MemoryDriver) Open(options Options) (Store, error) {
	return NewMemoryStore(), nil
}

// OpenTemp implements Driver.OpenTemp
func (driver *MemoryDriver) OpenTemp() (Store, error) {
	return NewMemoryStore(), nil
}

type memoryVersion struct {
	seq       uint64
	value     []byte
	tombstone bool
}

type memoryItem struct {
	versions []memoryVersion
}

// visible returns the newest version with seq <= readSeq
func (item *memoryItem) visible(readSeq uint64) (memoryVersion, bool) {
	for i := len(item.versions) - 1; i >= 0; i-- {
		if item.versions[i].seq <= readSeq {
			return item.versions[i], true
		}
	}

	return memoryVersion{}, false
}

// prune drops versions that no active transaction can observe
// anymore, always keeping the newest one.
func (item *memoryItem) prune(minSeq uint64) {
	keep := 0

	for i, version := range item.versions {
		if version.seq <= minSeq {
			keep = i
		}
	}

	if keep > 0 {
		item.versions = append(item.versions[:0], item.versions[keep:]...)
	}
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an ordered in-memory store with snapshot isolation
// and optimistic conflict detection. It does not persist anything.
type MemoryStore struct {
	mu      sync.Mutex
	writer  sync.Mutex
	drained *sync.Cond
	tree    *redblacktree.Tree
	seq     uint64
	active  map[*memoryTx]uint64
	closed  bool
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		tree:   redblacktree.NewWithStringComparator(),
		active: map[*memoryTx]uint64{},
	}

	store.drained = sync.NewCond(&store.mu)

	return store
}

// Begin implements Store.Begin
func (store *MemoryStore) Begin(ctx context.Context, writable bool, lock LockType) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txn := &memoryTx{store: store, writable: writable, lock: lock}

	if writable && lock == Pessimistic {
		// Serialize writers up front so commit cannot conflict
		store.writer.Lock()
		txn.holdsWriter = true
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		if txn.holdsWriter {
			store.writer.Unlock()
		}

		return nil, ErrClosed
	}

	txn.readSeq = store.seq
	store.active[txn] = txn.readSeq

	if writable {
		txn.writes = redblacktree.NewWithStringComparator()
		txn.reads = map[string]struct{}{}
	}

	return txn, nil
}

// Capabilities implements Store.Capabilities
func (store *MemoryStore) Capabilities() Capabilities {
	return Capabilities{
		SnapshotIsolation: true,
		PessimisticLocks:  true,
		// Optimistic write transactions run concurrently; only
		// pessimistic ones serialize
		ConcurrentWriters: true,
	}
}

// Close implements Store.Close. New transactions are rejected
// immediately; Close then blocks until every in-flight transaction
// has committed or rolled back.
func (store *MemoryStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.closed = true

	for len(store.active) > 0 {
		store.drained.Wait()
	}

	return nil
}

// Delete implements Store.Delete
func (store *MemoryStore) Delete() error {
	if err := store.Close(); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.tree.Clear()

	return nil
}

// minActiveSeq returns the lowest snapshot any open transaction
// holds. Callers must hold store.mu.
func (store *MemoryStore) minActiveSeq() uint64 {
	min := store.seq

	for _, seq := range store.active {
		if seq < min {
			min = seq
		}
	}

	return min
}

type memoryOverlay struct {
	key       string
	value     []byte
	tombstone bool
}

var _ Tx = (*memoryTx)(nil)

type memoryTx struct {
	store       *MemoryStore
	readSeq     uint64
	writable    bool
	lock        LockType
	done        bool
	holdsWriter bool
	writes      *redblacktree.Tree
	reads       map[string]struct{}
}

func (txn *memoryTx) Get(ctx context.Context, key keys.Key) ([]byte, error) {
	if txn.done {
		return nil, ErrTxClosed
	}

	if len(key) == 0 {
		return nil, fmt.Errorf("key must not be empty")
	}

	k := string(key)

	if txn.writable {
		txn.reads[k] = struct{}{}

		if w, ok := txn.writes.Get(k); ok {
			overlay := w.(memoryOverlay)

			if overlay.tombstone {
				return nil, nil
			}

			return append([]byte{}, overlay.value...), nil
		}
	}

	txn.store.mu.Lock()
	defer txn.store.mu.Unlock()

	item, ok := txn.store.tree.Get(k)

	if !ok {
		return nil, nil
	}

	version, ok := item.(*memoryItem).visible(txn.readSeq)

	if !ok || version.tombstone {
		return nil, nil
	}

	return append([]byte{}, version.value...), nil
}

func (txn *memoryTx) write(key keys.Key, value []byte, tombstone bool) error {
	if txn.done {
		return ErrTxClosed
	}

	if !txn.writable {
		return ErrReadOnly
	}

	if len(key) == 0 {
		return fmt.Errorf("key must not be empty")
	}

	txn.writes.Put(string(key), memoryOverlay{
		key:       string(key),
		value:     append([]byte{}, value...),
		tombstone: tombstone,
	})

	return nil
}

func (txn *memoryTx) Set(ctx context.Context, key keys.Key, value []byte) error {
	return txn.write(key, value, false)
}

func (txn *memoryTx) Put(ctx context.Context, key keys.Key, value []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if existing != nil {
		return ErrExists
	}

	return txn.write(key, value, false)
}

func (txn *memoryTx) PutC(ctx context.Context, key keys.Key, value []byte, check []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if !checkMatches(existing, check) {
		return ErrNotExpectedValue
	}

	return txn.write(key, value, false)
}

func (txn *memoryTx) Del(ctx context.Context, key keys.Key) error {
	return txn.write(key, nil, true)
}

func (txn *memoryTx) DelC(ctx context.Context, key keys.Key, check []byte) error {
	existing, err := txn.Get(ctx, key)

	if err != nil {
		return err
	}

	if !checkMatches(existing, check) {
		return ErrNotExpectedValue
	}

	return txn.write(key, nil, true)
}

func (txn *memoryTx) Keys(ctx context.Context, rng keys.Range, limit int, order SortOrder) ([]keys.Key, error) {
	kvs, err := txn.Scan(ctx, rng, limit, order)

	if err != nil {
		return nil, err
	}

	ks := make([]keys.Key, len(kvs))

	for i, kv := range kvs {
		ks[i] = kv.Key
	}

	return ks, nil
}

func (txn *memoryTx) Scan(ctx context.Context, rng keys.Range, limit int, order SortOrder) ([]KV, error) {
	if txn.done {
		return nil, ErrTxClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	committed := txn.snapshotRange(rng)

	var overlay []memoryOverlay

	if txn.writable {
		overlay = txn.overlayRange(rng)
	}

	merged := mergeOverlay(committed, overlay)

	kvs := make([]KV, 0, len(merged))

	for _, entry := range merged {
		if entry.tombstone {
			continue
		}

		if txn.writable {
			txn.reads[entry.key] = struct{}{}
		}

		kvs = append(kvs, KV{Key: keys.Key(entry.key), Value: entry.value})
	}

	if order == SortOrderDesc {
		for i, j := 0, len(kvs)-1; i < j; i, j = i+1, j-1 {
			kvs[i], kvs[j] = kvs[j], kvs[i]
		}
	}

	if limit >= 0 && len(kvs) > limit {
		kvs = kvs[:limit]
	}

	return kvs, nil
}

// snapshotRange collects the committed pairs visible at this
// transaction's snapshot, in ascending order.
func (txn *memoryTx) snapshotRange(rng keys.Range) []memoryOverlay {
	txn.store.mu.Lock()
	defer txn.store.mu.Unlock()

	var entries []memoryOverlay

	var node *redblacktree.Node

	if rng.Min == nil {
		node = txn.store.tree.Left()
	} else if ceiling, ok := txn.store.tree.Ceiling(string(rng.Min)); ok {
		node = ceiling
	}

	if node == nil {
		return nil
	}

	iter := txn.store.tree.IteratorAt(node)

	for ok := true; ok; ok = iter.Next() {
		k := iter.Key().(string)

		if rng.Max != nil && k >= string(rng.Max) {
			break
		}

		version, found := iter.Value().(*memoryItem).visible(txn.readSeq)

		if !found || version.tombstone {
			continue
		}

		entries = append(entries, memoryOverlay{key: k, value: append([]byte{}, version.value...)})
	}

	return entries
}

// overlayRange collects this transaction's own buffered writes in
// the range, in ascending order.
func (txn *memoryTx) overlayRange(rng keys.Range) []memoryOverlay {
	var entries []memoryOverlay

	var node *redblacktree.Node

	if rng.Min == nil {
		node = txn.writes.Left()
	} else if ceiling, ok := txn.writes.Ceiling(string(rng.Min)); ok {
		node = ceiling
	}

	if node == nil {
		return nil
	}

	iter := txn.writes.IteratorAt(node)

	for ok := true; ok; ok = iter.Next() {
		k := iter.Key().(string)

		if rng.Max != nil && k >= string(rng.Max) {
			break
		}

		entries = append(entries, iter.Value().(memoryOverlay))
	}

	return entries
}

// mergeOverlay merges two ascending lists, overlay entries winning
// over committed ones.
func mergeOverlay(committed []memoryOverlay, overlay []memoryOverlay) []memoryOverlay {
	merged := make([]memoryOverlay, 0, len(committed)+len(overlay))

	i, j := 0, 0

	for i < len(committed) && j < len(overlay) {
		switch {
		case committed[i].key < overlay[j].key:
			merged = append(merged, committed[i])
			i++
		case committed[i].key > overlay[j].key:
			merged = append(merged, overlay[j])
			j++
		default:
			merged = append(merged, overlay[j])
			i++
			j++
		}
	}

	merged = append(merged, committed[i:]...)
	merged = append(merged, overlay[j:]...)

	return merged
}

func (txn *memoryTx) Commit(ctx context.Context) error {
	if txn.done {
		return ErrTxClosed
	}

	defer txn.finish()

	if !txn.writable || txn.writes.Size() == 0 {
		return nil
	}

	// An optimistic commit must not land in the middle of a
	// pessimistic writer's lifetime: the pessimistic writer skips
	// read-set validation, so a write slipping in between its reads
	// and its commit would be silently lost. Taking the writer lock
	// here delays the optimistic commit until the pessimistic writer
	// finishes, at which point validation below sees its effects.
	if !txn.holdsWriter {
		txn.store.writer.Lock()
		defer txn.store.writer.Unlock()
	}

	txn.store.mu.Lock()
	defer txn.store.mu.Unlock()

	if txn.lock == Optimistic {
		// Read-set validation: if anything this transaction read
		// changed since its snapshot, the caller must retry.
		for k := range txn.reads {
			item, ok := txn.store.tree.Get(k)

			if !ok {
				continue
			}

			versions := item.(*memoryItem).versions

			if len(versions) > 0 && versions[len(versions)-1].seq > txn.readSeq {
				return ErrConflict
			}
		}
	}

	txn.store.seq++
	commitSeq := txn.store.seq
	minSeq := txn.store.minActiveSeq()

	iter := txn.writes.Iterator()

	for iter.Next() {
		k := iter.Key().(string)
		overlay := iter.Value().(memoryOverlay)

		var item *memoryItem

		if existing, ok := txn.store.tree.Get(k); ok {
			item = existing.(*memoryItem)
		} else {
			item = &memoryItem{}
			txn.store.tree.Put(k, item)
		}

		item.versions = append(item.versions, memoryVersion{
			seq:       commitSeq,
			value:     overlay.value,
			tombstone: overlay.tombstone,
		})
		item.prune(minSeq)
	}

	return nil
}

func (txn *memoryTx) Rollback() error {
	if txn.done {
		return nil
	}

	txn.finish()

	return nil
}

func (txn *memoryTx) finish() {
	txn.done = true

	txn.store.mu.Lock()
	delete(txn.store.active, txn)
	txn.store.drained.Broadcast()
	txn.store.mu.Unlock()

	if txn.holdsWriter {
		txn.holdsWriter = false
		txn.store.writer.Unlock()
	}
}

func checkMatches(existing []byte, check []byte) bool {
	if existing == nil || check == nil {
		return existing == nil && check == nil
	}

	return string(existing) == string(check)
}
