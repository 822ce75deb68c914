// Package cache holds decoded catalog entries so hot paths do not
// re-read and re-decode definitions on every transaction. Table-scoped
// entries are keyed by a per-table version id; invalidating a table
// mints a new id instead of walking the map, so stale entries just
// become unreachable and are dropped lazily.
package cache

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/puzpuzpuz/xsync/v3"
)

// Kind identifies what a cache entry holds
type Kind int

const (
	// KindNamespace caches one namespace definition by name
	KindNamespace Kind = iota
	// KindDatabase caches one database definition by name
	KindDatabase
	// KindTable caches one table definition by name
	KindTable
	// KindFields caches the field definitions of one table
	KindFields
	// KindEvents caches the event definitions of one table
	KindEvents
	// KindIndexes caches the index definitions of one table
	KindIndexes
	// KindLiveQueries caches the live query registrations of one
	// table
	KindLiveQueries
)

// Lookup identifies one cacheable catalog entry. Table-scoped kinds
// carry the table's current version id so a bumped version makes all
// their lookups miss at once.
type Lookup struct {
	Kind      Kind
	Namespace catalog.NamespaceID
	Database  catalog.DatabaseID
	Table     string
	Name      string
	Version   uuid.UUID
}

type tableRef struct {
	namespace catalog.NamespaceID
	database  catalog.DatabaseID
	table     string
}

// Cache is a concurrent cache of decoded catalog entries
type Cache struct {
	entries  *xsync.MapOf[Lookup, interface{}]
	versions *xsync.MapOf[tableRef, uuid.UUID]
	epoch    atomic.Uint64
	hits     *metrics.Counter
	misses   *metrics.Counter
}

// New returns an empty cache
func New() *Cache {
	return &Cache{
		entries:  xsync.NewMapOf[Lookup, interface{}](),
		versions: xsync.NewMapOf[tableRef, uuid.UUID](),
		hits:     metrics.GetOrCreateCounter("tanager_catalog_cache_hits_total"),
		misses:   metrics.GetOrCreateCounter("tanager_catalog_cache_misses_total"),
	}
}

// TableLookup returns the lookup for a table-scoped entry stamped
// with the table's current version id
func (cache *Cache) TableLookup(kind Kind, ns catalog.NamespaceID, db catalog.DatabaseID, tb string) Lookup {
	version, _ := cache.versions.LoadOrCompute(tableRef{ns, db, tb}, uuid.New)

	return Lookup{
		Kind:      kind,
		Namespace: ns,
		Database:  db,
		Table:     tb,
		Version:   version,
	}
}

// Get returns the cached entry for lookup if there is one
func (cache *Cache) Get(lookup Lookup) (interface{}, bool) {
	value, ok := cache.entries.Load(lookup)

	if ok {
		cache.hits.Inc()
	} else {
		cache.misses.Inc()
	}

	return value, ok
}

// Set stores an entry for lookup
func (cache *Cache) Set(lookup Lookup, value interface{}) {
	cache.entries.Store(lookup, value)
}

// Epoch returns the invalidation epoch, a counter bumped by every
// invalidation. Loaders observing state older than the current epoch
// pass the epoch they observed to GetOrLoad so their result is not
// published over a fresher invalidation.
func (cache *Cache) Epoch() uint64 {
	return cache.epoch.Load()
}

// GetOrLoad returns the cached entry for lookup, calling loader on a
// miss. The result is cached only when no invalidation happened since
// epoch; a loader reading an older snapshot still gets its value back
// but cannot poison the cache with it. Loader errors are returned
// without caching anything.
func (cache *Cache) GetOrLoad(lookup Lookup, epoch uint64, loader func() (interface{}, error)) (interface{}, error) {
	if value, ok := cache.Get(lookup); ok {
		return value, nil
	}

	value, err := loader()

	if err != nil {
		return nil, err
	}

	if cache.epoch.Load() == epoch {
		cache.entries.Store(lookup, value)
	}

	return value, nil
}

// Delete drops the entry for lookup
func (cache *Cache) Delete(lookup Lookup) {
	cache.epoch.Add(1)
	cache.entries.Delete(lookup)
}

// Clear drops every entry and every table version
func (cache *Cache) Clear() {
	cache.epoch.Add(1)
	cache.entries.Clear()
	cache.versions.Clear()
}

// ClearTable invalidates every table-scoped entry of one table by
// minting a new version id for it. Entries of other tables keep their
// versions and stay valid.
func (cache *Cache) ClearTable(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) {
	cache.epoch.Add(1)
	cache.versions.Store(tableRef{ns, db, tb}, uuid.New())
}
