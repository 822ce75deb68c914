// Package keyspace defines the on-disk key layout: one shape per
// resource kind, all built from the same order-preserving codec so
// that lexicographic byte order matches the namespace → database →
// table → record hierarchy. The byte layout is the storage format and
// must stay bit-exact: a fixed '/' root byte, single-byte level
// markers ('*' for child resources, '#' for the change feed), and '!'
// plus a two-letter mnemonic for definition and system records.
package keyspace

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/kv/keys"
)

const (
	rootByte   = '/'
	childTag   = "*"
	feedTag    = "#"
	suffixByte = 0xff
)

// builder assembles a key segment by segment, carrying the first
// encoding error along so call sites validate once at the end
type builder struct {
	key keys.Key
	err error
}

func root() builder {
	return builder{key: keys.Key{rootByte}}
}

func (b builder) tag(t string) builder {
	if b.err != nil {
		return b
	}

	b.key = append(b.key, t...)

	return b
}

func (b builder) str(s string) builder {
	if b.err != nil {
		return b
	}

	key, err := keys.AppendString(b.key, s)

	if err != nil {
		b.err = err

		return b
	}

	b.key = key

	return b
}

func (b builder) uint32(n uint32) builder {
	if b.err != nil {
		return b
	}

	b.key = keys.AppendUint32(b.key, n)

	return b
}

func (b builder) uint64(n uint64) builder {
	if b.err != nil {
		return b
	}

	b.key = keys.AppendUint64(b.key, n)

	return b
}

func (b builder) raw(p []byte) builder {
	if b.err != nil {
		return b
	}

	b.key = keys.AppendBytes(b.key, p)

	return b
}

func (b builder) build() (keys.Key, error) {
	if b.err != nil {
		return nil, b.err
	}

	return b.key, nil
}

// rng returns the range containing every key that extends this
// builder's bytes
func (b builder) rng() keys.Range {
	return keys.All().Prefix(b.key)
}

// decoder consumes a key front to back, mirroring builder
type decoder struct {
	rest []byte
	err  error
}

func decode(k keys.Key) *decoder {
	return &decoder{rest: k}
}

func (d *decoder) tag(t string) *decoder {
	if d.err != nil {
		return d
	}

	d.rest, d.err = keys.TakeTag(d.rest, []byte(t))

	return d
}

func (d *decoder) str(out *string) *decoder {
	if d.err != nil {
		return d
	}

	*out, d.rest, d.err = keys.TakeString(d.rest)

	return d
}

func (d *decoder) uint32(out *uint32) *decoder {
	if d.err != nil {
		return d
	}

	*out, d.rest, d.err = keys.TakeUint32(d.rest)

	return d
}

func (d *decoder) uint64(out *uint64) *decoder {
	if d.err != nil {
		return d
	}

	*out, d.rest, d.err = keys.TakeUint64(d.rest)

	return d
}

func (d *decoder) raw(out []byte) *decoder {
	if d.err != nil {
		return d
	}

	var b []byte

	b, d.rest, d.err = keys.TakeBytes(d.rest, len(out))

	if d.err == nil {
		copy(out, b)
	}

	return d
}

func (d *decoder) done() error {
	if d.err != nil {
		return d.err
	}

	if len(d.rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", keys.ErrDecode, len(d.rest))
	}

	return nil
}

func (d *decoder) namespace(ns *catalog.NamespaceID) *decoder {
	return d.tag(string(rootByte)).tag(childTag).uint32((*uint32)(ns))
}

func (d *decoder) database(ns *catalog.NamespaceID, db *catalog.DatabaseID) *decoder {
	return d.namespace(ns).tag(childTag).uint32((*uint32)(db))
}

func (d *decoder) table(ns *catalog.NamespaceID, db *catalog.DatabaseID, tb *string) *decoder {
	return d.database(ns, db).tag(childTag).str(tb)
}

// suffix returns the inclusive upper bound of all keys below prefix:
// the prefix with a trailing sentinel byte that no encoded name can
// produce. Bounds are always derived from the parent encoding plus
// the literal tag, never by truncating a child key.
func suffix(prefix keys.Key) keys.Key {
	return append(append(keys.Key{}, prefix...), suffixByte)
}

func namespaceLevel(ns catalog.NamespaceID) builder {
	return root().tag(childTag).uint32(uint32(ns))
}

func databaseLevel(ns catalog.NamespaceID, db catalog.DatabaseID) builder {
	return namespaceLevel(ns).tag(childTag).uint32(uint32(db))
}

func tableLevel(ns catalog.NamespaceID, db catalog.DatabaseID, tb string) builder {
	return databaseLevel(ns, db).tag(childTag).str(tb)
}

// StorageVersion returns the key of the record identifying the
// on-disk format version of the whole store
func StorageVersion() keys.Key {
	return root().tag("!v").key
}

// Namespace returns the key of a namespace definition
func Namespace(name string) (keys.Key, error) {
	return root().tag("!ns").str(name).build()
}

// NamespacePrefix returns the lower bound for scanning all namespace
// definitions
func NamespacePrefix() keys.Key {
	return root().tag("!ns").key
}

// NamespaceSuffix returns the inclusive upper bound for scanning all
// namespace definitions
func NamespaceSuffix() keys.Key {
	return suffix(NamespacePrefix())
}

// NamespaceRange returns the range of all namespace definitions
func NamespaceRange() keys.Range {
	return root().tag("!ns").rng()
}

// DecodeNamespace extracts the namespace name from a definition key
func DecodeNamespace(k keys.Key) (string, error) {
	var name string

	d := decode(k).tag(string(rootByte)).tag("!ns").str(&name)

	return name, d.done()
}

// NamespaceSubtree returns the range of every key belonging to a
// namespace: definitions, records, feeds, everything below it
func NamespaceSubtree(ns catalog.NamespaceID) keys.Range {
	return namespaceLevel(ns).rng()
}

// NamespaceIDState returns the key of a node's namespace-id sequence
// state
func NamespaceIDState(node uuid.UUID) keys.Key {
	return root().tag("!ni").raw(node[:]).key
}

// NamespaceIDStateRange returns the range of all nodes' namespace-id
// sequence state records
func NamespaceIDStateRange() keys.Range {
	return root().tag("!ni").rng()
}

// NamespaceIDBatch returns the key of a reserved namespace-id batch
// starting at start
func NamespaceIDBatch(start uint32) keys.Key {
	return root().tag("!nh").uint32(start).key
}

// NamespaceIDBatchRange returns the range of all reserved
// namespace-id batches in ascending start order
func NamespaceIDBatchRange() keys.Range {
	return root().tag("!nh").rng()
}

// DecodeNamespaceIDBatch extracts the batch start from a batch key
func DecodeNamespaceIDBatch(k keys.Key) (uint32, error) {
	var start uint32

	d := decode(k).tag(string(rootByte)).tag("!nh").uint32(&start)

	return start, d.done()
}
