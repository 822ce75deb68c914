package keyspace_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jrife/tanager/storage/keyspace"
	"github.com/jrife/tanager/storage/kv/keys"
	"github.com/jrife/tanager/storage/vs"
)

func TestDefinitionRoundTrip(t *testing.T) {
	ns, err := keyspace.Namespace("acme")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	name, err := keyspace.DecodeNamespace(ns)

	if err != nil || name != "acme" {
		t.Fatalf("expected acme, got %#v %#v", name, err)
	}

	db, err := keyspace.Database(1, "app")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	nsID, name, err := keyspace.DecodeDatabase(db)

	if err != nil || nsID != 1 || name != "app" {
		t.Fatalf("expected (1, app), got (%#v, %#v) %#v", nsID, name, err)
	}

	tb, err := keyspace.Table(1, 2, "users")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if name, err := keyspace.DecodeTable(tb); err != nil || name != "users" {
		t.Fatalf("expected users, got %#v %#v", name, err)
	}

	fd, err := keyspace.Field(1, 2, "users", "email")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if name, err := keyspace.DecodeField(fd); err != nil || name != "email" {
		t.Fatalf("expected email, got %#v %#v", name, err)
	}

	rec, err := keyspace.Record(1, 2, "users", "alice")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if id, err := keyspace.DecodeRecord(rec); err != nil || id != "alice" {
		t.Fatalf("expected alice, got %#v %#v", id, err)
	}

	lqID := uuid.New()

	lq, err := keyspace.LiveQuery(1, 2, "users", lqID)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if id, err := keyspace.DecodeLiveQuery(lq); err != nil || id != lqID {
		t.Fatalf("expected %v, got %#v %#v", lqID, id, err)
	}
}

func TestRejectsInvalidNames(t *testing.T) {
	if _, err := keyspace.Namespace(""); !errors.Is(err, keys.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %#v", err)
	}

	if _, err := keyspace.Table(1, 2, "bad\x00name"); !errors.Is(err, keys.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %#v", err)
	}

	// A bad table name poisons every key built below it
	if _, err := keyspace.Field(1, 2, "", "email"); !errors.Is(err, keys.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %#v", err)
	}
}

func TestDecodeRejectsForeignKeys(t *testing.T) {
	tb, err := keyspace.Table(1, 2, "users")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := keyspace.DecodeNamespace(tb); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %#v", err)
	}

	if _, err := keyspace.DecodeTable(tb[:len(tb)-1]); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode for a truncated key, got %#v", err)
	}

	if _, err := keyspace.DecodeTable(append(append(keys.Key{}, tb...), 'x')); !errors.Is(err, keys.ErrDecode) {
		t.Fatalf("expected ErrDecode for trailing bytes, got %#v", err)
	}
}

func TestOrdering(t *testing.T) {
	mustKey := func(k keys.Key, err error) keys.Key {
		t.Helper()

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		return k
	}

	// Logical order of the field tuples must match byte order of
	// their encodings
	ordered := []keys.Key{
		mustKey(keyspace.Database(1, "app")),
		mustKey(keyspace.Database(1, "app2")),
		mustKey(keyspace.Database(2, "app")),
		keyspace.TablePrefix(2, 1),
		mustKey(keyspace.Table(2, 1, "orders")),
		mustKey(keyspace.Table(2, 1, "users")),
		keyspace.TableSuffix(2, 1),
		mustKey(keyspace.Record(2, 1, "users", "alice")),
		mustKey(keyspace.Record(2, 1, "users", "bob")),
	}

	for i := 1; i < len(ordered); i++ {
		if bytes.Compare(ordered[i-1], ordered[i]) >= 0 {
			t.Fatalf("expected %q < %q", ordered[i-1], ordered[i])
		}
	}
}

func TestPrefixContainment(t *testing.T) {
	for _, name := range []string{"a", "orders", "zzz", "ÿ"} {
		tb, err := keyspace.Table(3, 4, name)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if bytes.Compare(keyspace.TablePrefix(3, 4), tb) > 0 {
			t.Fatalf("expected prefix <= %q", tb)
		}

		if bytes.Compare(tb, keyspace.TableSuffix(3, 4)) > 0 {
			t.Fatalf("expected %q <= suffix", tb)
		}
	}

	// Tables of another database must fall outside the bounds
	other, err := keyspace.Table(3, 5, "orders")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if bytes.Compare(other, keyspace.TableSuffix(3, 4)) <= 0 {
		t.Fatalf("expected %q to sort above the suffix", other)
	}
}

func TestRangesScopeChildren(t *testing.T) {
	rng, err := keyspace.RecordRange(1, 2, "users")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	inside, err := keyspace.Record(1, 2, "users", "alice")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	outside, err := keyspace.Record(1, 2, "userz", "alice")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	contains := func(rng keys.Range, k keys.Key) bool {
		return keys.Compare(k, rng.Min) >= 0 && (rng.Max == nil || keys.Compare(k, rng.Max) < 0)
	}

	if !contains(rng, inside) {
		t.Fatalf("expected %q to be inside the range", inside)
	}

	if contains(rng, outside) {
		t.Fatalf("expected %q to be outside the range", outside)
	}

	// A field definition of the same table is not a record
	fd, err := keyspace.Field(1, 2, "users", "email")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if contains(rng, fd) {
		t.Fatalf("expected %q to be outside the range", fd)
	}
}

func TestChangefeedKeysSortByVersionstamp(t *testing.T) {
	older, err := keyspace.Changefeed(1, 2, vs.New(10), "users")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	newer, err := keyspace.Changefeed(1, 2, vs.New(11), "aardvarks")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if bytes.Compare(older, newer) >= 0 {
		t.Fatalf("expected %q < %q", older, newer)
	}

	stamp, tb, err := keyspace.DecodeChangefeed(older)

	if err != nil || stamp != vs.New(10) || tb != "users" {
		t.Fatalf("expected (10, users), got (%v, %#v) %#v", stamp, tb, err)
	}

	pruned := keyspace.ChangefeedRangeBefore(1, 2, vs.New(11))

	if keys.Compare(older, pruned.Max) >= 0 {
		t.Fatalf("expected %q to be prunable below stamp 11", older)
	}

	if keys.Compare(newer, pruned.Max) < 0 {
		t.Fatalf("expected %q to survive pruning below stamp 11", newer)
	}
}
