package keyspace

import (
	"github.com/jrife/tanager/catalog"
	"github.com/jrife/tanager/storage/kv/keys"
	"github.com/jrife/tanager/storage/vs"
)

// Changefeed returns the key of one change feed entry. Entries sort
// by versionstamp first so the feed reads back in commit order.
func Changefeed(ns catalog.NamespaceID, db catalog.DatabaseID, stamp vs.VersionStamp, tb string) (keys.Key, error) {
	return databaseLevel(ns, db).tag(feedTag).raw(stamp[:]).str(tb).build()
}

// ChangefeedRange returns the range of a database's whole change feed
// in versionstamp order
func ChangefeedRange(ns catalog.NamespaceID, db catalog.DatabaseID) keys.Range {
	return databaseLevel(ns, db).tag(feedTag).rng()
}

// ChangefeedRangeBefore returns the portion of a database's change
// feed strictly below stamp, the portion cleanup is allowed to prune
func ChangefeedRangeBefore(ns catalog.NamespaceID, db catalog.DatabaseID, stamp vs.VersionStamp) keys.Range {
	bound := databaseLevel(ns, db).tag(feedTag).raw(stamp[:]).key

	return ChangefeedRange(ns, db).Lt(bound)
}

// ChangefeedRangeSince returns the portion of a database's change
// feed at or above stamp, the portion consumers read forward from
func ChangefeedRangeSince(ns catalog.NamespaceID, db catalog.DatabaseID, stamp vs.VersionStamp) keys.Range {
	bound := databaseLevel(ns, db).tag(feedTag).raw(stamp[:]).key

	return ChangefeedRange(ns, db).Gte(bound)
}

// DecodeChangefeed extracts the versionstamp and table name from a
// change feed entry key
func DecodeChangefeed(k keys.Key) (vs.VersionStamp, string, error) {
	var (
		ns    catalog.NamespaceID
		db    catalog.DatabaseID
		stamp vs.VersionStamp
		tb    string
	)

	d := decode(k).database(&ns, &db).tag(feedTag).raw(stamp[:]).str(&tb)

	return stamp, tb, d.done()
}
