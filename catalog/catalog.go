package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Numeric surrogate ids for catalog resources. They are fixed-width so
// encoded keys containing them stay comparable, allocated once by the
// sequence generators, and never reused while anything references
// them.
type (
	// NamespaceID identifies a namespace
	NamespaceID uint32
	// DatabaseID identifies a database within a namespace
	DatabaseID uint32
	// TableID identifies a table within a database
	TableID uint32
	// IndexID identifies an index within a table
	IndexID uint32
)

// NamespaceDefinition describes one namespace, the root of the
// multi-tenant hierarchy
type NamespaceDefinition struct {
	ID      NamespaceID `json:"id"`
	Name    string      `json:"name"`
	Comment string      `json:"comment,omitempty"`
}

// DatabaseDefinition describes one database within a namespace
type DatabaseDefinition struct {
	ID        DatabaseID  `json:"id"`
	Namespace NamespaceID `json:"namespace"`
	Name      string      `json:"name"`
	Comment   string      `json:"comment,omitempty"`
}

// ChangefeedConfig enables the change feed for a table. Entries older
// than Expiry are eligible for cleanup.
type ChangefeedConfig struct {
	Expiry    time.Duration `json:"expiry"`
	StoreDiff bool          `json:"store_diff,omitempty"`
}

// TableDefinition describes one table within a database
type TableDefinition struct {
	ID         TableID           `json:"id"`
	Name       string            `json:"name"`
	Changefeed *ChangefeedConfig `json:"changefeed,omitempty"`
	Comment    string            `json:"comment,omitempty"`
}

// FieldDefinition describes one field of a table
type FieldDefinition struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// EventDefinition describes one event attached to a table
type EventDefinition struct {
	Name    string `json:"name"`
	When    string `json:"when,omitempty"`
	Then    string `json:"then,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// IndexDefinition describes one secondary index of a table. The index
// structure itself lives outside this layer; the definition only
// records what should be indexed.
type IndexDefinition struct {
	ID      IndexID  `json:"id"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// AccessDefinition describes one access method of a database
type AccessDefinition struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Comment string `json:"comment,omitempty"`
}

// LiveQueryDefinition registers one live query against a table so
// other nodes can route notifications to its owner
type LiveQueryDefinition struct {
	ID   uuid.UUID `json:"id"`
	Node uuid.UUID `json:"node"`
}
