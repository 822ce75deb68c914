package storage

import (
	"errors"
)

var (
	// ErrClosed indicates that the datastore was closed
	ErrClosed = errors.New("datastore was closed")
	// ErrTxFinished indicates an operation on a transaction that was
	// already committed or cancelled, or that failed and can no
	// longer be used
	ErrTxFinished = errors.New("transaction was already finished")
	// ErrTxReadonly indicates a write attempted on a read-only
	// transaction
	ErrTxReadonly = errors.New("transaction is read-only")
	// ErrTxConflict indicates that optimistic validation failed at
	// commit time. None of the transaction's writes took effect. The
	// caller should re-run the whole transactional block against
	// fresh state, not retry the commit.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrSequenceExhausted indicates that an id sequence ran out of
	// allocatable values
	ErrSequenceExhausted = errors.New("sequence exhausted")
	// ErrInvalidStorageVersion indicates that the store was written
	// by an incompatible version of this layer
	ErrInvalidStorageVersion = errors.New("invalid storage version")
	// ErrNamespaceExists indicates that a namespace with the given
	// name is already defined
	ErrNamespaceExists = errors.New("namespace already exists")
	// ErrNamespaceNotFound indicates that no namespace with the
	// given name is defined
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrDatabaseExists indicates that a database with the given
	// name is already defined
	ErrDatabaseExists = errors.New("database already exists")
	// ErrDatabaseNotFound indicates that no database with the given
	// name is defined
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrTableExists indicates that a table with the given name is
	// already defined
	ErrTableExists = errors.New("table already exists")
	// ErrTableNotFound indicates that no table with the given name
	// is defined
	ErrTableNotFound = errors.New("table not found")
	// ErrAccessNotFound indicates that no access method with the
	// given name is defined
	ErrAccessNotFound = errors.New("access method not found")
)
