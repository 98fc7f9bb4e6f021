// Package storage provides the key/value abstractions the ledger persists through.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Reader is the read side of a key/value store.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in ascending key order.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

// Writer is the write side of a key/value store.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// ReadWriter combines Reader and Writer.
type ReadWriter interface {
	Reader
	Writer
}

// DB is the interface for key/value storage backends.
type DB interface {
	ReadWriter
	// NewBatch returns a write batch applied atomically on Commit.
	NewBatch() Batch
	Close() error
}

// Batch collects writes and applies them all-or-nothing.
type Batch interface {
	Writer
	Commit() error
}
