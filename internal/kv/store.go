// Package kv provides the key-value record store used by the gallery.
package kv

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value exists under the key.
var ErrKeyNotFound = errors.New("kv: key not found")

// ErrConflict is returned by Update when optimistic retries are exhausted.
var ErrConflict = errors.New("kv: concurrent modification")

// Entry is a single key/value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// MutateFunc receives the current value (nil when found is false) and returns
// the value to write. Returning an error aborts the update without writing.
type MutateFunc func(current []byte, found bool) ([]byte, error)

// Store is a string-keyed byte store with prefix listing and atomic counters.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix. Ordering is
	// driver-defined and callers must not rely on it.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Increment atomically adds one to the integer stored under key,
	// treating a missing key as zero.
	Increment(ctx context.Context, key string) (int64, error)
	// Update performs an atomic read-modify-write of a single key.
	Update(ctx context.Context, key string, mutate MutateFunc) ([]byte, error)
}
