// Package storage provides the persistent key-value collaborator the queue
// uses to checkpoint its contents. Callers treat a failed or missing read
// as empty state, so an unavailable store degrades delivery guarantees but
// never takes the pipeline down.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// Store is an asynchronous key-value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the value stored under key. Removing a missing key
	// is not an error.
	Remove(ctx context.Context, key string) error
}
