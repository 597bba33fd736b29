// Package store defines the shared key-value substrate the gate pipeline
// coordinates through. Every instance of the gateway talks to the same
// store; there is no in-process shared state between instances.
package store

import (
	"context"
	"time"
)

// ErrMiss is returned by read operations when the key is absent.
// Callers distinguish it from transport errors with errors.Is.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "store: miss" }

// Store is the coordination contract. Values are opaque strings; callers
// own serialization. Implementations must be safe for concurrent use.
//
// Each operation is individually atomic. Nothing groups them into a
// transaction — the coordinator is written to tolerate that.
type Store interface {
	// Append adds value to the end of the list at listKey, creating it
	// if absent. Relative append order of concurrent callers is the
	// list's order.
	Append(ctx context.Context, listKey, value string) error

	// ReadLast returns the last element of the list, or ErrMiss when the
	// list is absent or empty.
	ReadLast(ctx context.Context, listKey string) (string, error)

	// ReadAll returns the full list in insertion order. An absent list
	// yields an empty slice, not an error.
	ReadAll(ctx context.Context, listKey string) ([]string, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// SetExpiry refreshes the TTL on key. No-op if the key is absent.
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error

	// SetNX atomically sets key to value with a TTL, succeeding only if
	// the key does not already exist. Returns whether this caller won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value at key, or ErrMiss when absent.
	Get(ctx context.Context, key string) (string, error)

	// Ping verifies connectivity with the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
