// Package storage defines the key-value persistence surface used by the
// approval ledger. It supports in-memory and Valkey backends; any store that
// can hold a string value under a string key with a TTL can implement it.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value exists for the key.
// Callers that treat absence as an empty state should check for it with
// errors.Is rather than failing the operation.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal key-value contract the consent core depends on.
// All methods accept context.Context for tracing and cancellation.
type KV interface {
	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A ttl of zero means the entry never
	// expires; otherwise the entry becomes unreadable once the ttl elapses.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the value stored under key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error
}
