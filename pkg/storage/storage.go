// Package storage provides key/value persistence for tool state: the
// variable map, the scenario collection, and serialized request history.
// Implementations are small and synchronous; callers that must never fail on
// a write (stores with memory-only fallback) catch errors at their boundary.
package storage

import "errors"

// ErrQuotaExceeded is returned by bounded backends when a write would exceed
// the configured capacity. Stores treat it as a signal to shed old data.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// KV is a minimal durable key/value store.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)

	// Set stores value under key, overwriting any existing value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns all stored keys in unspecified order.
	Keys() ([]string, error)
}
