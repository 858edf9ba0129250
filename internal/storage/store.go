// Package storage persists the game directory's state as opaque values
// under string keys. The directory owns the encoding; stores only move
// bytes.
package storage

import "context"

// Store is the directory's persistence backend.
type Store interface {
	// Get returns the value stored under key. ok is false when the key
	// has never been written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}
