// Package kv provides the durable local key-value storage used for tokens,
// cached profiles and pending writes, plus an in-memory variant used as the
// session-scoped store.
package kv

import "context"

// Store is a byte-valued key-value store. Get returns (nil, nil) when the
// key is absent; Delete of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Update atomically replaces the value of key with fn(current). current
	// is nil when the key is absent. Returning a nil value deletes the key.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}
