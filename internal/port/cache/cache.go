// Package cache defines the byte cache port shared by the CA root lookup
// and the Idempotency-Key replay store.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys. A miss is (nil, false, nil);
// an error means the backend failed and callers treat it as a miss.
type Cache interface {
	// Get returns the value stored for key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value for at most ttl. Zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
