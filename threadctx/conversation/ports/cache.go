package convports

import "context"

// Cache is a byte-oriented key/value cache with per-entry TTL. The thread
// store read-through layer keeps encoded thread states in it.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
