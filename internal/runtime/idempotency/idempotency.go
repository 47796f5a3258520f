// Package idempotency provides at-most-once marking of event ids with TTL
// expiry. Both transports consult a Store before dispatching so a redelivered
// event id is dropped instead of reaching handlers twice.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long an event id stays marked.
const DefaultTTL = 24 * time.Hour

// DefaultCleanupInterval bounds how often the memory store sweeps expired
// entries.
const DefaultCleanupInterval = 5 * time.Minute

// Store marks event ids as seen. An empty key is never deduplicated:
// MarkOnce accepts it and Seen reports false.
type Store interface {
	// MarkOnce records the key and reports true exactly once per TTL
	// window. Replays before expiry report false.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Seen reports whether the key is currently marked.
	Seen(ctx context.Context, key string) (bool, error)

	// Delete unmarks the key.
	Delete(ctx context.Context, key string) error
}
