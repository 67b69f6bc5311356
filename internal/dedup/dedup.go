// Package dedup tracks provider message ids recently accepted by the
// webhook, backed by a Redis TTL keyspace. Providers redeliver payloads
// until acknowledged, so the same message id routinely arrives more than
// once.
//
// Checking and marking are separate operations: Seen is consulted before a
// message is processed, Mark only after it is persisted. A crash between
// the two means the redelivery is processed again rather than lost; the
// store's unique message id constraint remains the hard idempotence guard.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a message id is remembered. Providers give up
	// on redelivery well within a day.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "chatwarden:seen:"
)

// Filter remembers which provider message ids have been fully processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Seen reports whether the message id has already been processed. It never
// modifies state.
func (f *Filter) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// Mark remembers the message id. Call it only once the message is safely
// persisted.
func (f *Filter) Mark(ctx context.Context, messageID string) error {
	if err := f.rdb.Set(ctx, keyPrefix+messageID, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}
