// Package ratelimit provides the Redis-backed keyed counter store used at
// the service boundary. Counters are windowed with INCR + EXPIRE; nothing
// is held in process memory, so every gateway replica sees the same counts
// and a restart forgets nothing.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one counter policy: the Redis key prefix, maximum count
// allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:sigfail:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Boundary counter rules.
var (
	// RuleSignatureFailure tracks webhook signature rejections per source
	// address. Crossing the limit marks the source as abusive; requests
	// are still rejected with 401 either way.
	RuleSignatureFailure = Rule{Key: "rl:sigfail:", Limit: 20, Window: 10 * time.Minute}

	// RuleDecision throttles term review decisions per owner.
	RuleDecision = Rule{Key: "rl:decide:", Limit: 30, Window: 1 * time.Minute}
)

// Limiter performs windowed counting against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one event for the identifier and reports whether it is still
// within the rule's limit. The window starts at the first event and is
// enforced by key expiry.
//
// On Redis errors the method fails open (returns true) so a Redis outage
// never blocks legitimate traffic at the boundary.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL — it would persist and block
			// the identifier forever. Best effort: delete it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many events the identifier has left in the current
// window. Returns the full limit if the key does not exist yet. On Redis
// errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
