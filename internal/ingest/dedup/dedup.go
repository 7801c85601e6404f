// Package dedup provides a fast-path message deduplication check backed by a
// Redis SET with TTL. The durable seen_messages table remains the source of
// truth; this filter just keeps repeat mailbox polls from hitting Postgres for
// every message still sitting in the inbox.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a message id stays in the fast path. Messages
	// are deleted from the mailbox after ingestion, so a day is plenty.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "mailroom:seen:"
)

// Filter tracks which transport message ids were recently ingested.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew returns true if the message id has not been seen recently, marking it
// seen atomically (SETNX) in the same call.
func (f *Filter) IsNew(ctx context.Context, messageID string) (bool, error) {
	key := keyPrefix + messageID
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget drops a message id from the fast path so the durable check decides
// again, used when ingestion fails after the SETNX.
func (f *Filter) Forget(ctx context.Context, messageID string) error {
	return f.rdb.Del(ctx, keyPrefix+messageID).Err()
}

// Noop reports every message as new. Used when Redis is not configured, so
// the fetcher falls through to the durable seen_messages check alone.
type Noop struct{}

func (Noop) IsNew(ctx context.Context, messageID string) (bool, error) { return true, nil }

func (Noop) Forget(ctx context.Context, messageID string) error { return nil }
