package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedupe short-circuits duplicate queue deliveries with a marker per message
// id. The marker is written only after processing succeeded: a worker that
// crashes mid-message leaves no marker, so the broker redelivery still runs.
// It is an optimization only: the stores' conditional writes remain the
// authoritative idempotency guard, so a Redis outage degrades to processing
// duplicates, never to losing messages.
type Dedupe struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupe(client *redis.Client, ttl time.Duration) *Dedupe {
	return &Dedupe{client: client, ttl: ttl}
}

// Seen reports whether the key is already marked processed. Read-only: two
// workers racing the same unmarked key both process it, and the conditional
// writes absorb the duplicate.
func (d *Dedupe) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe exists: %w", err)
	}
	return n > 0, nil
}

// Mark stamps the key once processing is complete. SetNX keeps the first
// writer's TTL when two workers finish the same message.
func (d *Dedupe) Mark(ctx context.Context, key string) error {
	if err := d.client.SetNX(ctx, dedupeKey(key), "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe setnx: %w", err)
	}
	return nil
}

func dedupeKey(key string) string {
	return "processed:" + key
}
