// Package cache holds the optional Redis layer in front of the latest
// snapshot table. It only serves exact (instrument, exchange) lookups;
// everything else goes straight to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tickfeed/pkg/market"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "latest:"

// ErrMiss signals the key was absent or expired.
var ErrMiss = errors.New("cache miss")

// setLatestScript writes the snapshot only when its ordering key is
// strictly newer than the one cached. Writers land here outside the
// store's per-pair serialization, so the same latest-wins rule the
// store enforces has to hold on the Redis side too.
var setLatestScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ord')
if cur and ARGV[1] <= cur then
	return 0
end
redis.call('HSET', KEYS[1], 'ord', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(instrumentID int64, exchange market.Exchange) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, instrumentID, exchange)
}

// orderingKey renders (observed_at, last_tick_id) as a fixed-width
// string so the script can compare candidates lexicographically.
func orderingKey(snap market.Snapshot) string {
	nanos := snap.ObservedAt.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	return fmt.Sprintf("%020d:%020d", nanos, snap.LastTickID)
}

// SetLatest stores the snapshot under its pair key with the configured
// TTL. An older snapshot never replaces a newer one, whatever order
// the callers' writes arrive in; the TTL bounds staleness from
// anything else.
func (c *SnapshotCache) SetLatest(ctx context.Context, snap market.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := snapshotKey(snap.InstrumentID, snap.Exchange)
	err = setLatestScript.Run(ctx, c.client,
		[]string{key},
		orderingKey(snap), payload, c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set latest snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) GetLatest(ctx context.Context, instrumentID int64, exchange market.Exchange) (market.Snapshot, error) {
	key := snapshotKey(instrumentID, exchange)

	payload, err := c.client.HGet(ctx, key, "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return market.Snapshot{}, ErrMiss
		}
		return market.Snapshot{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	var snap market.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return market.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Ping checks Redis connection health.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
