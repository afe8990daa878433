package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper tracks ledger event IDs that have already been accepted so a
// redelivered event is processed at most once within the retention window.
type Deduper interface {
	// Seen atomically marks the event ID and reports whether it was
	// already marked.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Forget removes the mark so a redelivery of the event is accepted
	// again. Used when an event was marked but could not be enqueued.
	Forget(ctx context.Context, eventID string) error
}

// RedisDeduper implements Deduper on Redis using SETNX with a TTL
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper. Events older than the
// TTL can recur; the retention window must exceed the ledger gateway's
// maximum redelivery horizon.
func NewRedisDeduper(redisClient *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{redis: redisClient, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.redis.SetNX(ctx, d.dedupKey(eventID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event dedup: %w", err)
	}
	return !set, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	if err := d.redis.Del(ctx, d.dedupKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to clear event dedup: %w", err)
	}
	return nil
}

func (d *RedisDeduper) dedupKey(eventID string) string {
	return fmt.Sprintf("ledger:event:%s", eventID)
}

// MemoryDeduper is an in-memory Deduper for tests and single-node runs
type MemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, lastSweep: time.Now()}
}

func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.sweep(now)
	if at, ok := d.seen[eventID]; ok && now.Sub(at) < d.ttl {
		return true, nil
	}
	d.seen[eventID] = now
	return false, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

// sweep drops expired marks at most once per TTL so the map stays
// bounded by the retention window. Caller holds the lock.
func (d *MemoryDeduper) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.ttl {
		return
	}
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
	d.lastSweep = now
}
