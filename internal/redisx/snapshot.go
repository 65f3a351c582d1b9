package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/redis/go-redis/v9"
)

type CachedSnapshot struct {
	Generation uint64             `json:"generation"`
	LoadedAt   time.Time          `json:"loaded_at"`
	Products   []products.Product `json:"products"`
}

// SnapshotCache keeps the last committed catalog snapshot so a restarting
// instance can serve reads before its first reload finishes.
type SnapshotCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, service string) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, key: fmt.Sprintf(KeySnapshot, service), ttl: TTLSnapshot}
}

func (c *SnapshotCache) Save(ctx context.Context, s catalog.Snapshot) error {
	b, err := json.Marshal(CachedSnapshot{Generation: s.Generation, LoadedAt: s.LoadedAt, Products: s.Products()})
	if err != nil {
		return fmt.Errorf("snapshot cache: marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot cache: set: %w", err)
	}
	return nil
}

// Load returns the cached snapshot; ok is false when nothing is cached.
func (c *SnapshotCache) Load(ctx context.Context) (CachedSnapshot, bool, error) {
	b, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedSnapshot{}, false, nil
	}
	if err != nil {
		return CachedSnapshot{}, false, fmt.Errorf("snapshot cache: get: %w", err)
	}
	var cs CachedSnapshot
	if err := json.Unmarshal(b, &cs); err != nil {
		return CachedSnapshot{}, false, fmt.Errorf("snapshot cache: decode: %w", err)
	}
	return cs, true, nil
}
