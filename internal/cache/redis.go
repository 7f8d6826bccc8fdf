package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faucetdb/reservoir/internal/model"
)

// RedisBackend keeps entries in Redis. Besides the entry itself it maintains
// one set of entry keys per chart and per dependency table, which is what
// the invalidations read.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend that namespaces its keys with prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) entryKey(k model.CacheKey) string {
	return b.prefix + "entry:" + k.ChartID + ":" + k.TenantID + ":" + k.Fingerprint
}

func (b *RedisBackend) chartKey(chartID string) string {
	return b.prefix + "chart:" + chartID
}

// tableKey indexes a tenant's entries by table; an empty tenant selects the
// index spanning all tenants.
func (b *RedisBackend) tableKey(tenantID, table string) string {
	if tenantID == "" {
		return b.prefix + "table:" + table
	}
	return b.prefix + "tenant:" + tenantID + ":table:" + table
}

func (b *RedisBackend) Get(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	data, err := b.client.Get(ctx, b.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e model.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

func (b *RedisBackend) Put(ctx context.Context, e *model.CacheEntry) error {
	var ttl time.Duration
	if e.ExpiresAt != nil {
		ttl = time.Until(*e.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	ek := b.entryKey(e.Key)
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, ek, data, ttl)
	pipe.SAdd(ctx, b.chartKey(e.Key.ChartID), ek)
	if !e.Permanent() {
		for _, table := range e.Dependencies {
			pipe.SAdd(ctx, b.tableKey(e.Key.TenantID, table), ek)
			pipe.SAdd(ctx, b.tableKey("", table), ek)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteChart(ctx context.Context, chartID string) (int64, error) {
	return b.deleteIndexed(ctx, b.chartKey(chartID))
}

func (b *RedisBackend) DeleteTables(ctx context.Context, tenantID string, tables []string) (int64, error) {
	indexes := make([]string, len(tables))
	for i, t := range tables {
		indexes[i] = b.tableKey(tenantID, t)
	}
	return b.deleteIndexed(ctx, indexes...)
}

// deleteIndexed removes every entry listed in the given index sets, then
// the sets. Index members whose entry is already gone are not counted.
func (b *RedisBackend) deleteIndexed(ctx context.Context, indexes ...string) (int64, error) {
	members, err := b.client.SUnion(ctx, indexes...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis read index: %w", err)
	}
	var removed int64
	if len(members) > 0 {
		removed, err = b.client.Del(ctx, members...).Result()
		if err != nil {
			return 0, fmt.Errorf("redis delete entries: %w", err)
		}
	}
	if err := b.client.Del(ctx, indexes...).Err(); err != nil {
		return removed, fmt.Errorf("redis delete index: %w", err)
	}
	return removed, nil
}
