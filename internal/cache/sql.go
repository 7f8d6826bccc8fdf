package cache

import (
	"context"
	"errors"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
)

// SQLBackend keeps entries in the metadata store's cache_entries table.
type SQLBackend struct {
	store *config.Store
}

// NewSQLBackend creates a backend on store.
func NewSQLBackend(store *config.Store) *SQLBackend {
	return &SQLBackend{store: store}
}

func (b *SQLBackend) Get(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	e, err := b.store.GetCacheEntry(ctx, key)
	if errors.Is(err, config.ErrNotFound) {
		return nil, ErrMiss
	}
	return e, err
}

func (b *SQLBackend) Put(ctx context.Context, e *model.CacheEntry) error {
	return b.store.PutCacheEntry(ctx, e)
}

func (b *SQLBackend) DeleteChart(ctx context.Context, chartID string) (int64, error) {
	return b.store.DeleteCacheEntriesByChart(ctx, chartID)
}

func (b *SQLBackend) DeleteTables(ctx context.Context, tenantID string, tables []string) (int64, error) {
	return b.store.DeleteCacheEntriesByTables(ctx, tenantID, tables)
}

func (b *SQLBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return b.store.DeleteExpiredCacheEntries(ctx, now)
}
