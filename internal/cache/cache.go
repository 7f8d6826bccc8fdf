// Package cache stores chart results keyed by chart, tenant and a
// fingerprint of the query. How long an entry lives depends on where the
// data came from: results read from external or synced sources stay until
// the chart is refreshed, results from the tenant-shared store are dropped
// when a table they read is invalidated.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/query"
)

// ErrMiss is returned by a Backend when no entry is stored under a key.
var ErrMiss = errors.New("cache miss")

// Policy says how a chart's results are cached.
type Policy string

const (
	// PolicyPermanent entries live until the chart is explicitly refreshed.
	PolicyPermanent Policy = "permanent"
	// PolicyTracked entries are dropped when a table they depend on changes.
	PolicyTracked Policy = "tracked"
	// PolicyBypass results are never cached.
	PolicyBypass Policy = "bypass"
)

// CacheStatusDynamic is the chart cache status that disables caching.
const CacheStatusDynamic = "dynamic"

// Chart carries the caching hints declared on a chart.
type Chart struct {
	DynamicFilter bool     `json:"dynamic_filter,omitempty"` // filter relative to the current date
	CacheStatus   string   `json:"cache_status,omitempty"`
	Tables        []string `json:"tables,omitempty"` // declared dependencies; extracted from SQL when empty
}

// PolicyFor decides the caching policy of a chart reading from loc.
func PolicyFor(loc model.StorageLocation, chart Chart) Policy {
	switch loc {
	case model.StorageExternal, model.StorageSynced:
		return PolicyPermanent
	case model.StorageTenantShared:
		if chart.DynamicFilter || chart.CacheStatus == CacheStatusDynamic {
			return PolicyBypass
		}
		return PolicyTracked
	}
	return PolicyBypass
}

// Dependencies returns the tables a tracked chart depends on: the declared
// ones, or the ones read by sql.
func Dependencies(chart Chart, sql string) []string {
	if len(chart.Tables) > 0 {
		deps := slices.Clone(chart.Tables)
		slices.Sort(deps)
		return slices.Compact(deps)
	}
	return query.ExtractTables(sql)
}

// Fingerprint derives the cache key component for one execution of a chart
// query. It covers the exact SQL text, the filter values, the bound
// parameters and the storage location, so entries are never shared across
// source kinds.
func Fingerprint(sql string, filters map[string]any, params []any, loc model.StorageLocation) (string, error) {
	// encoding/json writes map keys in sorted order, which makes the
	// filter encoding canonical.
	payload, err := json.Marshal(struct {
		SQL      string         `json:"sql"`
		Filters  map[string]any `json:"filters"`
		Params   []any          `json:"params"`
		Location string         `json:"location"`
	}{sql, filters, params, string(loc)})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Backend persists cache entries.
type Backend interface {
	Get(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error)
	Put(ctx context.Context, e *model.CacheEntry) error
	DeleteChart(ctx context.Context, chartID string) (int64, error)
	DeleteTables(ctx context.Context, tenantID string, tables []string) (int64, error)
}

// Sweeper is implemented by backends that need expired entries removed.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Options configure a Cache.
type Options struct {
	// TTL bounds tracked entries. Zero keeps them until invalidated.
	TTL time.Duration
}

// Cache is the result cache.
type Cache struct {
	backend Backend
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Cache on backend.
func New(backend Backend, opts Options, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: backend,
		opts:    opts,
		now:     time.Now,
		logger:  logger.With("component", "cache"),
	}
}

// Get returns the entry under key, or nil when there is none or it expired.
func (c *Cache) Get(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	e, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		observability.RecordCacheLookup("miss")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.Expired(c.now()) {
		observability.RecordCacheLookup("miss")
		return nil, nil
	}
	observability.RecordCacheLookup("hit")
	return e, nil
}

// Set stores a result. Entries for external and synced sources are
// permanent; tenant-shared entries depend on tables and expire after the
// configured TTL.
func (c *Cache) Set(ctx context.Context, key model.CacheKey, loc model.StorageLocation, rs *model.ResultSet, tables []string, duration time.Duration) error {
	now := c.now().UTC()
	e := &model.CacheEntry{
		Key:             key,
		StorageLocation: loc,
		Result:          rs,
		RowCount:        rs.Len(),
		DurationMs:      duration.Milliseconds(),
		CapturedAt:      now,
	}
	if PolicyFor(loc, Chart{}) == PolicyPermanent {
		e.Dependencies = []string{model.PermanentDependency}
	} else {
		e.Dependencies = slices.Clone(tables)
		if c.opts.TTL > 0 {
			exp := now.Add(c.opts.TTL)
			e.ExpiresAt = &exp
		}
	}
	if err := c.backend.Put(ctx, e); err != nil {
		return fmt.Errorf("store cache entry for chart %s: %w", key.ChartID, err)
	}
	return nil
}

// InvalidateChart drops every entry of a chart, permanent ones included.
func (c *Cache) InvalidateChart(ctx context.Context, chartID string) (int64, error) {
	n, err := c.backend.DeleteChart(ctx, chartID)
	if err != nil {
		return 0, fmt.Errorf("invalidate chart %s: %w", chartID, err)
	}
	observability.RecordCacheInvalidation("chart", n)
	c.logger.Debug("chart invalidated", "chart", chartID, "removed", n)
	return n, nil
}

// InvalidateTables drops tracked entries of a tenant that depend on any of
// tables. An empty tenantID means every tenant. Permanent entries stay.
func (c *Cache) InvalidateTables(ctx context.Context, tenantID string, tables []string) (int64, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	n, err := c.backend.DeleteTables(ctx, tenantID, tables)
	if err != nil {
		return 0, fmt.Errorf("invalidate tables: %w", err)
	}
	observability.RecordCacheInvalidation("tables", n)
	c.logger.Debug("tables invalidated", "tenant", tenantID, "tables", tables, "removed", n)
	return n, nil
}

// Sweep removes expired entries when the backend keeps them around.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	s, ok := c.backend.(Sweeper)
	if !ok {
		return 0, nil
	}
	return s.DeleteExpired(ctx, c.now())
}
