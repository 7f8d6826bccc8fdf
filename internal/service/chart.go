package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/reservoir/internal/cache"
	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/router"
)

// ChartQuery is one chart execution request.
type ChartQuery struct {
	ChartID      string         `json:"chart_id"`
	ConnectionID int64          `json:"connection_id"`
	SQL          string         `json:"sql"`
	Params       []any          `json:"params,omitempty"`
	Filters      map[string]any `json:"filters,omitempty"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Cache        cache.Chart    `json:"cache"`
}

// ChartResult is the rows of a chart plus how they were obtained.
type ChartResult struct {
	ChartID string                   `json:"chart_id,omitempty"`
	Columns []model.ColumnDesc       `json:"columns"`
	Rows    []map[string]model.Value `json:"rows"`
	Meta    model.QueryMeta          `json:"meta"`
}

// Router routes queries to the backend of their connection.
type Router interface {
	Route(ctx context.Context, req router.Request) router.Result
}

// ConnectionStore looks up connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
}

// ChartService answers chart queries from the cache or through the router.
type ChartService struct {
	conns  ConnectionStore
	router Router
	cache  *cache.Cache
	logger *slog.Logger
}

// NewChartService creates a ChartService. A nil cache disables caching.
func NewChartService(conns ConnectionStore, r Router, c *cache.Cache, logger *slog.Logger) *ChartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChartService{conns: conns, router: r, cache: c, logger: logger.With("component", "charts")}
}

// Run executes one chart query. Failures are reported in the result's
// meta; Run never returns an error so batch callers can carry on.
func (s *ChartService) Run(ctx context.Context, q ChartQuery) ChartResult {
	start := time.Now()
	out := ChartResult{
		ChartID: q.ChartID,
		Columns: []model.ColumnDesc{},
		Rows:    []map[string]model.Value{},
	}
	fail := func(merr *model.Error) ChartResult {
		out.Meta.Error = merr.Message
		out.Meta.ErrorKind = merr.Kind
		out.Meta.DurationMs = time.Since(start).Milliseconds()
		return out
	}

	conn, err := s.conns.GetConnection(ctx, q.ConnectionID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			err = fmt.Errorf("connection %d not found", q.ConnectionID)
		}
		return fail(model.NewError(model.ErrRouting, err))
	}
	loc := conn.StorageLocation
	out.Meta.DataSource = loc

	policy := cache.PolicyBypass
	if s.cache != nil && q.ChartID != "" {
		policy = cache.PolicyFor(loc, q.Cache)
	}

	var key model.CacheKey
	if policy == cache.PolicyBypass {
		observability.RecordCacheLookup("bypass")
	} else {
		fp, err := cache.Fingerprint(q.SQL, q.Filters, q.Params, loc)
		if err != nil {
			return fail(model.NewError(model.ErrQuery, err))
		}
		key = model.CacheKey{ChartID: q.ChartID, TenantID: q.TenantID, Fingerprint: fp}

		entry, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("cache read failed", "chart", q.ChartID, "error", err)
		}
		if entry != nil {
			out.Columns = entry.Result.Columns
			out.Rows = entry.Result.Records()
			out.Meta.Cached = true
			out.Meta.DurationMs = time.Since(start).Milliseconds()
			return out
		}
	}

	res := s.router.Route(ctx, router.Request{
		ConnectionID: q.ConnectionID,
		SQL:          q.SQL,
		Params:       q.Params,
		TenantID:     q.TenantID,
	})
	if res.Err != nil {
		return fail(res.Err)
	}
	out.Columns = res.ResultSet.Columns
	out.Rows = res.ResultSet.Records()
	out.Meta.DurationMs = time.Since(start).Milliseconds()

	if policy != cache.PolicyBypass {
		var deps []string
		if policy == cache.PolicyTracked {
			deps = cache.Dependencies(q.Cache, q.SQL)
		}
		if err := s.cache.Set(ctx, key, loc, res.ResultSet, deps, res.Duration); err != nil {
			s.logger.Warn("cache write failed", "chart", q.ChartID, "error", err)
		}
	}
	return out
}

// RunBatch runs queries one after another. A failing chart only marks its
// own result.
func (s *ChartService) RunBatch(ctx context.Context, qs []ChartQuery) []ChartResult {
	out := make([]ChartResult, len(qs))
	for i, q := range qs {
		out[i] = s.Run(ctx, q)
	}
	return out
}

// Refresh drops every cached result of the chart and runs it again.
func (s *ChartService) Refresh(ctx context.Context, q ChartQuery) ChartResult {
	if s.cache != nil && q.ChartID != "" {
		if _, err := s.cache.InvalidateChart(ctx, q.ChartID); err != nil {
			s.logger.Warn("cache invalidation failed", "chart", q.ChartID, "error", err)
		}
	}
	return s.Run(ctx, q)
}
