package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/reservoir/internal/model"
)

// ---------------------------------------------------------------------------
// Cache entries
// ---------------------------------------------------------------------------

// Dependencies are stored as ",a,b," so a single table can be matched with
// LIKE '%,a,%' without false positives on prefixes.

type cacheEntryRow struct {
	ChartID         string     `db:"chart_id"`
	TenantID        string     `db:"tenant_id"`
	Fingerprint     string     `db:"fingerprint"`
	StorageLocation string     `db:"storage_location"`
	ResultJSON      string     `db:"result_json"`
	RowCount        int        `db:"row_count"`
	DurationMs      int64      `db:"duration_ms"`
	Dependencies    string     `db:"dependencies"`
	CapturedAt      time.Time  `db:"captured_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
}

func encodeDependencies(deps []string) string {
	if len(deps) == 0 {
		return ""
	}
	return "," + strings.Join(deps, ",") + ","
}

func decodeDependencies(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// likeEscaper escapes LIKE metacharacters; table names are full of "_".
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func dependencyPattern(table string) string {
	return "%," + likeEscaper.Replace(table) + ",%"
}

func cacheEntryRowFromModel(e *model.CacheEntry) (cacheEntryRow, error) {
	result, err := json.Marshal(e.Result)
	if err != nil {
		return cacheEntryRow{}, fmt.Errorf("encode cached result: %w", err)
	}
	return cacheEntryRow{
		ChartID:         e.Key.ChartID,
		TenantID:        e.Key.TenantID,
		Fingerprint:     e.Key.Fingerprint,
		StorageLocation: string(e.StorageLocation),
		ResultJSON:      string(result),
		RowCount:        e.RowCount,
		DurationMs:      e.DurationMs,
		Dependencies:    encodeDependencies(e.Dependencies),
		CapturedAt:      e.CapturedAt,
		ExpiresAt:       e.ExpiresAt,
	}, nil
}

func (r cacheEntryRow) toModel() (model.CacheEntry, error) {
	e := model.CacheEntry{
		Key: model.CacheKey{
			ChartID:     r.ChartID,
			TenantID:    r.TenantID,
			Fingerprint: r.Fingerprint,
		},
		StorageLocation: model.StorageLocation(r.StorageLocation),
		RowCount:        r.RowCount,
		DurationMs:      r.DurationMs,
		Dependencies:    decodeDependencies(r.Dependencies),
		CapturedAt:      r.CapturedAt,
		ExpiresAt:       r.ExpiresAt,
	}
	var rs model.ResultSet
	if err := json.Unmarshal([]byte(r.ResultJSON), &rs); err != nil {
		return model.CacheEntry{}, fmt.Errorf("decode cached result for chart %s: %w", r.ChartID, err)
	}
	e.Result = &rs
	return e, nil
}

// GetCacheEntry returns the entry stored under key, or ErrNotFound. Expiry
// is not checked here.
func (s *Store) GetCacheEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	var row cacheEntryRow
	const q = `SELECT * FROM cache_entries WHERE chart_id = ? AND tenant_id = ? AND fingerprint = ?`
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), key.ChartID, key.TenantID, key.Fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	e, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PutCacheEntry inserts or replaces the entry stored under e.Key.
func (s *Store) PutCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	row, err := cacheEntryRowFromModel(e)
	if err != nil {
		return err
	}
	const q = `INSERT INTO cache_entries
		(chart_id, tenant_id, fingerprint, storage_location, result_json, row_count, duration_ms,
		 dependencies, captured_at, expires_at)
		VALUES
		(:chart_id, :tenant_id, :fingerprint, :storage_location, :result_json, :row_count, :duration_ms,
		 :dependencies, :captured_at, :expires_at)
		ON CONFLICT (chart_id, tenant_id, fingerprint) DO UPDATE SET
		 storage_location = excluded.storage_location, result_json = excluded.result_json,
		 row_count = excluded.row_count, duration_ms = excluded.duration_ms,
		 dependencies = excluded.dependencies, captured_at = excluded.captured_at,
		 expires_at = excluded.expires_at`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntriesByChart removes every entry of a chart, across tenants
// and fingerprints, permanent ones included.
func (s *Store) DeleteCacheEntriesByChart(ctx context.Context, chartID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM cache_entries WHERE chart_id = ?"), chartID)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries by chart: %w", err)
	}
	return result.RowsAffected()
}

// DeleteCacheEntriesByTables removes the tracked entries that depend on any
// of tables. An empty tenantID matches every tenant. Permanent entries are
// never touched.
func (s *Store) DeleteCacheEntriesByTables(ctx context.Context, tenantID string, tables []string) (int64, error) {
	if len(tables) == 0 {
		return 0, nil
	}

	var (
		where []string
		args  []any
	)
	where = append(where, `dependencies NOT LIKE ? ESCAPE '\'`)
	args = append(args, dependencyPattern(model.PermanentDependency))
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, tenantID)
	}

	var ors []string
	for _, t := range tables {
		ors = append(ors, `dependencies LIKE ? ESCAPE '\'`)
		args = append(args, dependencyPattern(t))
	}
	where = append(where, "("+strings.Join(ors, " OR ")+")")

	q := "DELETE FROM cache_entries WHERE " + strings.Join(where, " AND ")
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries by tables: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpiredCacheEntries removes entries whose expiry lies before now.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < ?`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return result.RowsAffected()
}
