package cache

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
)

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		loc   model.StorageLocation
		chart Chart
		want  Policy
	}{
		{model.StorageExternal, Chart{}, PolicyPermanent},
		{model.StorageExternal, Chart{DynamicFilter: true}, PolicyPermanent},
		{model.StorageSynced, Chart{CacheStatus: CacheStatusDynamic}, PolicyPermanent},
		{model.StorageTenantShared, Chart{}, PolicyTracked},
		{model.StorageTenantShared, Chart{DynamicFilter: true}, PolicyBypass},
		{model.StorageTenantShared, Chart{CacheStatus: CacheStatusDynamic}, PolicyBypass},
		{model.StorageTenantShared, Chart{CacheStatus: "static"}, PolicyTracked},
		{"", Chart{}, PolicyBypass},
	}
	for _, tt := range tests {
		if got := PolicyFor(tt.loc, tt.chart); got != tt.want {
			t.Errorf("PolicyFor(%q, %+v) = %s, want %s", tt.loc, tt.chart, got, tt.want)
		}
	}
}

func TestDependencies(t *testing.T) {
	got := Dependencies(Chart{Tables: []string{"orders", "customers", "orders"}}, "SELECT * FROM ignored")
	if want := []string{"customers", "orders"}; !slices.Equal(got, want) {
		t.Errorf("declared = %v, want %v", got, want)
	}
	got = Dependencies(Chart{}, "SELECT * FROM orders o JOIN order_items i ON i.order_id = o.id")
	if want := []string{"order_items", "orders"}; !slices.Equal(got, want) {
		t.Errorf("extracted = %v, want %v", got, want)
	}
}

func TestFingerprint(t *testing.T) {
	const sql = "SELECT region, SUM(total) FROM orders WHERE year = ? GROUP BY region"
	filters := map[string]any{"year": 2024, "region": []any{"eu", "us"}}

	base, err := Fingerprint(sql, filters, []any{2024}, model.StorageSynced)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if len(base) != 64 {
		t.Errorf("fingerprint %q is not a hex SHA-256", base)
	}
	again, _ := Fingerprint(sql, map[string]any{"region": []any{"eu", "us"}, "year": 2024}, []any{2024}, model.StorageSynced)
	if again != base {
		t.Error("fingerprint depends on map construction order")
	}

	variants := []struct {
		name    string
		sql     string
		filters map[string]any
		params  []any
		loc     model.StorageLocation
	}{
		{"location", sql, filters, []any{2024}, model.StorageExternal},
		{"sql", sql + " ", filters, []any{2024}, model.StorageSynced},
		{"filters", sql, map[string]any{"year": 2023}, []any{2024}, model.StorageSynced},
		{"params", sql, filters, []any{2023}, model.StorageSynced},
	}
	for _, v := range variants {
		fp, err := Fingerprint(v.sql, v.filters, v.params, v.loc)
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", v.name)
		}
	}

	if _, err := Fingerprint(sql, map[string]any{"bad": make(chan int)}, nil, model.StorageSynced); err == nil {
		t.Error("expected an error for an unencodable filter")
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Backend{
		"sql":   NewSQLBackend(store),
		"redis": NewRedisBackend(client, "test:"),
	}
}

func rows(n int) *model.ResultSet {
	rs := model.NewResultSet([]model.ColumnDesc{{Name: "n", Kind: model.KindInt}})
	for i := range n {
		rs.Append([]model.Value{model.Int(int64(i))})
	}
	return rs
}

func TestPermanentEntriesSurviveTableInvalidation(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(backend, Options{TTL: time.Hour}, discard())
			key := model.CacheKey{ChartID: "revenue", TenantID: "acme", Fingerprint: "fp1"}

			if e, err := c.Get(ctx, key); err != nil || e != nil {
				t.Fatalf("Get before Set = %v, %v", e, err)
			}
			if err := c.Set(ctx, key, model.StorageSynced, rows(3), []string{"orders"}, 40*time.Millisecond); err != nil {
				t.Fatalf("Set: %v", err)
			}

			e, err := c.Get(ctx, key)
			if err != nil || e == nil {
				t.Fatalf("Get after Set = %v, %v", e, err)
			}
			if !e.Permanent() || e.ExpiresAt != nil {
				t.Errorf("synced entry should be permanent without expiry: %+v", e)
			}
			if e.RowCount != 3 || e.Result.Len() != 3 || e.Result.Rows[2][0].IntVal() != 2 {
				t.Errorf("entry result = %+v", e.Result)
			}
			if e.DurationMs != 40 {
				t.Errorf("duration = %d", e.DurationMs)
			}

			if n, err := c.InvalidateTables(ctx, "", []string{"orders"}); err != nil || n != 0 {
				t.Errorf("InvalidateTables = %d, %v; want 0", n, err)
			}
			if e, _ := c.Get(ctx, key); e == nil {
				t.Fatal("permanent entry was removed by a table invalidation")
			}

			if n, err := c.InvalidateChart(ctx, "revenue"); err != nil || n != 1 {
				t.Errorf("InvalidateChart = %d, %v; want 1", n, err)
			}
			if e, _ := c.Get(ctx, key); e != nil {
				t.Error("entry survived chart invalidation")
			}
		})
	}
}

func TestTrackedEntriesFollowTables(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(backend, Options{}, discard())
			keyA := model.CacheKey{ChartID: "orders-by-day", TenantID: "a", Fingerprint: "x"}
			keyB := model.CacheKey{ChartID: "orders-by-day", TenantID: "b", Fingerprint: "x"}
			keyOther := model.CacheKey{ChartID: "customers", TenantID: "a", Fingerprint: "y"}

			for _, k := range []model.CacheKey{keyA, keyB} {
				if err := c.Set(ctx, k, model.StorageTenantShared, rows(1), []string{"orders", "order_items"}, 0); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}
			if err := c.Set(ctx, keyOther, model.StorageTenantShared, rows(1), []string{"customers"}, 0); err != nil {
				t.Fatalf("Set: %v", err)
			}

			if n, err := c.InvalidateTables(ctx, "a", []string{"order_items"}); err != nil || n != 1 {
				t.Fatalf("InvalidateTables(a) = %d, %v; want 1", n, err)
			}
			if e, _ := c.Get(ctx, keyA); e != nil {
				t.Error("tenant a entry should be gone")
			}
			if e, _ := c.Get(ctx, keyB); e == nil {
				t.Error("tenant b entry should remain")
			}
			if e, _ := c.Get(ctx, keyOther); e == nil {
				t.Error("unrelated entry should remain")
			}

			if n, err := c.InvalidateTables(ctx, "", []string{"orders"}); err != nil || n != 1 {
				t.Fatalf("InvalidateTables(all) = %d, %v; want 1", n, err)
			}
			if e, _ := c.Get(ctx, keyB); e != nil {
				t.Error("tenant b entry should be gone")
			}
			if n, _ := c.InvalidateTables(ctx, "", nil); n != 0 {
				t.Errorf("empty invalidation removed %d", n)
			}
		})
	}
}

func TestTrackedEntriesExpire(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(backend, Options{TTL: time.Minute}, discard())
			now := time.Now()
			c.now = func() time.Time { return now }

			key := model.CacheKey{ChartID: "c", TenantID: "t", Fingerprint: "f"}
			if err := c.Set(ctx, key, model.StorageTenantShared, rows(1), []string{"orders"}, 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if e, _ := c.Get(ctx, key); e == nil || e.ExpiresAt == nil {
				t.Fatalf("fresh tracked entry = %+v", e)
			}

			now = now.Add(2 * time.Minute)
			if e, _ := c.Get(ctx, key); e != nil {
				t.Error("expired entry was served")
			}
			if _, err := c.Sweep(ctx); err != nil {
				t.Errorf("Sweep: %v", err)
			}
		})
	}
}

func TestSweepRemovesExpiredSQLEntries(t *testing.T) {
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	c := New(NewSQLBackend(store), Options{TTL: time.Minute}, discard())
	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Set(ctx, model.CacheKey{ChartID: "c", TenantID: "t", Fingerprint: "f"}, model.StorageTenantShared, rows(1), []string{"orders"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, model.CacheKey{ChartID: "p", TenantID: "t", Fingerprint: "f"}, model.StorageExternal, rows(1), nil, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(time.Hour)
	n, err := c.Sweep(ctx)
	if err != nil || n != 1 {
		t.Errorf("Sweep = %d, %v; want 1", n, err)
	}
}
