package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/connector/sqlite"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/service"
	"github.com/faucetdb/reservoir/internal/transfer"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testJWTSecret = "test-secret-for-jwt-integration-tests"

type fakeEngine struct {
	inits   []int64
	budgets []time.Duration
}

func (f *fakeEngine) InitializeDataTransfer(_ context.Context, id int64) (*transfer.InitResult, error) {
	switch id {
	case 404:
		return nil, config.ErrNotFound
	case 7:
		return nil, transfer.ErrNotSynced
	case 9:
		return nil, model.Errorf(model.ErrSourceUnreachable, "dial tcp 10.0.0.9:3306: connection refused")
	}
	f.inits = append(f.inits, id)
	return &transfer.InitResult{SyncID: 1, Namespace: "conn_1_abcd1234", Status: model.SyncQueued, Queued: []string{"orders"}}, nil
}

func (f *fakeEngine) ProcessSyncQueue(_ context.Context, budget time.Duration) (*transfer.QueueRunResult, error) {
	f.budgets = append(f.budgets, budget)
	return &transfer.QueueRunResult{ItemsProcessed: 3, RowsTransferred: 12345, Complete: true, Errors: []string{}}, nil
}

func (f *fakeEngine) SyncStatus(_ context.Context, id int64) (*transfer.StatusReport, error) {
	if id != 1 {
		return nil, config.ErrNotFound
	}
	return &transfer.StatusReport{Record: &model.SyncRecord{ID: 1, ConnectionID: 1, Status: model.SyncCompleted}}, nil
}

func (f *fakeEngine) ResetFailedItems(context.Context, int64) (int64, error) { return 2, nil }

func (f *fakeEngine) DropSyncedData(context.Context, int64) error { return nil }

// fakeCharts answers with the tenant the query ran for.
type fakeCharts struct {
	refreshed int
}

func (f *fakeCharts) Run(_ context.Context, q service.ChartQuery) service.ChartResult {
	res := service.ChartResult{
		ChartID: q.ChartID,
		Columns: []model.ColumnDesc{{Name: "tenant", Kind: model.KindString}},
		Rows:    []map[string]model.Value{{"tenant": model.String(q.TenantID)}},
		Meta:    model.QueryMeta{DataSource: model.StorageTenantShared},
	}
	if q.SQL == "SELECT broken" {
		res.Rows = []map[string]model.Value{}
		res.Meta.Error = "syntax error"
		res.Meta.ErrorKind = model.ErrQuery
	}
	return res
}

func (f *fakeCharts) RunBatch(ctx context.Context, qs []service.ChartQuery) []service.ChartResult {
	out := make([]service.ChartResult, len(qs))
	for i, q := range qs {
		out[i] = f.Run(ctx, q)
	}
	return out
}

func (f *fakeCharts) Refresh(ctx context.Context, q service.ChartQuery) service.ChartResult {
	f.refreshed++
	return f.Run(ctx, q)
}

type invalidation struct {
	chart  string
	tenant string
	tables []string
}

type fakeCache struct {
	calls []invalidation
}

func (f *fakeCache) InvalidateChart(_ context.Context, chartID string) (int64, error) {
	f.calls = append(f.calls, invalidation{chart: chartID})
	return 3, nil
}

func (f *fakeCache) InvalidateTables(_ context.Context, tenantID string, tables []string) (int64, error) {
	f.calls = append(f.calls, invalidation{tenant: tenantID, tables: tables})
	return 1, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return io.ErrUnexpectedEOF }

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *config.Store
	auth   *service.AuthService
	engine *fakeEngine
	charts *fakeCharts
	cache  *fakeCache
}

func newTestEnv(t *testing.T, secret string, mutate ...func(*Config, *Deps)) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	env := &testEnv{
		store:  store,
		auth:   service.NewAuthService(secret, ""),
		engine: &fakeEngine{},
		charts: &fakeCharts{},
		cache:  &fakeCache{},
	}
	cfg := DefaultConfig()
	deps := Deps{
		Store:    store,
		Registry: registry,
		Engine:   env.engine,
		Charts:   env.charts,
		Cache:    env.cache,
		Auth:     env.auth,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	env.server = New(cfg, deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return env
}

func (e *testEnv) token(t *testing.T, tenant string) string {
	t.Helper()
	tok, err := e.auth.IssueJWT(context.Background(), "test", tenant, time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.1:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// chartResponse mirrors service.ChartResult with plain JSON values.
type chartResponse struct {
	ChartID string           `json:"chart_id"`
	Rows    []map[string]any `json:"rows"`
	Meta    model.QueryMeta  `json:"meta"`
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	rr := env.do(t, "GET", "/healthz", "", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	assertStatus(t, env.do(t, "GET", "/readyz", "", nil), http.StatusOK)

	degraded := newTestEnv(t, testJWTSecret, func(_ *Config, d *Deps) { d.Target = failingPinger{} })
	rr := degraded.do(t, "GET", "/readyz", "", nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &body)
	if body.Status != "degraded" || body.Checks["store"] != "ok" || !strings.HasPrefix(body.Checks["target"], "error") {
		t.Errorf("readyz = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	rr := env.do(t, "GET", "/metrics", "", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime metrics")
	}

	off := newTestEnv(t, testJWTSecret, func(c *Config, _ *Deps) { c.MetricsEnabled = false })
	assertStatus(t, off.do(t, "GET", "/metrics", "", nil), http.StatusNotFound)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	rr := env.do(t, "GET", "/healthz", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	for _, route := range []struct{ method, path string }{
		{"POST", "/api/v1/query"},
		{"POST", "/api/v1/query/batch"},
		{"POST", "/api/v1/cache/invalidate"},
		{"GET", "/api/v1/connections"},
		{"POST", "/api/v1/connections/1/sync"},
		{"POST", "/api/v1/sync/run"},
	} {
		rr := env.do(t, route.method, route.path, "", map[string]any{})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d", route.method, route.path, rr.Code)
		}
	}
}

func TestTenantTokensCannotUseOperatorEndpoints(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	tok := env.token(t, "acme")

	assertStatus(t, env.do(t, "GET", "/api/v1/connections", tok, nil), http.StatusForbidden)
	assertStatus(t, env.do(t, "POST", "/api/v1/connections/1/sync", tok, nil), http.StatusForbidden)
	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run", tok, nil), http.StatusForbidden)
	if len(env.engine.inits) != 0 {
		t.Error("engine was called for a tenant token")
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, "")
	assertStatus(t, env.do(t, "GET", "/api/v1/connections", "", nil), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestQueryTenantComesFromToken(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	tok := env.token(t, "acme")

	rr := env.do(t, "POST", "/api/v1/query", tok, map[string]any{
		"chart_id": "c1", "connection_id": 2, "sql": "SELECT 1",
	})
	assertStatus(t, rr, http.StatusOK)
	var res chartResponse
	decodeJSON(t, rr, &res)
	if got := res.Rows[0]["tenant"]; got != "acme" {
		t.Errorf("tenant = %q, want acme", got)
	}

	// Naming another tenant in the body is refused.
	rr = env.do(t, "POST", "/api/v1/query", tok, map[string]any{
		"connection_id": 2, "sql": "SELECT 1", "tenant_id": "globex",
	})
	assertStatus(t, rr, http.StatusForbidden)
}

func TestQueryAdminChoosesTenant(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	rr := env.do(t, "POST", "/api/v1/query", env.token(t, ""), map[string]any{
		"connection_id": 2, "sql": "SELECT 1", "tenant_id": "globex", "refresh": true,
	})
	assertStatus(t, rr, http.StatusOK)
	var res chartResponse
	decodeJSON(t, rr, &res)
	if got := res.Rows[0]["tenant"]; got != "globex" {
		t.Errorf("tenant = %q", got)
	}
	if env.charts.refreshed != 1 {
		t.Errorf("refresh flag ignored")
	}
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name string
		body any
	}{
		{"missing connection", map[string]any{"sql": "SELECT 1"}},
		{"missing sql", map[string]any{"connection_id": 1}},
		{"not json", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, env.do(t, "POST", "/api/v1/query", "", tt.body), http.StatusBadRequest)
		})
	}
}

func TestQueryFailureIsData(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/api/v1/query", "", map[string]any{"connection_id": 1, "sql": "SELECT broken"})
	assertStatus(t, rr, http.StatusOK)
	var res chartResponse
	decodeJSON(t, rr, &res)
	if res.Meta.ErrorKind != model.ErrQuery || len(res.Rows) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestQueryBatch(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/api/v1/query/batch", "", map[string]any{
		"queries": []map[string]any{
			{"chart_id": "a", "connection_id": 1, "sql": "SELECT 1"},
			{"chart_id": "b", "connection_id": 1, "sql": "SELECT broken"},
			{"chart_id": "c", "connection_id": 2, "sql": "SELECT 2", "tenant_id": "acme"},
		},
	})
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Results []chartResponse `json:"results"`
		Failed  int             `json:"failed"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Results) != 3 || resp.Failed != 1 {
		t.Fatalf("batch = %+v", resp)
	}
	if resp.Results[1].Meta.Error == "" || resp.Results[2].Meta.Error != "" {
		t.Errorf("failure was not isolated: %+v", resp.Results)
	}
}

func TestQueryBatchLimits(t *testing.T) {
	env := newTestEnv(t, "", func(c *Config, _ *Deps) { c.MaxBatchSize = 2 })
	q := map[string]any{"connection_id": 1, "sql": "SELECT 1"}

	assertStatus(t, env.do(t, "POST", "/api/v1/query/batch", "", map[string]any{"queries": []any{}}), http.StatusBadRequest)
	assertStatus(t, env.do(t, "POST", "/api/v1/query/batch", "", map[string]any{"queries": []any{q, q, q}}), http.StatusBadRequest)
	assertStatus(t, env.do(t, "POST", "/api/v1/query/batch", "", map[string]any{"queries": []any{q, q}}), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Cache invalidation
// ---------------------------------------------------------------------------

func TestCacheInvalidate(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	tenantTok := env.token(t, "acme")
	adminTok := env.token(t, "")

	rr := env.do(t, "POST", "/api/v1/cache/invalidate", tenantTok, map[string]any{"tables": []string{"orders"}})
	assertStatus(t, rr, http.StatusOK)
	var body struct {
		Removed int64 `json:"removed"`
	}
	decodeJSON(t, rr, &body)
	if body.Removed != 1 {
		t.Errorf("removed = %d", body.Removed)
	}

	// Tenant tokens cannot drop a chart across tenants or touch another tenant.
	assertStatus(t, env.do(t, "POST", "/api/v1/cache/invalidate", tenantTok, map[string]any{"chart_id": "c1"}), http.StatusForbidden)
	assertStatus(t, env.do(t, "POST", "/api/v1/cache/invalidate", tenantTok,
		map[string]any{"tenant_id": "globex", "tables": []string{"orders"}}), http.StatusForbidden)

	assertStatus(t, env.do(t, "POST", "/api/v1/cache/invalidate", adminTok, map[string]any{"chart_id": "c1"}), http.StatusOK)
	assertStatus(t, env.do(t, "POST", "/api/v1/cache/invalidate", adminTok, map[string]any{}), http.StatusBadRequest)

	want := []invalidation{
		{tenant: "acme", tables: []string{"orders"}},
		{chart: "c1"},
	}
	if len(env.cache.calls) != len(want) {
		t.Fatalf("calls = %+v", env.cache.calls)
	}
	for i, c := range env.cache.calls {
		if c.chart != want[i].chart || c.tenant != want[i].tenant {
			t.Errorf("call %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestCacheInvalidateDisabled(t *testing.T) {
	env := newTestEnv(t, "", func(_ *Config, d *Deps) { d.Cache = nil })
	assertStatus(t, env.do(t, "POST", "/api/v1/cache/invalidate", "", map[string]any{"chart_id": "c1"}), http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Sync endpoints
// ---------------------------------------------------------------------------

func TestSyncInit(t *testing.T) {
	env := newTestEnv(t, testJWTSecret)
	tok := env.token(t, "")

	rr := env.do(t, "POST", "/api/v1/connections/1/sync", tok, nil)
	assertStatus(t, rr, http.StatusAccepted)
	var res transfer.InitResult
	decodeJSON(t, rr, &res)
	if res.Status != model.SyncQueued || len(res.Queued) != 1 {
		t.Errorf("init = %+v", res)
	}

	tests := []struct {
		path string
		want int
		kind model.ErrorKind
	}{
		{"/api/v1/connections/404/sync", http.StatusNotFound, ""},
		{"/api/v1/connections/7/sync", http.StatusConflict, ""},
		{"/api/v1/connections/9/sync", http.StatusBadGateway, model.ErrSourceUnreachable},
		{"/api/v1/connections/abc/sync", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		rr := env.do(t, "POST", tt.path, tok, nil)
		if rr.Code != tt.want {
			t.Errorf("POST %s = %d, want %d", tt.path, rr.Code, tt.want)
			continue
		}
		var er model.ErrorResponse
		decodeJSON(t, rr, &er)
		if er.Error.Code != tt.want || er.Error.Kind != tt.kind {
			t.Errorf("POST %s error = %+v", tt.path, er.Error)
		}
	}
}

func TestSyncStatusResetDrop(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, "GET", "/api/v1/connections/1/sync", "", nil)
	assertStatus(t, rr, http.StatusOK)
	var report transfer.StatusReport
	decodeJSON(t, rr, &report)
	if report.Record == nil || report.Record.Status != model.SyncCompleted {
		t.Errorf("status = %+v", report)
	}
	assertStatus(t, env.do(t, "GET", "/api/v1/connections/2/sync", "", nil), http.StatusNotFound)

	rr = env.do(t, "POST", "/api/v1/connections/1/sync/reset", "", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"reset":2`) {
		t.Errorf("reset body = %s", rr.Body.String())
	}

	assertStatus(t, env.do(t, "DELETE", "/api/v1/connections/1/sync", "", nil), http.StatusOK)
}

func TestSyncRunBudget(t *testing.T) {
	env := newTestEnv(t, "", func(c *Config, _ *Deps) { c.SyncRunsPerMinute = 0 })

	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run?budget_ms=1500", "", nil), http.StatusOK)
	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run", "", nil), http.StatusOK)
	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run?budget_ms=-1", "", nil), http.StatusBadRequest)
	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run?budget_ms=99999999", "", nil), http.StatusOK)

	want := []time.Duration{1500 * time.Millisecond, 0, 10 * time.Minute}
	if len(env.engine.budgets) != len(want) {
		t.Fatalf("budgets = %v", env.engine.budgets)
	}
	for i, b := range env.engine.budgets {
		if b != want[i] {
			t.Errorf("budget %d = %v, want %v", i, b, want[i])
		}
	}
}

func TestSyncRunIsRateLimited(t *testing.T) {
	env := newTestEnv(t, "", func(c *Config, _ *Deps) { c.SyncRunsPerMinute = 2 })
	for i := range 2 {
		if rr := env.do(t, "POST", "/api/v1/sync/run", "", nil); rr.Code != http.StatusOK {
			t.Fatalf("run %d = %d", i, rr.Code)
		}
	}
	assertStatus(t, env.do(t, "POST", "/api/v1/sync/run", "", nil), http.StatusTooManyRequests)
}

// ---------------------------------------------------------------------------
// Connections and tenants
// ---------------------------------------------------------------------------

func TestConnectionLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, "POST", "/api/v1/connections", "", map[string]any{
		"name": "local", "driver": "sqlite", "dsn": ":memory:", "storage_location": "external",
	})
	assertStatus(t, rr, http.StatusCreated)
	var created model.Connection
	decodeJSON(t, rr, &created)
	if created.ID == 0 || created.StorageLocation != model.StorageExternal {
		t.Fatalf("created = %+v", created)
	}

	// Duplicate names conflict.
	assertStatus(t, env.do(t, "POST", "/api/v1/connections", "", map[string]any{
		"name": "local", "driver": "sqlite", "dsn": ":memory:",
	}), http.StatusConflict)

	rr = env.do(t, "GET", "/api/v1/connections", "", nil)
	assertStatus(t, rr, http.StatusOK)
	var list struct {
		Resource []model.Connection `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 1 || list.Resource[0].Name != "local" {
		t.Errorf("list = %+v", list)
	}

	path := "/api/v1/connections/" + strconv.FormatInt(created.ID, 10)
	rr = env.do(t, "POST", path+"/test", "", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"driver":"sqlite"`) {
		t.Errorf("test body = %s", rr.Body.String())
	}
	assertStatus(t, env.do(t, "GET", path+"/schema", "", nil), http.StatusNotImplemented)

	assertStatus(t, env.do(t, "DELETE", path, "", nil), http.StatusOK)
	assertStatus(t, env.do(t, "GET", path, "", nil), http.StatusNotFound)
	assertStatus(t, env.do(t, "DELETE", path, "", nil), http.StatusNotFound)
}

func TestCreateConnectionValidation(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"driver": "mysql", "host": "db"}},
		{"missing driver", map[string]any{"name": "x", "host": "db"}},
		{"missing host", map[string]any{"name": "x", "driver": "mysql"}},
		{"bad location", map[string]any{"name": "x", "driver": "mysql", "host": "db", "storage_location": "cloud"}},
		{"schedule on external", map[string]any{"name": "x", "driver": "mysql", "host": "db", "sync_schedule": "@hourly"}},
		{"bad schedule", map[string]any{"name": "x", "driver": "mysql", "host": "db", "storage_location": "synced", "sync_schedule": "nightly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, env.do(t, "POST", "/api/v1/connections", "", tt.body), http.StatusBadRequest)
		})
	}
}

func TestCreateConnectionKeepsPassword(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/api/v1/connections", "", map[string]any{
		"name": "shop", "driver": "mysql", "host": "db.internal", "database": "shop",
		"username": "bi", "password": "s3cret", "storage_location": "tenant-shared",
	})
	assertStatus(t, rr, http.StatusCreated)
	if strings.Contains(rr.Body.String(), "s3cret") {
		t.Error("password echoed in response")
	}

	c, err := env.store.GetConnectionByName(context.Background(), "shop")
	if err != nil {
		t.Fatalf("GetConnectionByName: %v", err)
	}
	if c.Password != "s3cret" || c.StorageLocation != model.StorageTenantShared {
		t.Errorf("stored = %+v", c)
	}
}

func TestTenantEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	assertStatus(t, env.do(t, "POST", "/api/v1/tenants", "", map[string]any{"id": "acme", "role_name": "tenant_acme"}), http.StatusCreated)
	assertStatus(t, env.do(t, "POST", "/api/v1/tenants", "", map[string]any{"id": "acme", "role_name": "tenant_acme"}), http.StatusConflict)
	assertStatus(t, env.do(t, "POST", "/api/v1/tenants", "", map[string]any{"id": "x"}), http.StatusBadRequest)

	role, err := env.store.TenantRoleName(context.Background(), "acme")
	if err != nil || role != "tenant_acme" {
		t.Errorf("role = %q, %v", role, err)
	}

	rr := env.do(t, "GET", "/api/v1/tenants", "", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"count":1`) {
		t.Errorf("list = %s", rr.Body.String())
	}

	assertStatus(t, env.do(t, "DELETE", "/api/v1/tenants/acme", "", nil), http.StatusOK)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/tenants/acme", "", nil), http.StatusNotFound)
}
