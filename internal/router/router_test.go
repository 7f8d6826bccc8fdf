package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector/postgres"
	"github.com/faucetdb/reservoir/internal/model"
)

type fakeStore struct {
	conns   map[int64]*model.Connection
	syncs   map[int64]*model.SyncRecord
	tenants map[string]string
}

func (s *fakeStore) GetConnection(_ context.Context, id int64) (*model.Connection, error) {
	if c, ok := s.conns[id]; ok {
		return c, nil
	}
	return nil, config.ErrNotFound
}

func (s *fakeStore) GetSyncRecordByConnection(_ context.Context, id int64) (*model.SyncRecord, error) {
	if r, ok := s.syncs[id]; ok {
		return r, nil
	}
	return nil, config.ErrNotFound
}

func (s *fakeStore) TenantRoleName(_ context.Context, id string) (string, error) {
	if r, ok := s.tenants[id]; ok {
		return r, nil
	}
	return "", config.ErrNotFound
}

type call struct {
	session postgres.Session
	sql     string
	args    []any
}

// fakeBackend plays both the external executor and the internal store.
type fakeBackend struct {
	calls []call
	err   error
	block bool
}

func (b *fakeBackend) result() *model.ResultSet {
	rs := model.NewResultSet([]model.ColumnDesc{{Name: "n", Kind: model.KindInt}})
	rs.Append([]model.Value{model.Int(1)})
	return rs
}

func (b *fakeBackend) Query(ctx context.Context, _ *model.Connection, sql string, args ...any) (*model.ResultSet, error) {
	return b.QueryInSession(ctx, postgres.Session{}, sql, args...)
}

func (b *fakeBackend) QueryInSession(ctx context.Context, s postgres.Session, sql string, args ...any) (*model.ResultSet, error) {
	b.calls = append(b.calls, call{session: s, sql: sql, args: args})
	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.result(), nil
}

func newTestRouter(timeout time.Duration) (*Router, *fakeStore, *fakeBackend, *fakeBackend) {
	synced := time.Now()
	store := &fakeStore{
		conns: map[int64]*model.Connection{
			1: {ID: 1, Name: "live", Driver: "mysql", StorageLocation: model.StorageExternal},
			2: {ID: 2, Name: "warehouse", Driver: "postgres", StorageLocation: model.StorageTenantShared},
			3: {ID: 3, Name: "shop", Driver: "mysql", StorageLocation: model.StorageSynced},
			4: {ID: 4, Name: "fresh", Driver: "mysql", StorageLocation: model.StorageSynced},
			5: {ID: 5, Name: "first-sync", Driver: "mysql", StorageLocation: model.StorageSynced},
			6: {ID: 6, Name: "odd", Driver: "mysql", StorageLocation: "elsewhere"},
		},
		syncs: map[int64]*model.SyncRecord{
			3: {ID: 10, ConnectionID: 3, Namespace: "conn_3_abcd1234", Status: model.SyncCompleted, LastSyncAt: &synced},
			5: {ID: 11, ConnectionID: 5, Namespace: "conn_5_ffff0000", Status: model.SyncSyncing},
		},
		tenants: map[string]string{"acme": "tenant_acme", "globex": "tenant_globex"},
	}
	ext, internal := &fakeBackend{}, &fakeBackend{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, ext, internal, Options{SharedSchema: "shared", Timeout: timeout}, logger)
	return r, store, ext, internal
}

func TestRouteExternalPassesThrough(t *testing.T) {
	r, _, ext, internal := newTestRouter(time.Second)
	sql := "SELECT `id` FROM orders WHERE total > ?"
	res := r.Route(context.Background(), Request{ConnectionID: 1, SQL: sql, Params: []any{10}})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.StorageLocation != model.StorageExternal || res.ResultSet.Len() != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(ext.calls) != 1 || ext.calls[0].sql != sql {
		t.Errorf("external calls = %+v", ext.calls)
	}
	if len(internal.calls) != 0 {
		t.Errorf("internal store should not be used, got %+v", internal.calls)
	}
}

func TestRouteTenantSharedSession(t *testing.T) {
	r, _, _, internal := newTestRouter(time.Second)
	res := r.Route(context.Background(), Request{
		ConnectionID: 2,
		SQL:          "SELECT `region`, SUM(`total`) FROM `orders` WHERE `year` = ? GROUP BY `region`",
		Params:       []any{2024},
		TenantID:     "acme",
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(internal.calls) != 1 {
		t.Fatalf("calls = %+v", internal.calls)
	}
	got := internal.calls[0]
	if got.session.Role != "tenant_acme" {
		t.Errorf("role = %q", got.session.Role)
	}
	if want := []string{"tenant_acme", "shared", "public"}; !slices.Equal(got.session.SearchPath, want) {
		t.Errorf("search path = %v, want %v", got.session.SearchPath, want)
	}
	want := `SELECT "region", SUM("total") FROM "orders" WHERE "year" = $1 GROUP BY "region"`
	if got.sql != want {
		t.Errorf("sql = %q\nwant %q", got.sql, want)
	}
}

func TestRouteTenantSharedRequiresKnownTenant(t *testing.T) {
	r, _, _, internal := newTestRouter(time.Second)
	for _, tenant := range []string{"", "initech"} {
		res := r.Route(context.Background(), Request{ConnectionID: 2, SQL: "SELECT 1", TenantID: tenant})
		if res.Err == nil || res.Err.Kind != model.ErrRouting {
			t.Errorf("tenant %q: err = %v, want routing error", tenant, res.Err)
		}
		if res.ResultSet == nil || res.ResultSet.Len() != 0 {
			t.Errorf("tenant %q: expected empty rows", tenant)
		}
	}
	if len(internal.calls) != 0 {
		t.Errorf("no query should run without a tenant, got %+v", internal.calls)
	}
}

func TestRouteSyncedSession(t *testing.T) {
	r, _, _, internal := newTestRouter(time.Second)
	res := r.Route(context.Background(), Request{ConnectionID: 3, SQL: "SELECT COUNT(*) FROM `orders`"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.StorageLocation != model.StorageSynced {
		t.Errorf("location = %s", res.StorageLocation)
	}
	got := internal.calls[0]
	if got.session.Role != "" {
		t.Errorf("synced queries must not switch role, got %q", got.session.Role)
	}
	if want := []string{"conn_3_abcd1234", "public"}; !slices.Equal(got.session.SearchPath, want) {
		t.Errorf("search path = %v", got.session.SearchPath)
	}
	if got.sql != `SELECT COUNT(*) FROM "orders"` {
		t.Errorf("sql = %q", got.sql)
	}
}

func TestRouteErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		kind model.ErrorKind
		msg  string
	}{
		{"unknown connection", Request{ConnectionID: 99, SQL: "SELECT 1"}, model.ErrRouting, "connection 99 not found"},
		{"never synced", Request{ConnectionID: 4, SQL: "SELECT 1"}, model.ErrRouting, "has not been synced"},
		{"first sync running", Request{ConnectionID: 5, SQL: "SELECT 1"}, model.ErrRouting, "no completed sync"},
		{"unknown location", Request{ConnectionID: 6, SQL: "SELECT 1"}, model.ErrRouting, "unknown storage location"},
		{"placeholder mismatch", Request{ConnectionID: 3, SQL: "SELECT ?, ?", Params: []any{1}}, model.ErrQuery, "placeholder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _, _ := newTestRouter(time.Second)
			res := r.Route(context.Background(), tt.req)
			if res.Err == nil {
				t.Fatal("expected error")
			}
			if res.Err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", res.Err.Kind, tt.kind)
			}
			if !strings.Contains(res.Err.Message, tt.msg) {
				t.Errorf("message %q does not contain %q", res.Err.Message, tt.msg)
			}
			if res.ResultSet == nil || res.ResultSet.Len() != 0 {
				t.Error("failed routes must return an empty result set")
			}
		})
	}
}

func TestRouteQueryFailureIsData(t *testing.T) {
	r, _, ext, _ := newTestRouter(time.Second)
	ext.err = errors.New(`relation "nope" does not exist`)
	res := r.Route(context.Background(), Request{ConnectionID: 1, SQL: "SELECT * FROM nope"})
	if res.Err == nil || res.Err.Kind != model.ErrQuery {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Err.Message != `relation "nope" does not exist` {
		t.Errorf("message = %q", res.Err.Message)
	}
}

func TestRouteSourceUnreachableKeepsKind(t *testing.T) {
	r, _, ext, _ := newTestRouter(time.Second)
	ext.err = model.NewError(model.ErrSourceUnreachable, errors.New("dial tcp: i/o timeout"))
	res := r.Route(context.Background(), Request{ConnectionID: 1, SQL: "SELECT 1"})
	if res.Err == nil || res.Err.Kind != model.ErrSourceUnreachable {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Err.Message != "dial tcp: i/o timeout" {
		t.Errorf("message = %q", res.Err.Message)
	}
}

func TestRouteTimeout(t *testing.T) {
	r, _, ext, _ := newTestRouter(20 * time.Millisecond)
	ext.block = true
	res := r.Route(context.Background(), Request{ConnectionID: 1, SQL: "SELECT SLEEP(10)"})
	if res.Err == nil || res.Err.Kind != model.ErrQuery {
		t.Fatalf("err = %v", res.Err)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", res.Err)
	}
}
