// Package router executes chart queries against the backend that holds a
// connection's data: the customer's own database, the shared multi-tenant
// store, or the connection's synced namespace.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/connector/postgres"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/query"
)

// DefaultTimeout bounds a routed query when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Store is the metadata the router reads.
type Store interface {
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	GetSyncRecordByConnection(ctx context.Context, connectionID int64) (*model.SyncRecord, error)
	TenantRoleName(ctx context.Context, tenantID string) (string, error)
}

// Executor runs a query in a connection's own database and dialect.
type Executor interface {
	Query(ctx context.Context, conn *model.Connection, sql string, args ...any) (*model.ResultSet, error)
}

// SessionQuerier runs a query on the internal store inside one transaction
// with session settings applied.
type SessionQuerier interface {
	QueryInSession(ctx context.Context, s postgres.Session, query string, args ...any) (*model.ResultSet, error)
}

// Request is one query to route.
type Request struct {
	ConnectionID int64  `json:"connection_id"`
	SQL          string `json:"sql"`
	Params       []any  `json:"params,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
}

// Result is the outcome of a routed query. Failures are reported in Err
// with an empty result set; Route never returns a Go error.
type Result struct {
	ResultSet       *model.ResultSet      `json:"result"`
	StorageLocation model.StorageLocation `json:"storage_location"`
	Err             *model.Error          `json:"error,omitempty"`
	Duration        time.Duration         `json:"-"`
}

// Options configure a Router.
type Options struct {
	SharedSchema string
	Timeout      time.Duration
}

// Router dispatches queries by storage location.
type Router struct {
	store    Store
	external Executor
	internal SessionQuerier
	opts     Options
	logger   *slog.Logger
}

// New creates a Router.
func New(store Store, external Executor, internal SessionQuerier, opts Options, logger *slog.Logger) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SharedSchema == "" {
		opts.SharedSchema = "shared"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    store,
		external: external,
		internal: internal,
		opts:     opts,
		logger:   logger.With("component", "router"),
	}
}

// Route runs req against the backend its connection is configured for.
func (r *Router) Route(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{}

	conn, err := r.store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			err = fmt.Errorf("connection %d not found", req.ConnectionID)
		}
		return r.finish(res, model.NewError(model.ErrRouting, err), start)
	}
	res.StorageLocation = conn.StorageLocation

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var rs *model.ResultSet
	switch conn.StorageLocation {
	case model.StorageExternal:
		rs, err = r.external.Query(ctx, conn, req.SQL, req.Params...)
	case model.StorageTenantShared:
		rs, err = r.routeTenantShared(ctx, req)
	case model.StorageSynced:
		rs, err = r.routeSynced(ctx, conn, req)
	default:
		err = model.Errorf(model.ErrRouting, fmt.Sprintf("unknown storage location %q", conn.StorageLocation))
	}
	if err != nil {
		kind := model.KindOf(err)
		if kind == "" {
			kind = model.ErrQuery
		}
		r.logger.Debug("routed query failed",
			"connection", conn.Name,
			"storage_location", conn.StorageLocation,
			"kind", kind,
			"error", err,
		)
		return r.finish(res, model.NewError(kind, unwrapModel(err)), start)
	}
	res.ResultSet = rs
	return r.finish(res, nil, start)
}

func (r *Router) routeTenantShared(ctx context.Context, req Request) (*model.ResultSet, error) {
	if req.TenantID == "" {
		return nil, model.Errorf(model.ErrRouting, "tenant id is required for tenant_shared storage")
	}
	role, err := r.store.TenantRoleName(ctx, req.TenantID)
	if errors.Is(err, config.ErrNotFound) || (err == nil && role == "") {
		return nil, model.Errorf(model.ErrRouting, fmt.Sprintf("unknown tenant %q", req.TenantID))
	}
	if err != nil {
		return nil, model.NewError(model.ErrRouting, fmt.Errorf("resolve tenant role: %w", err))
	}

	sql, err := query.ForPostgres(req.SQL, len(req.Params))
	if err != nil {
		return nil, err
	}
	// Unqualified names resolve to the tenant's own schema before the shared one.
	session := postgres.Session{
		Role:       role,
		SearchPath: []string{role, r.opts.SharedSchema, "public"},
	}
	return r.internal.QueryInSession(ctx, session, sql, req.Params...)
}

func (r *Router) routeSynced(ctx context.Context, conn *model.Connection, req Request) (*model.ResultSet, error) {
	rec, err := r.store.GetSyncRecordByConnection(ctx, conn.ID)
	if errors.Is(err, config.ErrNotFound) {
		return nil, model.Errorf(model.ErrRouting, fmt.Sprintf("connection %s has not been synced", conn.Name))
	}
	if err != nil {
		return nil, model.NewError(model.ErrRouting, err)
	}
	if rec.LastSyncAt == nil && rec.Status != model.SyncCompleted {
		return nil, model.Errorf(model.ErrRouting, fmt.Sprintf("connection %s has no completed sync (status %s)", conn.Name, rec.Status))
	}

	sql, err := query.ForPostgres(req.SQL, len(req.Params))
	if err != nil {
		return nil, err
	}
	session := postgres.Session{SearchPath: []string{rec.Namespace, "public"}}
	return r.internal.QueryInSession(ctx, session, sql, req.Params...)
}

func (r *Router) finish(res Result, merr *model.Error, start time.Time) Result {
	res.Duration = time.Since(start)
	status := "ok"
	if merr != nil {
		res.Err = merr
		res.ResultSet = model.NewResultSet([]model.ColumnDesc{})
		status = string(merr.Kind)
	}
	location := string(res.StorageLocation)
	if location == "" {
		location = "unknown"
	}
	observability.RecordRoute(location, status, res.Duration.Seconds())
	return res
}

// unwrapModel strips an outer *model.Error so the message is not prefixed
// with the kind twice.
func unwrapModel(err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		if me.Err != nil {
			return me.Err
		}
		return errors.New(me.Message)
	}
	return err
}

// RegistryExecutor runs external queries through a connector registry,
// keeping one pool (and tunnel) per connection.
type RegistryExecutor struct {
	Registry *connector.Registry
}

// Query implements Executor.
func (x RegistryExecutor) Query(ctx context.Context, conn *model.Connection, sql string, args ...any) (*model.ResultSet, error) {
	c, err := x.Registry.GetOrConnect(ctx, connector.Key(conn.ID), connector.ConfigFromConnection(conn))
	if err != nil {
		return nil, model.NewError(model.ErrSourceUnreachable, err)
	}
	q, ok := c.(connector.Querier)
	if !ok {
		return nil, model.Errorf(model.ErrRouting, fmt.Sprintf("driver %q does not support queries", conn.Driver))
	}
	return q.Query(ctx, sql, args...)
}
