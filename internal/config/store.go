package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/reservoir/internal/model"
)

// ErrNotFound is returned when a connection, tenant, sync record or cache
// entry does not exist.
var ErrNotFound = errors.New("not found")

// Store persists Reservoir's metadata: connections, tenants, sync records,
// queue items and cached chart results. It runs on SQLite for local use and
// tests, and on PostgreSQL (pgx) when the metadata lives in the target store.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a SQLite-backed store in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "reservoir.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn)
}

// Open connects to a metadata database. driver is "sqlite" or "pgx"
// ("postgres" is accepted as an alias for pgx).
func Open(driver, dsn string) (*Store, error) {
	if driver == "postgres" {
		driver = "pgx"
	}
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported metadata driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate metadata database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the metadata database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insert runs a named INSERT ... RETURNING id and returns the new id.
func (s *Store) insert(ctx context.Context, q string, arg any) (int64, error) {
	query, args, err := s.db.BindNamed(q+" RETURNING id", arg)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execNamed runs a named statement and reports ErrNotFound when nothing changed.
func (s *Store) execNamed(ctx context.Context, q string, arg any) error {
	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		return err
	}
	return requireRows(result)
}

func requireRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Connection CRUD
// ---------------------------------------------------------------------------

// connectionRow is the flat shape of the connections table. The pool
// settings are spread over columns and the tunnel is stored as JSON.
type connectionRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	OrganizationID    string    `db:"organization_id"`
	Driver            string    `db:"driver"`
	Host              string    `db:"host"`
	Port              int       `db:"port"`
	Database          string    `db:"database_name"`
	Username          string    `db:"username"`
	Password          string    `db:"password"`
	Params            string    `db:"params"`
	DSN               string    `db:"dsn"`
	SSHTunnelJSON     string    `db:"ssh_tunnel_json"`
	StorageLocation   string    `db:"storage_location"`
	SyncSchedule      string    `db:"sync_schedule"`
	MaxOpenConns      int       `db:"max_open_conns"`
	MaxIdleConns      int       `db:"max_idle_conns"`
	ConnMaxLifetimeMs int64     `db:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int64     `db:"conn_max_idle_time_ms"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// storedTunnel mirrors model.SSHTunnel with its secrets included, since
// the model hides them from API output.
type storedTunnel struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	HostKey    string `json:"host_key,omitempty"`
}

func encodeTunnel(t *model.SSHTunnel) (string, error) {
	if t == nil {
		return "", nil
	}
	data, err := json.Marshal(storedTunnel(*t))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTunnel(s string) (*model.SSHTunnel, error) {
	if s == "" {
		return nil, nil
	}
	var st storedTunnel
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return nil, err
	}
	t := model.SSHTunnel(st)
	return &t, nil
}

func connectionRowFromModel(c *model.Connection) (connectionRow, error) {
	tunnel, err := encodeTunnel(c.SSHTunnel)
	if err != nil {
		return connectionRow{}, fmt.Errorf("encode ssh tunnel: %w", err)
	}
	return connectionRow{
		ID:                c.ID,
		Name:              c.Name,
		OrganizationID:    c.OrganizationID,
		Driver:            c.Driver,
		Host:              c.Host,
		Port:              c.Port,
		Database:          c.Database,
		Username:          c.Username,
		Password:          c.Password,
		Params:            c.Params,
		DSN:               c.DSN,
		SSHTunnelJSON:     tunnel,
		StorageLocation:   string(c.StorageLocation),
		SyncSchedule:      c.SyncSchedule,
		MaxOpenConns:      c.Pool.MaxOpenConns,
		MaxIdleConns:      c.Pool.MaxIdleConns,
		ConnMaxLifetimeMs: c.Pool.ConnMaxLifetime.Milliseconds(),
		ConnMaxIdleTimeMs: c.Pool.ConnMaxIdleTime.Milliseconds(),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}, nil
}

func (r connectionRow) toModel() (model.Connection, error) {
	tunnel, err := decodeTunnel(r.SSHTunnelJSON)
	if err != nil {
		return model.Connection{}, fmt.Errorf("decode ssh tunnel for connection %d: %w", r.ID, err)
	}
	return model.Connection{
		ID:              r.ID,
		Name:            r.Name,
		OrganizationID:  r.OrganizationID,
		Driver:          r.Driver,
		Host:            r.Host,
		Port:            r.Port,
		Database:        r.Database,
		Username:        r.Username,
		Password:        r.Password,
		Params:          r.Params,
		DSN:             r.DSN,
		SSHTunnel:       tunnel,
		StorageLocation: model.StorageLocation(r.StorageLocation),
		SyncSchedule:    r.SyncSchedule,
		Pool: model.PoolConfig{
			MaxOpenConns:    r.MaxOpenConns,
			MaxIdleConns:    r.MaxIdleConns,
			ConnMaxLifetime: time.Duration(r.ConnMaxLifetimeMs) * time.Millisecond,
			ConnMaxIdleTime: time.Duration(r.ConnMaxIdleTimeMs) * time.Millisecond,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// CreateConnection inserts a new connection. The ID, CreatedAt, and
// UpdatedAt fields on c are populated after a successful insert. An empty
// storage location defaults to external.
func (s *Store) CreateConnection(ctx context.Context, c *model.Connection) error {
	if c.StorageLocation == "" {
		c.StorageLocation = model.StorageExternal
	}
	if !c.StorageLocation.Valid() {
		return fmt.Errorf("invalid storage location %q", c.StorageLocation)
	}
	if c.Pool == (model.PoolConfig{}) {
		c.Pool = model.DefaultPoolConfig()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	row, err := connectionRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO connections
		(name, organization_id, driver, host, port, database_name, username, password, params, dsn,
		 ssh_tunnel_json, storage_location, sync_schedule,
		 max_open_conns, max_idle_conns, conn_max_lifetime_ms, conn_max_idle_time_ms,
		 created_at, updated_at)
		VALUES
		(:name, :organization_id, :driver, :host, :port, :database_name, :username, :password, :params, :dsn,
		 :ssh_tunnel_json, :storage_location, :sync_schedule,
		 :max_open_conns, :max_idle_conns, :conn_max_lifetime_ms, :conn_max_idle_time_ms,
		 :created_at, :updated_at)`

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	c.ID = id
	return nil
}

// GetConnection returns a connection by ID.
func (s *Store) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	return s.getConnection(ctx, "SELECT * FROM connections WHERE id = ?", id)
}

// GetConnectionByName returns a connection by its unique name.
func (s *Store) GetConnectionByName(ctx context.Context, name string) (*model.Connection, error) {
	return s.getConnection(ctx, "SELECT * FROM connections WHERE name = ?", name)
}

func (s *Store) getConnection(ctx context.Context, q string, arg any) (*model.Connection, error) {
	var row connectionRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns all registered connections ordered by name.
func (s *Store) ListConnections(ctx context.Context) ([]model.Connection, error) {
	var rows []connectionRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM connections ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	conns := make([]model.Connection, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// UpdateConnectionCredentials replaces the login credentials and tunnel of
// a connection. Nothing else about a connection changes after creation.
func (s *Store) UpdateConnectionCredentials(ctx context.Context, id int64, username, password string, tunnel *model.SSHTunnel) error {
	tunnelJSON, err := encodeTunnel(tunnel)
	if err != nil {
		return fmt.Errorf("encode ssh tunnel: %w", err)
	}
	const q = `UPDATE connections SET
		username = :username, password = :password, ssh_tunnel_json = :ssh_tunnel_json, updated_at = :updated_at
		WHERE id = :id`
	arg := map[string]any{
		"id":              id,
		"username":        username,
		"password":        password,
		"ssh_tunnel_json": tunnelJSON,
		"updated_at":      time.Now().UTC(),
	}
	if err := s.execNamed(ctx, q, arg); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update connection credentials: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection by ID. Its sync record and queue
// items go with it.
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM connections WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return requireRows(result)
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenant registers a tenant of the shared store and its role.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == "" || t.RoleName == "" {
		return errors.New("tenant id and role name are required")
	}
	t.CreatedAt = time.Now().UTC()
	const q = `INSERT INTO tenants (id, role_name, created_at) VALUES (:id, :role_name, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, t); err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// TenantRoleName returns the database role of a tenant, or ErrNotFound.
func (s *Store) TenantRoleName(ctx context.Context, tenantID string) (string, error) {
	var role string
	err := s.db.GetContext(ctx, &role, s.db.Rebind("SELECT role_name FROM tenants WHERE id = ?"), tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get tenant role: %w", err)
	}
	return role, nil
}

// ListTenants returns every registered tenant.
func (s *Store) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	if err := s.db.SelectContext(ctx, &tenants, "SELECT * FROM tenants ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// DeleteTenant removes a tenant mapping.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM tenants WHERE id = ?"), tenantID)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return requireRows(result)
}
