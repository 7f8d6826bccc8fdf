package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/tunnel"
)

// PostgresConnector is the target store: it provisions namespaces and tables,
// bulk-loads synced rows and runs routed queries in scoped sessions. It also
// serves PostgreSQL sources for external passthrough.
type PostgresConnector struct {
	db     *sqlx.DB
	tunnel *tunnel.Tunnel

	// Column kinds per qualified table, loaded on first insert.
	kinds sync.Map
}

// New creates a new, unconnected PostgresConnector.
func New() connector.Connector {
	return &PostgresConnector{}
}

// NewFromDB wraps an already open pool.
func NewFromDB(db *sqlx.DB) *PostgresConnector {
	return &PostgresConnector{db: db}
}

// Connect opens the connection pool. With a tunnel configured, pgx dials
// every connection through the bastion.
func (c *PostgresConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	dsn := cfg.DSN
	if cfg.Tunnel != nil {
		pgCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("postgres connect: parse dsn: %w", err)
		}
		t, err := tunnel.Open(ctx, *cfg.Tunnel)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		pgCfg.DialFunc = t.DialContext
		c.tunnel = t
		dsn = stdlib.RegisterConnConfig(pgCfg)
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		if c.tunnel != nil {
			c.tunnel.Close()
			c.tunnel = nil
		}
		return fmt.Errorf("postgres connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	var err error
	if c.db != nil {
		err = c.db.Close()
	}
	if c.tunnel != nil {
		c.tunnel.Close()
		c.tunnel = nil
	}
	return err
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes to prevent SQL injection.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// ParameterPlaceholder returns a PostgreSQL-style numbered parameter
// placeholder (e.g., $1, $2, $3).
func (c *PostgresConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Query runs a statement directly on the pool.
func (c *PostgresConnector) Query(ctx context.Context, query string, args ...any) (*model.ResultSet, error) {
	return connector.Query(ctx, c.db, decodeValue, query, args...)
}

func qualified(ns, table string) string {
	return pgx.Identifier{ns, table}.Sanitize()
}

// decodeValue tags values returned by pgx's database/sql driver. Numerics
// and JSON arrive as text and keep their column type.
func decodeValue(dbType string, raw any) model.Value {
	switch dbType {
	case "NUMERIC":
		switch v := raw.(type) {
		case string:
			return model.Decimal(v)
		case []byte:
			return model.Decimal(string(v))
		}
	case "JSON", "JSONB":
		switch v := raw.(type) {
		case string:
			return model.JSON(v)
		case []byte:
			return model.JSON(string(v))
		}
	}
	return model.ValueOf(raw)
}
