package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/tunnel"
)

// MSSQLConnector serves SQL Server sources for external passthrough queries.
type MSSQLConnector struct {
	db     *sqlx.DB
	tunnel *tunnel.Tunnel
}

// New creates a new MSSQLConnector.
func New() connector.Connector {
	return &MSSQLConnector{}
}

// Connect opens the pool. The driver accepts a custom dialer, which is how
// the SSH tunnel is plugged in.
func (c *MSSQLConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	drv, err := mssqldb.NewConnector(cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	if cfg.Tunnel != nil {
		t, err := tunnel.Open(ctx, *cfg.Tunnel)
		if err != nil {
			return fmt.Errorf("mssql connect: %w", err)
		}
		drv.Dialer = t
		c.tunnel = t
	}

	db := sqlx.NewDb(sql.OpenDB(drv), "sqlserver")
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if c.tunnel != nil {
			c.tunnel.Close()
			c.tunnel = nil
		}
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
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
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in brackets, escaping any
// embedded closing brackets to prevent SQL injection.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ParameterPlaceholder returns a SQL Server-style numbered parameter
// placeholder (e.g., @p1, @p2, @p3).
func (c *MSSQLConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// Query runs a statement in T-SQL.
func (c *MSSQLConnector) Query(ctx context.Context, query string, args ...any) (*model.ResultSet, error) {
	return connector.Query(ctx, c.db, decodeValue, query, args...)
}

// decodeValue keeps exact numerics exact; the driver returns DECIMAL and
// MONEY as their text bytes.
func decodeValue(dbType string, raw any) model.Value {
	if b, ok := raw.([]byte); ok {
		switch dbType {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			return model.Decimal(string(b))
		case "UNIQUEIDENTIFIER":
			var u mssqldb.UniqueIdentifier
			if err := u.Scan(b); err == nil {
				return model.String(u.String())
			}
		}
	}
	return model.ValueOf(raw)
}
