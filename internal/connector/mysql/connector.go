package mysql

import (
	"context"
	"fmt"
	"net"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/tunnel"
)

// MySQLConnector is the sync source: it introspects a MySQL catalog and
// pages rows out of its tables.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
	tunnel     *tunnel.Tunnel
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect opens the connection pool, dialing through the SSH tunnel when the
// configuration carries one.
func (c *MySQLConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	dsn := cfg.DSN
	if cfg.Tunnel != nil {
		t, err := tunnel.Open(ctx, *cfg.Tunnel)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		dsn, err = tunneledDSN(dsn, t)
		if err != nil {
			t.Close()
			return fmt.Errorf("mysql connect: %w", err)
		}
		c.tunnel = t
	}

	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		c.closeTunnel()
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	// If no schema name provided, query the current database name
	if c.schemaName == "" {
		var dbName string
		if err := db.GetContext(ctx, &dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			c.schemaName = dbName
		}
	}

	c.db = db
	return nil
}

// tunneledDSN registers a dial network that goes through t and points the
// DSN at it. Each tunnel gets its own network name.
func tunneledDSN(dsn string, t *tunnel.Tunnel) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	netName := "ssh-" + uuid.NewString()
	mysqldriver.RegisterDialContext(netName, func(ctx context.Context, addr string) (net.Conn, error) {
		return t.DialContext(ctx, "tcp", addr)
	})
	cfg.Net = netName
	return cfg.FormatDSN(), nil
}

func (c *MySQLConnector) closeTunnel() {
	if c.tunnel != nil {
		c.tunnel.Close()
		c.tunnel = nil
	}
}

// Disconnect closes the database connection pool and the tunnel.
func (c *MySQLConnector) Disconnect() error {
	var err error
	if c.db != nil {
		err = c.db.Close()
	}
	c.closeTunnel()
	return err
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// SchemaName returns the database being introspected.
func (c *MySQLConnector) SchemaName() string { return c.schemaName }

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks to prevent SQL injection.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ParameterPlaceholder returns a MySQL-style positional parameter
// placeholder (?). MySQL ignores the index.
func (c *MySQLConnector) ParameterPlaceholder(_ int) string {
	return "?"
}
