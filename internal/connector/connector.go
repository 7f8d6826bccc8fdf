package connector

import (
	"context"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/reservoir/internal/model"
)

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Tunnel          *model.SSHTunnel // dial through this bastion when set
	PrivateKeyPath  string           // snowflake key pair auth
}

// Connector is the interface that all database connectors must implement.
type Connector interface {
	// Connection management
	Connect(ctx context.Context, cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// Metadata
	DriverName() string
	QuoteIdentifier(name string) string
	ParameterPlaceholder(index int) string
}

// ConfigFromConnection builds the connector configuration for a registered
// connection.
func ConfigFromConnection(conn *model.Connection) ConnectionConfig {
	pool := conn.Pool
	if pool.MaxOpenConns == 0 {
		pool = model.DefaultPoolConfig()
	}
	cfg := ConnectionConfig{
		Driver:          conn.Driver,
		DSN:             BuildDSN(conn),
		MaxOpenConns:    pool.MaxOpenConns,
		MaxIdleConns:    pool.MaxIdleConns,
		ConnMaxLifetime: pool.ConnMaxLifetime,
		ConnMaxIdleTime: pool.ConnMaxIdleTime,
		Tunnel:          conn.SSHTunnel,
	}
	switch conn.Driver {
	case "mysql":
		cfg.SchemaName = conn.Database
	case "snowflake":
		if q, err := url.ParseQuery(conn.Params); err == nil {
			cfg.PrivateKeyPath = q.Get(snowflakeKeyParam)
		}
	}
	return cfg
}

// ApplyPool sets the pool limits from cfg on db.
func ApplyPool(db *sqlx.DB, cfg ConnectionConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// Querier is implemented by connectors that answer ad-hoc queries in their
// native dialect.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*model.ResultSet, error)
}
