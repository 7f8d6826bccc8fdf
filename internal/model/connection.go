package model

import (
	"fmt"
	"time"
)

// StorageLocation says which physical backend answers queries for a connection.
type StorageLocation string

const (
	// StorageExternal queries run directly against the customer's database.
	StorageExternal StorageLocation = "external"
	// StorageTenantShared queries run against the shared multi-tenant store,
	// isolated by database role and search_path.
	StorageTenantShared StorageLocation = "tenant_shared"
	// StorageSynced queries run against a private schema previously filled
	// by the transfer engine.
	StorageSynced StorageLocation = "synced"
)

// Valid reports whether l is one of the known storage locations.
func (l StorageLocation) Valid() bool {
	switch l {
	case StorageExternal, StorageTenantShared, StorageSynced:
		return true
	}
	return false
}

// ParseStorageLocation converts user input into a StorageLocation.
func ParseStorageLocation(s string) (StorageLocation, error) {
	l := StorageLocation(s)
	if s == "tenant-shared" {
		l = StorageTenantShared
	}
	if !l.Valid() {
		return "", fmt.Errorf("unknown storage location %q (want external, tenant_shared or synced)", s)
	}
	return l, nil
}

// Connection is a registered external data source owned by an organization.
// Everything except the credentials is fixed once created.
type Connection struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	OrganizationID  string          `json:"organization_id" db:"organization_id"`
	Driver          string          `json:"driver" db:"driver"` // mysql, postgres, mssql, sqlite, snowflake
	Host            string          `json:"host" db:"host"`
	Port            int             `json:"port" db:"port"`
	Database        string          `json:"database" db:"database_name"`
	Username        string          `json:"username" db:"username"`
	Password        string          `json:"-" db:"password"`
	Params          string          `json:"params,omitempty" db:"params"` // extra driver options, key=value&...
	DSN             string          `json:"dsn,omitempty" db:"dsn"`       // overrides the discrete fields when set
	SSHTunnel       *SSHTunnel      `json:"ssh_tunnel,omitempty" db:"-"`
	StorageLocation StorageLocation `json:"storage_location" db:"storage_location"`
	SyncSchedule    string          `json:"sync_schedule,omitempty" db:"sync_schedule"`
	Pool            PoolConfig      `json:"pool"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// SSHTunnel describes a bastion host used to reach a private database.
type SSHTunnel struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"-"`
	PrivateKey string `json:"-"` // PEM encoded
	Passphrase string `json:"-"`
	HostKey    string `json:"host_key,omitempty"` // authorized_keys format; empty accepts any key and logs a warning
}

// Address returns host:port of the bastion, defaulting the port to 22.
func (t SSHTunnel) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// Tenant maps a tenant of the shared store onto its database role. The
// tenant's private schema carries the same name as the role.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	RoleName  string    `json:"role_name" db:"role_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PoolConfig controls the database connection pool behavior for a connection.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a source connection pool.
// Sources are customer databases, so the pool is kept small.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}
