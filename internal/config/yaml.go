package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level reservoir configuration file.
type YAMLConfig struct {
	Server      ServerConfig     `yaml:"server"`
	Auth        AuthConfig       `yaml:"auth"`
	Store       StoreConfig      `yaml:"store"`
	Target      TargetConfig     `yaml:"target"`
	Transfer    TransferConfig   `yaml:"transfer"`
	Query       QueryConfig      `yaml:"query"`
	Cache       CacheConfig      `yaml:"cache"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`
	Connections []ConnectionYAML `yaml:"connections"`
	Tenants     []TenantYAML     `yaml:"tenants"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     string     `yaml:"max_body_size"`
	MaxBatchSize    int        `yaml:"max_batch_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
	// SyncRunsPerMinute limits the manual queue trigger per client.
	SyncRunsPerMinute int `yaml:"sync_runs_per_minute"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls bearer token checks on the API. An empty secret
// disables them.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	TenantClaim string `yaml:"tenant_claim"`
}

// StoreConfig selects where metadata lives. Driver is "sqlite" (DataDir,
// empty for in-memory) or "postgres" (DSN).
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// TargetConfig points at the internal PostgreSQL store that holds synced
// namespaces and the tenant-shared data.
type TargetConfig struct {
	DSN          string          `yaml:"dsn"`
	SharedSchema string          `yaml:"shared_schema"`
	Pool         *PoolYAMLConfig `yaml:"pool,omitempty"`
}

// TransferConfig holds the loader constants.
type TransferConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	BatchSize int    `yaml:"batch_size"`
	Budget    string `yaml:"budget"`
	// Schedule is the cron expression for draining the queue in-process.
	// Empty leaves triggering to an external caller.
	Schedule string `yaml:"schedule"`
}

// QueryConfig controls routed chart queries.
type QueryConfig struct {
	Timeout string `yaml:"timeout"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "sql" or "redis"
	TTL     string `yaml:"ttl"`     // tracked entries only; empty means no expiry
	// SweepSchedule is the cron expression for removing expired entries.
	SweepSchedule string      `yaml:"sweep_schedule"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig addresses the Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ConnectionYAML seeds a connection from the configuration file.
type ConnectionYAML struct {
	Name            string          `yaml:"name"`
	OrganizationID  string          `yaml:"organization_id"`
	Driver          string          `yaml:"driver"`
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	Database        string          `yaml:"database"`
	Username        string          `yaml:"username"`
	Password        string          `yaml:"password"`
	Params          string          `yaml:"params"`
	DSN             string          `yaml:"dsn"`
	StorageLocation string          `yaml:"storage_location"`
	SyncSchedule    string          `yaml:"sync_schedule"`
	SSHTunnel       *SSHTunnelYAML  `yaml:"ssh_tunnel,omitempty"`
	Pool            *PoolYAMLConfig `yaml:"pool,omitempty"`
}

// SSHTunnelYAML describes a bastion host in the configuration file.
// PrivateKeyFile is read at load time.
type SSHTunnelYAML struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Passphrase     string `yaml:"passphrase"`
	HostKey        string `yaml:"host_key"`
}

// TenantYAML seeds a tenant of the shared store.
type TenantYAML struct {
	ID       string `yaml:"id"`
	RoleName string `yaml:"role_name"`
}

// PoolYAMLConfig controls a connection pool in YAML config.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "10MB",
			MaxBatchSize:    100,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "DELETE"},
			},
			SyncRunsPerMinute: 6,
		},
		Auth: AuthConfig{
			TenantClaim: "tenant_id",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Target: TargetConfig{
			SharedSchema: "shared",
		},
		Transfer: TransferConfig{
			ChunkSize: 5000,
			BatchSize: 2000,
			Budget:    "50s",
		},
		Query: QueryConfig{
			Timeout: "30s",
		},
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       "sql",
			SweepSchedule: "@hourly",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "reservoir:cache:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ParseDuration parses s, returning def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
