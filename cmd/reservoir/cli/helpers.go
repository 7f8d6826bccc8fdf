package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// defaultDataDir is ~/.reservoir.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reservoir")
}

// resolveDataDir returns the data directory from --data-dir, the config
// file or RESERVOIR_STORE_DATA_DIR, or ~/.reservoir as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg != nil && cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	return defaultDataDir()
}

// configPath returns the config file to read: --config, then
// ./reservoir.yaml, then ~/.reservoir/reservoir.yaml. Empty means none.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	for _, p := range []string{"reservoir.yaml", filepath.Join(defaultDataDir(), "reservoir.yaml")} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig reads the config file on top of the defaults and applies
// RESERVOIR_* environment variables and bound flags.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := configPath(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyOverrides(cfg)
	return cfg, nil
}

func applyOverrides(cfg *config.YAMLConfig) {
	str := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	str("server.host", &cfg.Server.Host)
	if viper.IsSet("server.port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
	str("auth.jwt_secret", &cfg.Auth.JWTSecret)
	str("auth.tenant_claim", &cfg.Auth.TenantClaim)
	str("store.driver", &cfg.Store.Driver)
	str("store.dsn", &cfg.Store.DSN)
	str("store.data_dir", &cfg.Store.DataDir)
	str("target.dsn", &cfg.Target.DSN)
	str("target.shared_schema", &cfg.Target.SharedSchema)
	str("transfer.schedule", &cfg.Transfer.Schedule)
	str("transfer.budget", &cfg.Transfer.Budget)
	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	str("cache.backend", &cfg.Cache.Backend)
	str("cache.redis.addr", &cfg.Cache.Redis.Addr)
	str("cache.redis.password", &cfg.Cache.Redis.Password)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openConfigStore opens the metadata store the config points at.
func openConfigStore(cfg *config.YAMLConfig) (*config.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return config.NewStore(resolveDataDir(cfg))
	case "postgres", "pgx":
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = cfg.Target.DSN
		}
		if dsn == "" {
			return nil, errors.New("store.dsn or target.dsn is required for a postgres metadata store")
		}
		return config.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q (want sqlite or postgres)", cfg.Store.Driver)
	}
}

// lookupConnection resolves a connection by numeric id or by name.
func lookupConnection(ctx context.Context, store *config.Store, ref string) (*model.Connection, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		c, err := store.GetConnection(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("look up connection %d: %w", id, err)
		}
		return c, nil
	}
	c, err := store.GetConnectionByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("look up connection %q: %w", ref, err)
	}
	return c, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(nil), "reservoir.pid")
}

func writePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(nil), "reservoir.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
