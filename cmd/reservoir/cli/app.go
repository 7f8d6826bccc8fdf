package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/faucetdb/reservoir/internal/cache"
	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/connector/mssql"
	"github.com/faucetdb/reservoir/internal/connector/mysql"
	"github.com/faucetdb/reservoir/internal/connector/postgres"
	"github.com/faucetdb/reservoir/internal/connector/snowflake"
	"github.com/faucetdb/reservoir/internal/connector/sqlite"
	"github.com/faucetdb/reservoir/internal/router"
	"github.com/faucetdb/reservoir/internal/service"
	"github.com/faucetdb/reservoir/internal/transfer"
)

// app holds the services a command runs against. Commands that only touch
// metadata open it without a target.
type app struct {
	cfg      *config.YAMLConfig
	logger   *slog.Logger
	store    *config.Store
	registry *connector.Registry

	// Set when opened with a target.
	target *postgres.PostgresConnector
	engine *transfer.Engine
	router *router.Router
	cache  *cache.Cache
	charts *service.ChartService

	closers []func()
}

// newRegistry creates a connector registry with every source driver
// registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	registry.RegisterDriver("snowflake", func() connector.Connector { return snowflake.New() })
	return registry
}

// openApp loads the configuration and opens the metadata store. With
// withTarget it also connects the internal PostgreSQL store and builds the
// transfer engine, router, cache and chart service.
func openApp(ctx context.Context, withTarget bool, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Logging, logOut),
		registry: newRegistry(),
	}
	a.closers = append(a.closers, a.registry.CloseAll)

	a.store, err = openConfigStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	a.closers = append(a.closers, func() { a.store.Close() })

	if !withTarget {
		return a, nil
	}
	if err := a.openTarget(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openTarget(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Target.DSN == "" {
		return errors.New("target.dsn is required (set it in reservoir.yaml or RESERVOIR_TARGET_DSN)")
	}
	pool, err := cfg.Target.TargetPool()
	if err != nil {
		return fmt.Errorf("target pool: %w", err)
	}

	a.target = new(postgres.PostgresConnector)
	err = a.target.Connect(ctx, connector.ConnectionConfig{
		Driver:          "postgres",
		DSN:             cfg.Target.DSN,
		MaxOpenConns:    pool.MaxOpenConns,
		MaxIdleConns:    pool.MaxIdleConns,
		ConnMaxLifetime: pool.ConnMaxLifetime,
		ConnMaxIdleTime: pool.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect target store: %w", err)
	}
	a.closers = append(a.closers, func() { a.target.Disconnect() })

	budget, err := config.ParseDuration(cfg.Transfer.Budget, 0)
	if err != nil {
		return fmt.Errorf("transfer.budget: %w", err)
	}
	a.engine = transfer.NewEngine(a.store, transfer.RegistrySources{Registry: a.registry}, a.target, transfer.Options{
		ChunkSize: cfg.Transfer.ChunkSize,
		BatchSize: cfg.Transfer.BatchSize,
		Budget:    budget,
	}, a.logger)

	timeout, err := config.ParseDuration(cfg.Query.Timeout, 0)
	if err != nil {
		return fmt.Errorf("query.timeout: %w", err)
	}
	a.router = router.New(a.store, router.RegistryExecutor{Registry: a.registry}, a.target, router.Options{
		SharedSchema: cfg.Target.SharedSchema,
		Timeout:      timeout,
	}, a.logger)

	if err := a.openCache(ctx); err != nil {
		return err
	}
	a.charts = service.NewChartService(a.store, a.router, a.cache, a.logger)
	return nil
}

// openCache builds the result cache on the configured backend. It leaves
// a.cache nil when caching is off.
func (a *app) openCache(ctx context.Context) error {
	cc := a.cfg.Cache
	if !cc.Enabled {
		return nil
	}
	ttl, err := config.ParseDuration(cc.TTL, 0)
	if err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}

	var backend cache.Backend
	switch cc.Backend {
	case "", "sql":
		backend = cache.NewSQLBackend(a.store)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("redis cache at %s: %w", cc.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		backend = cache.NewRedisBackend(client, cc.Redis.Prefix)
	default:
		return fmt.Errorf("unsupported cache backend %q (want sql or redis)", cc.Backend)
	}
	a.cache = cache.New(backend, cache.Options{TTL: ttl}, a.logger)
	return nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
