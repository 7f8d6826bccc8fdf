package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/scheduler"
	"github.com/faucetdb/reservoir/internal/server"
	"github.com/faucetdb/reservoir/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Reservoir API server",
		Long: `Start the HTTP server that exposes sync control, chart queries and cache
invalidation. Synced connections with a sync_schedule are run in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return runDetached()
			}
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// serverConfig translates the server section into server.Config.
func serverConfig(cfg *config.YAMLConfig) (server.Config, error) {
	sc := server.DefaultConfig()
	s := cfg.Server

	if s.Host != "" {
		sc.Host = s.Host
	}
	if s.Port != 0 {
		sc.Port = s.Port
	}
	if s.MaxBodySize != "" {
		n, err := humanize.ParseBytes(s.MaxBodySize)
		if err != nil {
			return sc, fmt.Errorf("server.max_body_size: %w", err)
		}
		sc.MaxBodySize = int64(n)
	}
	if s.MaxBatchSize > 0 {
		sc.MaxBatchSize = s.MaxBatchSize
	}
	timeout, err := config.ParseDuration(s.ShutdownTimeout, sc.ShutdownTimeout)
	if err != nil {
		return sc, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	sc.ShutdownTimeout = timeout
	if len(s.CORS.Origins) > 0 {
		sc.CORSOrigins = s.CORS.Origins
	}
	if len(s.CORS.Methods) > 0 {
		sc.CORSMethods = s.CORS.Methods
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
			return sc, fmt.Errorf("server.tls: cert_file and key_file are required when enabled")
		}
		sc.TLSCertFile = s.TLS.CertFile
		sc.TLSKeyFile = s.TLS.KeyFile
	}
	sc.SyncRunsPerMinute = s.SyncRunsPerMinute
	sc.MetricsEnabled = cfg.Metrics.Enabled
	if cfg.Metrics.Path != "" {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc, nil
}

func runServe(ctx context.Context, dev bool) error {
	if dev {
		viper.Set("logging.level", "debug")
	}

	a, err := openApp(ctx, true, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	srvCfg, err := serverConfig(a.cfg)
	if err != nil {
		return err
	}

	if err := config.Seed(ctx, a.store, a.cfg, logger); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}

	// Scheduled syncs, the queue drain and the cache sweep.
	var sweeper scheduler.Sweeper
	if a.cache != nil {
		sweeper = a.cache
	}
	budget, _ := config.ParseDuration(a.cfg.Transfer.Budget, 0)
	sched, err := scheduler.New(a.store, a.engine, sweeper, scheduler.Options{
		DrainSchedule: a.cfg.Transfer.Schedule,
		SweepSchedule: a.cfg.Cache.SweepSchedule,
		Budget:        budget,
	}, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	n, err := sched.Load(ctx)
	if err != nil {
		logger.Warn("failed to load sync schedules", "error", err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()
	logger.Info("scheduler started", "connections", n, "drain", a.cfg.Transfer.Schedule)

	deps := server.Deps{
		Store:     a.store,
		Registry:  a.registry,
		Engine:    a.engine,
		Charts:    a.charts,
		Auth:      service.NewAuthService(a.cfg.Auth.JWTSecret, a.cfg.Auth.TenantClaim),
		Scheduler: sched,
		Target:    a.target,
	}
	if a.cache != nil {
		deps.Cache = a.cache
	}
	if !deps.Auth.Enabled() {
		logger.Warn("auth.jwt_secret is empty: the API is open to anyone who can reach it")
	}

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	srv := server.New(srvCfg, deps, logger)

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	fmt.Printf("→ Reservoir %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s:%d\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     %s://%s:%d/healthz\n", scheme, srvCfg.Host, srvCfg.Port)
	if srvCfg.MetricsEnabled {
		fmt.Printf("→ Metrics:    %s://%s:%d%s\n", scheme, srvCfg.Host, srvCfg.Port, srvCfg.MetricsPath)
	}
	fmt.Println()

	return srv.ListenAndServe(ctx)
}

// runDetached re-runs serve in a new session with output going to the log
// file, and returns once the child has started.
func runDetached() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(resolveDataDir(nil), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	var childArgs []string
	for _, a := range os.Args[1:] {
		if a == "--detach" || a == "-d" || a == "--detach=true" {
			continue
		}
		childArgs = append(childArgs, a)
	}

	child := exec.Command(exe, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Printf("Reservoir server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	return child.Process.Release()
}
