// careauthd serves the careauth HTTP API backed by PostgreSQL and Redis.
//
// Configuration comes from --config (YAML) and CAREAUTH_* environment
// variables. With --migrate-only the schema is migrated and the process
// exits; with --run-job a single maintenance job runs once.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/config"
	"github.com/MrEthical07/careauth/httpapi"
	"github.com/MrEthical07/careauth/logger"
	"github.com/MrEthical07/careauth/maintenance"
	"github.com/MrEthical07/careauth/metrics/export/prometheus"
	"github.com/MrEthical07/careauth/middleware"
	"github.com/MrEthical07/careauth/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "careauthd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	migrateOnly bool
	runJob      string
	addr        string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("careauthd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("CAREAUTH_CONFIG"), "path to the YAML configuration file")
	fs.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	fs.StringVar(&opts.runJob, "run-job", "", "run one maintenance job (passkey_challenge_sweep, emergency_grant_archive) and exit")
	fs.StringVar(&opts.addr, "addr", "", "listen address, overrides server.addr")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	log, err := logger.New(cfg.Environment, cfg.Logger.Level, cfg.Logger.Service)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.Migrate || opts.migrateOnly {
		if err := postgres.RunMigrations(cfg.Postgres.URL); err != nil {
			return err
		}
		log.Info("database migrated")
		if opts.migrateOnly {
			return nil
		}
	}

	db, err := postgres.Connect(ctx, cfg.Postgres.Config)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	engine, err := careauth.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithUserProvider(db.Users()).
		WithPasskeyProvider(db.Passkeys()).
		WithSecurityLog(db.SecurityLog()).
		WithLoginAttemptStore(db.LoginAttempts()).
		WithGrantStore(db.Grants()).
		WithLogger(log).
		// Events the database refused still reach stderr as JSON lines.
		WithAuditFallback(careauth.NewJSONWriterSink(os.Stderr)).
		WithMetricsEnabled(cfg.Metrics.Prometheus).
		WithLatencyHistograms(cfg.Metrics.Prometheus).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	sched, err := maintenance.New(cfg.Maintenance, engine, engine, log)
	if err != nil {
		return err
	}
	if opts.runJob != "" {
		n, err := sched.RunNow(ctx, opts.runJob)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d affected\n", opts.runJob, n)
		return nil
	}

	limiter := middleware.NewIPRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, cfg.Server.TrustProxy, 10*time.Minute)
	defer limiter.Stop()

	extra := map[string]http.Handler{}
	if cfg.Metrics.Prometheus {
		extra[cfg.Metrics.Path] = prometheus.NewExporter(engine).Handler()
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			Logger:       log,
			TrustProxy:   cfg.Server.TrustProxy,
			LoginLimiter: limiter,
			Extra:        extra,
			Timeout:      cfg.Server.WriteTimeout,
		}),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logger.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("maintenance shutdown", logger.Error(err))
	}
	return nil
}
