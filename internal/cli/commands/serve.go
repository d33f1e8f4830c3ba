package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/cli/config"
	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/orm/store/memstore"
	"github.com/conduit-lang/crudkit/internal/orm/store/sqlstore"
	"github.com/conduit-lang/crudkit/internal/sample"
	"github.com/conduit-lang/crudkit/internal/web/api"
	"github.com/conduit-lang/crudkit/internal/web/auth"
	"github.com/conduit-lang/crudkit/internal/web/profiling"
	"github.com/conduit-lang/crudkit/internal/web/ratelimit"
	"github.com/conduit-lang/crudkit/internal/web/server"
)

var (
	serveSeed bool
	servePort int
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sample domain over HTTP",
		Long: `Open the configured store, create missing tables and serve the
company, person and case resources until interrupted.`,
		RunE: runServe,
	}

	cmd.Flags().BoolVar(&serveSeed, "seed", false, "Load the sample data after creating the tables")
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Database.Seed = serveSeed
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(&server.Config{
		Address:           cfg.Server.Address(),
		Handler:           a.handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}, logger)
	if err != nil {
		a.close(ctx)
		return err
	}
	srv.OnShutdown(a.close)

	color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "crudkit listening on http://%s (%s)\n", cfg.Server.Address(), cfg.Database.Driver)
	return srv.Run(ctx)
}

// app is the composition root of the serve command
type app struct {
	handler http.Handler
	close   func(ctx context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	reg, err := sample.NewRegistry()
	if err != nil {
		return nil, err
	}

	sessions, closeStore, err := openStore(ctx, cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(nil)
	resources, err := sample.Resources(sessions, reg, sample.Options{
		Logger:     logger,
		Metrics:    metrics,
		DataSource: cfg.DataSource(),
		Behaviors:  cfg.Behaviors(),
	})
	if err != nil {
		closeStore(ctx)
		return nil, err
	}

	routerCfg := api.RouterConfig{Logger: logger, Metrics: metrics}
	if cfg.Auth.JWTSecret != "" {
		routerCfg.Auth = auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		logger.Warn("auth.jwt_secret is empty, every request runs anonymously")
	}

	if cfg.Server.Profiling {
		routerCfg.Profiling = &profiling.Config{Roles: cfg.Server.ProfilingRoles, BlockRate: 1, MutexFraction: 1}
	}

	closers := []func(context.Context) error{closeStore}
	if cfg.RateLimit.Enabled() {
		limiter, closeLimiter, err := openRateLimiter(ctx, cfg.RateLimit)
		if err != nil {
			closeStore(ctx)
			return nil, err
		}
		routerCfg.RateLimiter = limiter
		closers = append(closers, closeLimiter)
	}

	return &app{
		handler: api.NewRouter(routerCfg, resources...),
		close: func(ctx context.Context) error {
			var errs []error
			for i := len(closers) - 1; i >= 0; i-- {
				errs = append(errs, closers[i](ctx))
			}
			return errors.Join(errs...)
		},
	}, nil
}

// openRateLimiter keeps counters in Redis when a URL is configured and in
// memory otherwise
func openRateLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(context.Context) error, error) {
	limits := ratelimit.Config{Requests: cfg.Requests, Window: cfg.Window}
	if cfg.RedisURL == "" {
		tb, err := ratelimit.NewTokenBucket(limits, 5*cfg.Window)
		if err != nil {
			return nil, nil, err
		}
		return tb, func(context.Context) error { return tb.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rate_limit.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	limiter, err := ratelimit.NewRedisLimiter(client, limits, "")
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return limiter, func(context.Context) error { return client.Close() }, nil
}

// openStore returns the session factory of the configured driver and a
// function releasing it
func openStore(ctx context.Context, cfg *config.Config, reg *schema.Registry, logger *zap.Logger) (store.SessionFactory, func(context.Context) error, error) {
	if cfg.Database.Driver == config.DriverMemory {
		db := memstore.NewDB(reg)
		if cfg.Database.Seed {
			if err := sample.Seed(ctx, db.Session()); err != nil {
				return nil, nil, err
			}
			logger.Info("sample data loaded", zap.String("driver", cfg.Database.Driver))
		}
		return db.Factory(), func(context.Context) error { return nil }, nil
	}

	db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN, reg, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	closeDB := func(context.Context) error { return db.Close() }

	if err := db.Ping(ctx); err != nil {
		closeDB(ctx)
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.CreateTables(ctx); err != nil {
		closeDB(ctx)
		return nil, nil, err
	}
	if cfg.Database.Seed {
		if err := sample.Seed(ctx, db.Session()); err != nil {
			closeDB(ctx)
			return nil, nil, err
		}
		logger.Info("sample data loaded", zap.String("driver", cfg.Database.Driver))
	}
	return db.Factory(), closeDB, nil
}
