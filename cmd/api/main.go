// Package main is the entry point for the TrustedBy billing API server.
//
// It loads configuration, connects Postgres and Redis, builds the payment
// provider factory, wires the billing service and HTTP handlers into the
// core chassis, and serves until an OS signal triggers graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easyash/trustedby/internal/api/handlers"
	"github.com/easyash/trustedby/internal/auth"
	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/cache"
	"github.com/easyash/trustedby/internal/config"
	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/db"
	"github.com/easyash/trustedby/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outside local environments secrets resolve through SSM; locally the
	// dotenv file and OS environment carry everything.
	var provider config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("trustedby billing API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"active_provider", cfg.Billing.ActiveProvider,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Postgres.
	pool, err := newPgxPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	srv.RegisterCloser(func() error {
		pool.Close()
		return nil
	})
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	dbPool := db.NewPool(pool)
	customers := db.NewCustomerRepository(dbPool, logger)
	tokens := db.NewTokenRepository(dbPool)
	analytics := db.NewAnalyticsRepository(dbPool)

	// Redis backs the rate limiter. Disabled environments run without
	// limiting rather than refusing to start.
	if cfg.Redis.Enabled {
		redisClient, err := cache.Connect(ctx, cfg.Redis.URL.Unmask())
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		srv.RegisterCloser(redisClient.Close)
		srv.RateLimitStore = cache.NewRateLimiter(redisClient)
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "redis",
			Fn:        cache.Healthcheck(redisClient),
		})
	} else {
		logger.Warn("redis disabled, rate limiting is off")
	}

	// CloudWatch metrics.
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		srv.Metrics = core.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				// LocalStack in non-production environments.
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			}),
			cfg.Observability.MetricNamespace,
			logger,
		)
	}

	// Payment vendors.
	factory, err := external.NewProviderFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("building provider factory: %w", err)
	}

	billingService := billing.NewService(customers, factory, logger,
		billing.WithGracePeriod(time.Duration(cfg.Billing.CancellationGraceDays)*24*time.Hour),
	)
	tokenService := auth.NewTokenService(tokens, logger)
	srv.Authenticator = tokenService

	webhookHandler := handlers.NewWebhookHandler(
		factory.RazorpayVerifier,
		factory.DodoVerifier,
		billingService,
		logger,
	)
	billingHandler := handlers.NewBillingHandler(billingService, srv.Validator, logger)
	tokenHandler := handlers.NewTokenHandler(tokenService, srv.Validator, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(analytics, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		tokenHandler.RegisterRoutes,
		analyticsHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(ctx, srv, cfg, logger)
}

// newLogger builds the process-wide structured logger. JSON output so log
// aggregation gets parseable records.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// newPgxPool builds the Postgres connection pool from configuration.
func newPgxPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// runHTTPServer serves until the context is cancelled by a signal, then
// drains in-flight requests and releases server resources.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown did not complete cleanly", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}
