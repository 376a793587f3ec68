package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greirson/gthanks-sub001/internal/app"
	"github.com/greirson/gthanks-sub001/internal/clock"
	"github.com/greirson/gthanks-sub001/internal/config"
	"github.com/greirson/gthanks-sub001/internal/identity"
	"github.com/greirson/gthanks-sub001/internal/logging"
	"github.com/greirson/gthanks-sub001/internal/notify"
	"github.com/greirson/gthanks-sub001/internal/ratelimit"
	"github.com/greirson/gthanks-sub001/internal/storage/postgres"
	"github.com/greirson/gthanks-sub001/internal/storage/sqlite"
	"github.com/greirson/gthanks-sub001/internal/telemetry"
	transporthttp "github.com/greirson/gthanks-sub001/internal/transport/http"
	"github.com/greirson/gthanks-sub001/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

const serviceName = "gthanks-api"

// store is what the service and the readiness check need from a backend.
type store interface {
	app.ReservationRepository
	transporthttp.Pinger
}

func main() {
	envPath, envErr := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	switch {
	case envErr != nil:
		logger.Warn("failed to load .env", slog.Any("error", envErr))
	case envPath == "":
		logger.Debug(".env not found in current or parent directories")
	default:
		logger.Info("loaded env", slog.String("path", envPath))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	repo, closeStore, err := openStore(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var resolver identity.Resolver
	if cfg.JWTSecret != "" {
		resolver = identity.NewJWTResolver(identity.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
	} else {
		logger.Warn("JWT_SECRET not set, all callers are anonymous")
	}

	trustedProxies, err := transporthttp.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, nil,
			notify.WithWebhookRate(cfg.NotifyWebhookRPS, cfg.NotifyWebhookBurst),
		)
	}
	dispatcher := notify.NewDispatcher(sender,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithLogger(logger),
		notify.WithResultHook(telemetry.ObserveNotification),
	)

	svc := app.NewReservationService(repo, clock.NewSystem(),
		app.WithRateLimiter(limiter),
		app.WithDispatcher(dispatcher),
		app.WithLogger(logger),
		app.WithRequireAuth(cfg.RequireAuthToReserve),
		app.WithOwnerSelfClaim(cfg.AllowOwnerSelfClaim),
		app.WithBulkLimits(cfg.BulkMaxIDs, cfg.BulkConcurrency),
	)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: transporthttp.NewRouter(transporthttp.RouterConfig{
			Service:        svc,
			Resolver:       resolver,
			Store:          repo,
			Metrics:        telemetry.MetricsHandler(),
			Logger:         logger,
			CORSOrigins:    cfg.CORSOrigins,
			TrustedProxies: trustedProxies,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening",
		slog.String("port", cfg.Port),
		slog.String("storage", cfg.StorageDriver),
		slog.String("rate_limit", cfg.RateLimitBackend),
	)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
	return serveErr
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", slog.Any("error", err))
			}
		}, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.NewReservationRepository(pool), pool.Close, nil
	}
}

func newLimiter(cfg config.Config, logger *slog.Logger) (*ratelimit.Guard, func(), error) {
	policy := ratelimit.Policy{Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}
	guardOpts := []ratelimit.GuardOption{
		ratelimit.WithTimeout(cfg.RateLimitTimeout),
		ratelimit.WithLogger(logger),
		ratelimit.WithFailOpenHook(telemetry.ObserveRateLimitFailOpen),
	}

	switch cfg.RateLimitBackend {
	case config.RateLimitOff:
		return ratelimit.NewGuard(ratelimit.Unlimited{}, guardOpts...), func() {}, nil
	case config.RateLimitRedis:
		client, err := ratelimit.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}
		return ratelimit.NewGuard(ratelimit.NewRedis(client, policy), guardOpts...), closeFn, nil
	default:
		return ratelimit.NewGuard(ratelimit.NewMemory(policy, clock.NewSystem()), guardOpts...), func() {}, nil
	}
}
