package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/foundryproxy/foundry-gateway/internal/adminconfig"
	"github.com/foundryproxy/foundry-gateway/internal/api"
	"github.com/foundryproxy/foundry-gateway/internal/auth"
	"github.com/foundryproxy/foundry-gateway/internal/config"
	"github.com/foundryproxy/foundry-gateway/internal/cost"
	"github.com/foundryproxy/foundry-gateway/internal/crypto"
	"github.com/foundryproxy/foundry-gateway/internal/metrics"
	"github.com/foundryproxy/foundry-gateway/internal/notifications"
	"github.com/foundryproxy/foundry-gateway/internal/queue"
	"github.com/foundryproxy/foundry-gateway/internal/ratelimit"
	"github.com/foundryproxy/foundry-gateway/internal/repository"
	"github.com/foundryproxy/foundry-gateway/internal/resolver"
	"github.com/foundryproxy/foundry-gateway/internal/secrets"
	"github.com/foundryproxy/foundry-gateway/internal/telemetry"
	"github.com/foundryproxy/foundry-gateway/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting foundry gateway", "addr", cfg.Addr, "stream_mode", cfg.StreamMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, "foundry-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to initialize encryptor", "error", err)
			os.Exit(1)
		}
	}

	var secretStore secrets.SecretStore
	if cfg.TenantConfigSecret != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
		secretStore = sm
	}

	registry, err := tenant.Load(ctx, tenant.LoadOptions{
		EnvJSON:    cfg.TenantConfigJSON,
		FilePath:   cfg.TenantConfigFile,
		SecretName: cfg.TenantConfigSecret,
		Secrets:    secretStore,
		Encryptor:  encryptor,
	})
	if err != nil {
		slog.Error("failed to load tenant mapping", "error", err)
		os.Exit(1)
	}

	configStore := adminconfig.NewStore(cfg.AdminConfigFile)
	res := resolver.New(registry)
	res.SetDefaults(configStore.Defaults())

	tracker := metrics.NewTracker()
	if cfg.MetricsFile != "" {
		tracker.ConfigurePersistence(cfg.MetricsFile)
	}

	tokens := auth.NewTokenStore(cfg.TokensFile)
	proxyAuth := &auth.ProxyAuth{Required: cfg.ProxyAuthRequired, Store: tokens}
	if cfg.ProxyAuthRequired {
		slog.Info("gateway auth enabled", "users", tokens.Size())
	}

	var checkers []api.HealthChecker

	var rateLimiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisRateLimiter(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		rateLimiter = redisLimiter
		slog.Info("using redis rate limiter")

		redisChecker, err := api.NewRedisHealthChecker(cfg.RedisURL)
		if err == nil {
			checkers = append(checkers, redisChecker)
		}
	} else {
		rateLimiter = ratelimit.NewInMemoryRateLimiter()
		slog.Info("using in-memory rate limiter")
	}

	var usageRepo cost.Tracker
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		usageRepo = repository.NewPostgresUsageRepository(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("usage records persisted to postgres")
	}

	var usageQueue queue.Queue
	if cfg.UsageQueueURL != "" {
		usageQueue, err = queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			slog.Error("failed to initialize usage queue", "error", err)
			os.Exit(1)
		}
		slog.Info("usage events exported to sqs", "queue", cfg.UsageQueueURL)
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to initialize notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("operator notifications enabled", "topic", cfg.SNSTopicArn)
	}

	calculator := cost.NewCalculator()

	handler := api.NewHandler(api.HandlerConfig{
		Resolver:      res,
		ProxyAuth:     proxyAuth,
		Tracker:       tracker,
		RateLimiter:   rateLimiter,
		RateLimitRPM:  cfg.RateLimitRPM,
		StreamMode:    cfg.StreamMode,
		DevDefaultKey: cfg.DevDefaultLogicalKey,
		Usage:         usageRepo,
		Calculator:    calculator,
		UsageQueue:    usageQueue,
		Notifier:      notifier,
		Checkers:      checkers,
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler)

	guard := &auth.AdminGuard{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
		Password:     cfg.AdminPassword,
	}
	if guard.Enabled() {
		admin := api.NewAdminHandler(api.AdminConfig{
			Guard:           guard,
			Tokens:          tokens,
			Tracker:         tracker,
			ConfigStore:     configStore,
			Resolver:        res,
			Calculator:      calculator,
			AllowReset:      cfg.AdminAllowReset,
			AllowConfigEdit: cfg.AdminAllowConfigEdit,
			AllowUserMgmt:   cfg.AdminAllowUserMgmt,
		})
		mux.Handle("/admin/", admin)
		slog.Info("admin surface enabled", "user", cfg.AdminUsername)
	} else {
		slog.Info("admin surface disabled, no credentials configured")
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
