// ClarusRCM | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clarusrcm/platform-api/internal/admin"
	"github.com/clarusrcm/platform-api/internal/audit"
	"github.com/clarusrcm/platform-api/internal/auth"
	"github.com/clarusrcm/platform-api/internal/billing"
	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/health"
	"github.com/clarusrcm/platform-api/internal/middleware"
	"github.com/clarusrcm/platform-api/internal/org"
	"github.com/clarusrcm/platform-api/internal/server"
	"github.com/clarusrcm/platform-api/internal/user"
)

const drainDelay = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	generateKeys := flag.Bool(
		"generate-keys",
		false,
		"generate a session signing key pair and exit",
	)
	flag.Parse()

	if *generateKeys {
		if err := generateSessionKeys(*configPath); err != nil {
			slog.Error("key generation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	sessions, err := auth.NewSessionIssuer(cfg.Session)
	if err != nil {
		return err
	}
	logger.Info("session issuer initialized", "algorithm", "ES256")

	auditor := audit.NewPostgresRecorder(db.DB, logger)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, logger)
	userHandler := user.NewHandler(userSvc)

	orgRepo := org.NewRepository(db.DB)
	orgSvc := org.NewService(orgRepo, logger)
	orgHandler := org.NewHandler(orgSvc)

	authSvc := auth.NewService(userSvc, orgSvc, sessions, auditor, logger)
	authHandler := auth.NewHandler(authSvc, cfg.Session)

	catalog := billing.NewCatalog(cfg.Billing)
	stripeProvider := billing.NewStripeProvider(cfg.Billing, logger)
	billingSvc := billing.NewService(
		orgRepo,
		stripeProvider,
		catalog,
		auditor,
		orgSvc,
		cfg.Billing,
		logger,
	)
	billingHandler := billing.NewHandler(billingSvc, stripeProvider, logger)

	healthHandler := health.NewHandler(db, redis)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Trials:     orgRepo,
	})

	srv := server.New(cfg.Server, logger)
	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	rateLimiter := middleware.NewRateLimiter(
		redis.Client,
		orgSvc.TierOf,
		cfg.RateLimit,
		logger,
	)

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", sessions.JWKSHandler())

	// Webhooks bypass the rate limiter and the authenticator; the
	// signature is the gate.
	billingHandler.RegisterWebhookRoutes(router)

	authenticator := middleware.Authenticator(
		sessions,
		cfg.Session.CookieName,
	)
	adminOnly := middleware.RequireAdmin

	router.Route("/v1", func(r chi.Router) {
		r.Use(rateLimiter.Limit)

		authHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterRoutes(r, authenticator)
		orgHandler.RegisterRoutes(r, authenticator)
		billingHandler.RegisterRoutes(r, authenticator)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	healthHandler.SetShutdown(true)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	auditor.Close()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func generateSessionKeys(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := auth.GenerateKeyPair(
		cfg.Session.PrivateKeyPath,
		cfg.Session.PublicKeyPath,
	); err != nil {
		return err
	}

	slog.Info("session key pair written",
		"private", cfg.Session.PrivateKeyPath,
		"public", cfg.Session.PublicKeyPath,
	)
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
