package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"warungpos/backend/internal/auth"
	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/config"
	"warungpos/backend/internal/httpapi"
	"warungpos/backend/internal/logging"
	"warungpos/backend/internal/metrics"
	"warungpos/backend/internal/migrate"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
	pgstore "warungpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, warning := range cfg.Warnings {
		logger.Warnw("config", "warning", warning)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("server failed", "error", err)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	verifier, err := auth.FromName(cfg.PasswordHashing)
	if err != nil {
		return err
	}
	location, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		return fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers := []func() error{backend.Close}

	var (
		settingsCache cache.SettingsCache = cache.NewMemorySettingsCache(cfg.SettingsCacheTTL)
		locker        migrate.Locker
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSettingsCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warnw("redis unavailable, using in-process settings cache", "addr", cfg.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			settingsCache = redisCache
			locker = migrate.NewRedisLocker(client, "warungpos:migrate", time.Minute)
			closers = append(closers, client.Close)
			logger.Infow("cache: redis", "addr", cfg.RedisAddr)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.Open(ctx, backend, service.Options{
		Logger:           logger.Named("service"),
		Metrics:          metrics.New(reg),
		Locker:           locker,
		Verifier:         verifier,
		SettingsCache:    settingsCache,
		SettingsCacheTTL: cfg.SettingsCacheTTL,
		BusyTimeout:      cfg.StoreBusyTimeout,
		ReportLocation:   location,
	})
	if err != nil {
		closeAll(logger, closers)
		var migrationErr *migrate.MigrationError
		if errors.As(err, &migrationErr) {
			return fmt.Errorf("refusing to start, store left at the version before %d: %w", migrationErr.Version, err)
		}
		return err
	}
	if err := svc.SeedIfEmpty(ctx); err != nil {
		closeAll(logger, closers)
		return fmt.Errorf("seed: %w", err)
	}

	tokens := auth.NewTokenManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, tokens, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger.Named("http"),
		Gatherer:      reg,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serverErr:
		if err != nil {
			closeAll(logger, closers)
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown error", "error", err)
	}
	closeAll(logger, closers)

	logger.Info("server stopped")
	return nil
}

// openBackend picks Postgres when DATABASE_URL is set and the in-memory store
// with a snapshot file otherwise. A configured but unreachable database is an
// error, never a silent fallback.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (store.Backend, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL,
			pgstore.WithLockTimeout(cfg.StoreBusyTimeout),
			pgstore.WithLogger(logger.Named("postgres")),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		logger.Info("store: postgres")
		return pg, nil
	}

	opts := []memory.Option{
		memory.WithBusyTimeout(cfg.StoreBusyTimeout),
		memory.WithLogger(logger.Named("memory")),
	}
	if cfg.DataFile != "" {
		opts = append(opts, memory.WithSnapshotFile(cfg.DataFile))
	}
	mem, err := memory.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DataFile, err)
	}
	logger.Infow("store: memory", "data_file", cfg.DataFile)
	return mem, nil
}

func closeAll(logger *zap.SugaredLogger, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warnw("close error", "error", err)
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	return nil
}
