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

	"github.com/shopspring/decimal"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/config"
	"posledger/backend/internal/httpapi"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
	"posledger/backend/internal/store/memory"
	pgstore "posledger/backend/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Default().Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close", slog.Any("error", err))
			}
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, closeRepo, err := openStore(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	reports, closeCache := openReportCache(startCtx, cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	server := newServer(cfg, repo, reports, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("POS backend listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openStore refuses to fall back to memory when DATABASE_URL is set.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if cfg.DatabaseApplySchema {
		if err := pg.ApplySchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

// openReportCache degrades to the no-op cache when Redis is unset or down.
func openReportCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.ReportCache, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("report cache: noop")
		return cache.NoopReportCache{}, nil
	}

	redisCache := cache.NewRedisReportCache(cache.RedisOptions{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		KeyPrefix:  cfg.RedisKeyPrefix,
		DefaultTTL: cfg.ReportCacheTTL,
	})
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop report cache", slog.Any("error", err))
		_ = redisCache.Close()
		return cache.NoopReportCache{}, nil
	}
	logger.Info("report cache: redis", slog.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func newServer(cfg config.Config, repo store.Store, reports cache.ReportCache, logger *slog.Logger) *http.Server {
	svc := service.New(repo, reports, service.Options{
		DefaultCashLimit: decimal.NewNullDecimal(cfg.DefaultCashLimit),
		ReportCacheTTL:   cfg.ReportCacheTTL,
		Logger:           logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
