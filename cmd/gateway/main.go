package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pix-gateway/internal/bank"
	"pix-gateway/internal/cache"
	"pix-gateway/internal/config"
	httpapi "pix-gateway/internal/http"
	"pix-gateway/internal/metrics"
	"pix-gateway/internal/notify"
	"pix-gateway/internal/storage"
	"pix-gateway/internal/usecase/charges"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.AppEnv)

	if cfg.PGDSN == "" {
		log.Fatal().Msg("gateway: PIX_PG_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connectDB(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway: failed to connect to postgres")
	}
	defer pool.Close()

	store := storage.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway: failed to migrate schema")
	}

	opts := []charges.Option{
		charges.WithBankClient(bank.NewClient(bank.Config{Timeout: cfg.Bank.Timeout})),
	}
	if cfg.RedisDSN != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("gateway: invalid redis dsn")
		}
		opts = append(opts, charges.WithCache(cache.NewRedis(redis.NewClient(redisOpts))))
	}

	notifier := notify.New(log.Logger)
	service := charges.NewService(store, store, notifier, log.Logger, opts...)
	server := httpapi.NewServer(service, store, httpapi.WithLogger(log.Logger))

	metrics.MustRegister(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, log.Logger, cfg.Metrics.Addr)
	}

	go expirySweeper(ctx, service, cfg.Expiry.SweepInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("gateway: server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway: server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway: graceful shutdown failed")
	}
}

func setupLogger(appEnv string) {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(level)
}

func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// expirySweeper periodically moves overdue pending charges to expired.
func expirySweeper(ctx context.Context, service *charges.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := service.ExpireOverdue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("gateway: expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int64("count", expired).Msg("gateway: charges expired")
			}
		}
	}
}
