package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"pixbin/internal/cache"
	"pixbin/internal/config"
	"pixbin/internal/database"
	"pixbin/internal/log"
	"pixbin/internal/queue"
	"pixbin/internal/repository"
	"pixbin/internal/storage"
	"pixbin/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}

	processor := tasks.NewProcessor(
		repository.NewImageRepository(dbPool),
		objectStore,
		repository.NewSessionRepository(dbPool),
		cfg.Maintenance.OrphanGrace,
		logger,
	)

	consumerName := cfg.Maintenance.Consumer
	if consumerName == "" {
		consumerName, _ = os.Hostname()
	}
	consumer := queue.NewConsumer(client, queue.ConsumerConfig{
		Stream:        cfg.Maintenance.Stream,
		Group:         cfg.Maintenance.Group,
		Consumer:      consumerName,
		ClaimInterval: cfg.Maintenance.ClaimInterval,
	}, logger, processor)

	logger.Info().Str("stream", cfg.Maintenance.Stream).Str("consumer", consumerName).Msg("worker started")
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
