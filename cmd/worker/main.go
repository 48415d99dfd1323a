package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gigchat/backend/internal/app"
	"gigchat/backend/internal/config"
	"gigchat/backend/internal/storage"
	"gigchat/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal().Msg("the standalone worker needs QUEUE_BACKEND=redis")
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()

	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	q, err := app.NewQueue(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue setup failed")
	}

	w := worker.New(s, q, s, cfg.WorkerConcurrency, logger)
	if host, err := os.Hostname(); err == nil {
		w.Name = host
	}
	if err := w.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}
