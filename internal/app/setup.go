// Package app holds the wiring shared by the gigchat binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const memoryQueueCapacity = 1024

// NewLogger returns a console logger in development and JSON otherwise.
func NewLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// OpenDatabase connects to PostgreSQL. Driver errors are translated so that
// unique violations surface as gorm.ErrDuplicatedKey.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Silent
	if cfg.IsDevelopment() {
		level = gormlogger.Warn
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// NewQueue builds the configured job queue.
func NewQueue(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewMemoryQueue(memoryQueueCapacity, logger), nil
	case "redis", "":
		q, err := queue.NewRedisQueue(ctx, rdb, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}
