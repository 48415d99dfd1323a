package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Gateway
	DeliveryMode      string
	SendRatePerMinute int
	SendBurst         int

	// Persistence worker
	WorkerEnabled     bool
	WorkerConcurrency int
	QueueBackend      string // "redis" or "memory"

	RechargeWindow time.Duration
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", "host=localhost user=user password=password dbname=gigchat port=5432 sslmode=disable"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		DeliveryMode:      getEnv("DELIVERY_MODE", DeliveryFast),
		SendRatePerMinute: getEnvInt("SEND_RATE_PER_MINUTE", SendRatePerMinute),
		SendBurst:         getEnvInt("SEND_BURST", SendBurst),
		WorkerEnabled:     getEnv("WORKER_ENABLED", "true") == "true",
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		QueueBackend:      getEnv("QUEUE_BACKEND", "redis"),
		RechargeWindow:    getEnvDuration("RECHARGE_WINDOW", RechargeWindow),
	}

	if cfg.DeliveryMode != DeliveryFast && cfg.DeliveryMode != DeliveryDurable {
		cfg.DeliveryMode = DeliveryFast
	}

	if cfg.Env == "production" && cfg.JWTSecret == "" {
		panic("JWT_SECRET is required in production")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
