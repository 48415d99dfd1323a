package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gigchat/backend/internal/api/handler"
	"gigchat/backend/internal/app"
	"gigchat/backend/internal/chathub"
	"gigchat/backend/internal/config"
	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/localization"
	"gigchat/backend/internal/resolver"
	"gigchat/backend/internal/storage"
	"gigchat/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Backends
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
	logger.Info().Msg("database and redis connections established, migrations complete")

	q, err := app.NewQueue(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue setup failed")
	}
	if cfg.QueueBackend == "memory" && !cfg.WorkerEnabled {
		logger.Warn().Msg("memory queue without in-process workers: jobs will never be persisted")
	}

	// 2. Domain services
	g := gate.New(s, cfg.RechargeWindow, logger)
	rooms := resolver.NewService(s, logger)
	localizer, err := localization.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("localization failed to load")
	}

	hub := chathub.NewManagerService(g, q, logger)
	hub.Rooms = s
	hub.Localizer = localizer
	hub.Mode = cfg.DeliveryMode
	hub.SetRateLimit(cfg.SendRatePerMinute, cfg.SendBurst)

	// 3. HTTP
	h := handler.NewHandler(hub, rooms, g, s, handler.NewTokenManager(cfg.JWTSecret, config.TokenTTL, config.TokenIssuer), logger)
	h.Health = s
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        handler.NewRouter(h),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 4. Goroutines
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	group.Go(func() error {
		hub.ListenDeliveries(gctx, s.SubscribeDeliveries(gctx))
		return nil
	})
	if cfg.WorkerEnabled {
		w := worker.New(s, q, s, cfg.WorkerConcurrency, logger)
		if host, err := os.Hostname(); err == nil {
			w.Name = host
		}
		group.Go(func() error {
			return w.Run(gctx)
		})
	}
	group.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("mode", cfg.DeliveryMode).Msg("starting gigchat gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("gateway stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
