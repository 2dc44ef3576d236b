package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"omnichannel-backend/internal/api"
	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/database"
	"omnichannel-backend/internal/logger"
	"omnichannel-backend/internal/pullsync"
	"omnichannel-backend/internal/queue"
	"omnichannel-backend/internal/reconcile"
	"omnichannel-backend/internal/scheduler"
	"omnichannel-backend/internal/store"
	"omnichannel-backend/internal/store/memory"
	"omnichannel-backend/internal/store/postgres"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logg := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Check if we're in demo mode (no database)
	var (
		st   store.Store
		ping func(context.Context) error
	)
	if cfg.DemoMode {
		logg.Warn().Msg("Running in DEMO MODE - data is kept in memory only")
		st = memory.New()
	} else {
		db, err := database.NewConnection(ctx, cfg, logg)
		if err != nil {
			logg.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := database.RunMigrations(ctx, db, logg); err != nil {
			logg.Fatal().Err(err).Msg("Failed to run migrations")
		}
		st = postgres.New(db)
		ping = db.Ping
	}

	adapters := channel.NewAdapters(cfg)
	pipeline := reconcile.NewPipeline(cfg.TenantID, st, logger.Component(logg, "reconcile"))

	g, gctx := errgroup.WithContext(ctx)

	// Redis is optional: it upgrades webhook ingestion to a durable queue and
	// makes the sync lock visible across replicas.
	var (
		dispatcher queue.Dispatcher = queue.NewInline(pipeline)
		locker     pullsync.Locker  = pullsync.NewLocalLocker()
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logg.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logg.Fatal().Err(err).Msg("Failed to connect to redis")
		}

		asynqDispatcher := queue.NewAsynqDispatcher(rdb)
		defer asynqDispatcher.Close()
		dispatcher = asynqDispatcher
		locker = pullsync.NewRedisLocker(rdb, cfg.Sync.LockTTL, logger.Component(logg, "lock"))

		worker := queue.NewWorker(rdb, pipeline, cfg.Webhook.WorkerConcurrency, logger.Component(logg, "queue"))
		g.Go(func() error { return worker.Run(gctx) })
		logg.Info().Msg("webhook ingestion runs through the redis queue")
	}

	orchestrator := pullsync.New(cfg, pipeline, adapters, logger.Component(logg, "sync"), pullsync.WithLocker(locker))

	sched := scheduler.New(orchestrator, cfg.Sync.Cron, cfg.Sync.JobTimeout, logger.Component(logg, "scheduler"))
	if _, err := sched.Schedule(); err != nil {
		logg.Fatal().Err(err).Msg("Failed to schedule pull-sync")
	}
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(logg))

	// Setup API routes
	api.SetupRoutes(router, api.Dependencies{
		Config:     cfg,
		Store:      st,
		Adapters:   adapters,
		Dispatcher: dispatcher,
		Sync:       orchestrator,
		Log:        logg,
		Ping:       ping,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logg.Info().Str("addr", srv.Addr).Bool("demo_mode", cfg.DemoMode).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	logg.Info().Msg("Server stopped")
}
