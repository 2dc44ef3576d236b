package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/database"
	"omnichannel-backend/internal/logger"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/pullsync"
	"omnichannel-backend/internal/reconcile"
	"omnichannel-backend/internal/store"
	"omnichannel-backend/internal/store/postgres"
)

// syncrun performs a single pull-sync outside the server, e.g. from a
// one-off job after a webhook outage.
func main() {
	all := flag.Bool("all", false, "sync every configured channel")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: syncrun [-all] [messenger|instagram|whatsapp ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logg := logger.New(cfg)

	var channels []models.Channel
	for _, arg := range flag.Args() {
		ch, ok := models.ParseChannel(strings.ToLower(arg))
		if !ok {
			logg.Fatal().Str("channel", arg).Msg("Unknown channel")
		}
		channels = append(channels, ch)
	}
	if *all {
		channels = models.Channels
	}
	if len(channels) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.JobTimeout)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg, logg)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := database.RunMigrations(ctx, db, logg); err != nil {
		logg.Fatal().Err(err).Msg("Failed to run migrations")
	}

	var st store.Store = postgres.New(db)
	pipeline := reconcile.NewPipeline(cfg.TenantID, st, logger.Component(logg, "reconcile"))
	orchestrator := pullsync.New(cfg, pipeline, channel.NewAdapters(cfg), logger.Component(logg, "sync"))

	failed := false
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, ch := range channels {
		if *all && !orchestrator.Configured(ch) {
			continue
		}
		sum := orchestrator.Run(ctx, ch)
		if err := enc.Encode(sum); err != nil {
			logg.Error().Err(err).Msg("encode summary")
		}
		failed = failed || !sum.Success
	}
	if failed {
		os.Exit(1)
	}
}
