// Package main is the entry point for the market data service. It serves
// EVE Online regional market data through a freshness-aware cache backed
// by the ESI API, with a persistent store as last-resort fallback and a
// background scheduler that keeps tracked keys warm.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/cache"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/config"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/database"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/esi"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/events"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata"
	marketdatahandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata/handlers"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketstore"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh"
	refreshhandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh/handlers"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/reliability"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/server"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting market data service")

	// Two databases: the cache is disposable, market data is not.
	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	cacheStore, err := cache.NewStore(cacheDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache store")
	}
	freshCache := cache.New(cacheStore, log)

	store, err := marketstore.New(marketDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market store")
	}

	esiClient := esi.NewClient(esi.Config{
		BaseURL:    cfg.ESIBaseURL,
		UserAgent:  cfg.UserAgent,
		Timeout:    time.Duration(cfg.ESITimeoutSecs) * time.Second,
		MaxRetries: cfg.ESIMaxRetries,
	}, log)

	service := marketdata.NewService(esiClient, freshCache, store, log)

	bus := events.NewBus()
	scheduler := refresh.NewScheduler(refresh.Config{
		TickInterval: time.Duration(cfg.RefreshBaseIntervalMinutes) * time.Minute,
		ItemDelay:    time.Duration(cfg.RefreshItemDelayMs) * time.Millisecond,
	}, service, store, bus, log)
	scheduler.Start()
	defer scheduler.Stop()

	// Nightly maintenance: cache cleanup, metrics windows and, when
	// configured, backups.
	maintenance := cron.New()
	cleanupJob := cache.NewCleanupJob(freshCache, log)
	if _, err := maintenance.AddFunc("0 3 * * *", cleanupJob.Run); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache cleanup")
	}
	if _, err := maintenance.AddFunc("0 0 * * *", scheduler.ResetMetrics); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule refresh metrics reset")
	}

	var backupService *reliability.BackupService
	if cfg.Backup.Enabled() {
		backupService, err = reliability.NewBackupService(context.Background(), cfg.Backup, []*database.DB{marketDB}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup service")
		}
		if _, err := maintenance.AddFunc("30 3 * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			backupService.Run(ctx)
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
	} else {
		log.Info().Msg("Backups not configured, skipping")
	}
	maintenance.Start()
	defer maintenance.Stop()

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		MarketHandlers: marketdatahandlers.NewHandler(service, log),
		RefreshHandler: refreshhandlers.NewHandler(scheduler, log),
		EventsStream:   refreshhandlers.NewEventsStreamHandler(bus, log),
		Cache:          freshCache,
		Upstream:       esiClient,
		Backup:         backupService,
		Databases:      []*database.DB{cacheDB, marketDB},
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Market data service stopped")
}
