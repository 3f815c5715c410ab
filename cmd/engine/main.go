package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/alerts"
	"github.com/rawblock/mule-forensics/internal/api"
	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/db"
	"github.com/rawblock/mule-forensics/internal/engine"
	"github.com/rawblock/mule-forensics/internal/feed"
	"github.com/rawblock/mule-forensics/internal/logging"
	"github.com/rawblock/mule-forensics/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mule-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Configuration ───────────────────────────────────────────────────
	// Defaults < YAML file (--config) < MULE_* environment < flags.
	// Secrets (database url, auth token) belong in the environment.
	// ─────────────────────────────────────────────────────────────────────
	flags := pflag.NewFlagSet("mule-engine", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	flags.Int("port", 0, "HTTP port (server.port)")
	flags.String("log-level", "", "debug, info, warn or error (logging.level)")
	flags.Bool("feed", false, "poll the transaction table (feed.enabled)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	loader := config.NewLoader()
	for key, name := range map[string]string{
		"server.port":   "port",
		"logging.level": "log-level",
		"feed.enabled":  "feed",
	} {
		if f := flags.Lookup(name); f.Changed {
			if err := loader.BindFlag(key, f); err != nil {
				return err
			}
		}
	}
	if *configPath == "" {
		*configPath = os.Getenv("MULE_CONFIG")
	}
	cfg, err := loader.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting mule forensics engine",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("feed", cfg.Feed.Enabled),
		zap.Int("workers", cfg.Detection.Workers))

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	eng, err := engine.New(cfg.Detection, logger, engine.WithRecorder(recorder))
	if err != nil {
		return err
	}

	var store *db.PostgresStore
	if cfg.Database.URL != "" {
		store, err = db.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
		if err != nil {
			if cfg.Feed.Enabled {
				return fmt.Errorf("feed needs the database: %w", err)
			}
			logger.Warn("PostgreSQL unavailable, continuing without the transaction source", zap.Error(err))
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				logger.Warn("Schema init failed", zap.Error(err))
			}
		}
	}

	hub := api.NewHub(logger)
	go hub.Run()

	alertManager := alerts.NewManager(cfg.Alerts, cfg.Detection.Scoring.Bands, hub.BroadcastAlert, logger)

	deps := api.Deps{
		Engine:   eng,
		Store:    api.NewReportStore(),
		Hub:      hub,
		Alerts:   alertManager,
		Gatherer: prometheus.DefaultGatherer,
		Config:   cfg.Server,
		Logger:   logger,
	}
	if store != nil {
		deps.DB = store
	}
	server := api.NewServer(deps)

	feedDone := make(chan struct{})
	if cfg.Feed.Enabled {
		poller := feed.NewPoller(store, eng, cfg.Feed, logger, recorder, server.Publish)
		go func() {
			defer close(feedDone)
			poller.Run(ctx)
		}()
	} else {
		close(feedDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-feedDone
			hub.Close()
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	<-feedDone
	alertManager.Wait()
	hub.Close()

	logger.Info("Engine stopped")
	return nil
}
