package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"finance-sync-be/categorize"
	"finance-sync-be/config"
	"finance-sync-be/database"
	"finance-sync-be/events"
	"finance-sync-be/handlers"
	"finance-sync-be/logger"
	"finance-sync-be/reconcile"
	"finance-sync-be/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger settings come from the same config, so fall back to defaults.
		log := logger.New("info", "console")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := tracing.Setup(cfg.TraceExporter, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	otel.SetTracerProvider(tp)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error().Err(err).Msg("Failed to flush traces")
		}
	}()

	// Connect to Database
	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	store := database.NewStore(db)

	// Sync events
	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nats, err := events.Connect(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nats.Close()
		publisher = nats
		log.Info().Str("subject", cfg.NATSSubject).Msg("Publishing sync events to NATS")
	} else {
		log.Warn().Msg("NATS_URL not set - sync events are disabled")
	}

	// AI categorisation is optional
	var ai categorize.Suggester
	if cfg.GeminiAPIKey != "" {
		gemini, err := categorize.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to init AI client")
		}
		ai = gemini
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set - suggestions use stored rules only")
	}

	reconciler := reconcile.New(store,
		reconcile.WithBalanceMode(cfg.BalanceMode),
		reconcile.WithMaxBatchSize(cfg.BatchMaxSize),
		reconcile.WithPublisher(publisher),
		reconcile.WithLogger(log.With().Str("component", "reconcile").Logger()),
		reconcile.WithTracerProvider(tp),
	)
	categorizer := categorize.NewService(store, ai, log.With().Str("component", "categorize").Logger())

	h := handlers.NewHandler(reconciler, store, categorizer, log)
	app := handlers.NewApp(h, handlers.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, log)

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	// Start Server
	log.Info().
		Str("port", cfg.Port).
		Str("balance_mode", cfg.BalanceMode.String()).
		Int("batch_max_size", cfg.BatchMaxSize).
		Str("trace_exporter", cfg.TraceExporter).
		Msg("Starting server")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
