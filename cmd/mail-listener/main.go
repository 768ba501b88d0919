package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meldung/internal/config"
	"meldung/internal/connectors"
	"meldung/internal/extract"
	"meldung/internal/incidents"
	"meldung/internal/listener"
	"meldung/internal/locations"
	"meldung/internal/logging"
	"meldung/internal/pipeline"
	"meldung/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := logging.New(cfg)
	must(err)
	defer func() { _ = logger.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir, err := locations.OpenDirectory(ctx, cfg, db, logger)
	must(err)
	cache := locations.NewCache(dir, logger)
	engine := extract.NewEngine(cache, logger,
		extract.WithReadTimeout(time.Duration(cfg.ExtractReadTimeoutMs)*time.Millisecond),
		extract.WithLoadTimeout(time.Duration(cfg.LocationLoadTimeoutMs)*time.Millisecond))
	processor := pipeline.NewProcessingService(db, engine, incidents.NewService(db, cache, logger), cfg, logger)

	conn, err := connectors.New(cfg, cfg.MailListenerProvider)
	must(err)

	svc := listener.NewService(db, cfg, conn, processor, logger)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
