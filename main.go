package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/app"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/logger"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/worker"
)

func main() {
	log := logger.New(os.Stdout, slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// A nil *nsq.Producer must not become a non-nil Publisher.
	var pub worker.Publisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}

	application, err := app.New(cfg, deps.DB, deps.Index, deps.Blobs, pub, nil)
	if err != nil {
		return err
	}

	if pub != nil {
		consumer, err := worker.Subscribe(application.Orchestrator, cfg.NSQLookupd, cfg.NSQDHost, cfg.IngestionConcurrency)
		if err != nil {
			return err
		}
		defer consumer.Stop()
		log.Info("NSQ ingest consumer connected", "topic", config.TopicIngestContent)
	}

	return application.Run(ctx, cfg.IngestionConcurrency)
}
