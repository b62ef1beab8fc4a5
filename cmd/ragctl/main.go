// Command ragctl ingests content and runs the study workflows from a
// terminal, against the same stores the server uses.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/app"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/logger"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/worker"
)

func main() {
	slog.SetDefault(logger.New(os.Stderr, slog.LevelWarn))

	root, closeFn := newRootCmd(openOrchestrator)
	root.SetOut(os.Stdout)
	err := root.Execute()
	closeFn()
	if err != nil {
		os.Exit(1)
	}
}

// openOrchestrator connects to the configured stores. With the in-process
// queue a single worker runs background tasks, and the returned cleanup
// waits for them before exiting.
func openOrchestrator(ctx context.Context) (Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var pub worker.Publisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}
	application, err := app.New(cfg, deps.DB, deps.Index, deps.Blobs, pub, nil)
	if err != nil {
		deps.Close()
		return nil, nil, err
	}

	if application.MemoryQueue != nil {
		application.MemoryQueue.Start(ctx, application.Orchestrator, 1)
	}
	cleanup := func() {
		if application.MemoryQueue != nil {
			application.MemoryQueue.Close()
		}
		application.Close()
		deps.Close()
	}
	return application.Orchestrator, cleanup, nil
}
