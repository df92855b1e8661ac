// Command worker consumes the sync queue and refreshes feed scores.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"momentum/internal/bootstrap"
	"momentum/internal/config"
	"momentum/internal/middleware"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.QueueDriver == config.QueueDriverMemory {
		log.Fatalf("QUEUE_DRIVER=memory is process-local; run the server with RUN_WORKERS instead")
	}

	shutdownTracing, err := bootstrap.InitObservability(cfg, "momentum-worker")
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.RunWorkers(ctx); err != nil {
		middleware.Logger.Error("Workers stopped", "error", err.Error())
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		middleware.Logger.Error("Tracing shutdown error", "error", err.Error())
	}
	if err := rt.Close(); err != nil {
		middleware.Logger.Error("Runtime close error", "error", err.Error())
	}
}
