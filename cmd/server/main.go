// Command server runs the engagement and feed HTTP API. With RUN_WORKERS set
// it also consumes the sync queue in-process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momentum/internal/bootstrap"
	"momentum/internal/config"
	"momentum/internal/middleware"
	"momentum/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := bootstrap.InitObservability(cfg, "momentum-api")
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	srv, err := server.NewServer(rt)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	if cfg.RunWorkers {
		go func() {
			defer close(workersDone)
			if err := rt.RunWorkers(ctx); err != nil {
				middleware.Logger.Error("Workers stopped", "error", err.Error())
			}
		}()
	} else {
		close(workersDone)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		middleware.Logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			middleware.Logger.Error("Server shutdown error", "error", err.Error())
		}
		stop()
	}()

	if err := srv.Start(); err != nil {
		middleware.Logger.Error("Server stopped", "error", err.Error())
	}
	stop()
	<-workersDone

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		middleware.Logger.Error("Tracing shutdown error", "error", err.Error())
	}
	if err := rt.Close(); err != nil {
		middleware.Logger.Error("Runtime close error", "error", err.Error())
	}
}
