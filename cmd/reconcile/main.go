// Command reconcile rebuilds every counter and the Counter Store from the
// durable records, or with -dry-run only lists the counters that disagree.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"momentum/internal/bootstrap"
	"momentum/internal/config"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Report mismatches without writing")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.CounterStore == config.CounterStoreMemory {
		log.Fatalf("COUNTER_STORE=memory is process-local; nothing to reconcile from here")
	}
	if _, err := bootstrap.InitObservability(cfg, "momentum-reconcile"); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := rt.NewReconciler()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *dryRun {
		mismatches, err := rec.Check(ctx)
		if err != nil {
			log.Fatalf("Check failed: %v", err)
		}
		_ = enc.Encode(mismatches)
		if len(mismatches) > 0 {
			log.Printf("%d counters disagree with their records", len(mismatches))
		}
		return
	}

	report, err := rec.Rebuild(ctx)
	if err != nil {
		log.Fatalf("Reconcile failed: %v", err)
	}
	_ = enc.Encode(report)
}
