package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/TobiKellner/FlashKart/internal/pkg/cache"
	"github.com/TobiKellner/FlashKart/internal/pkg/checkout"
	"github.com/TobiKellner/FlashKart/internal/pkg/database"
	"github.com/TobiKellner/FlashKart/internal/pkg/env"
	"github.com/TobiKellner/FlashKart/internal/pkg/metrics/counter"
	"github.com/TobiKellner/FlashKart/internal/pkg/reaper"
)

func main() {
	env.SetupEnvFile()

	once := flag.Bool("once", true, "run a single sweep and exit")
	interval := flag.Duration("interval", 60*time.Second, "sweep interval when running continuously")
	batchSize := flag.Int("batch-size", env.GetEnvInt("REAPER_BATCH_SIZE", reaper.DefaultBatchSize), "expired holds fetched per scan")
	maxRuntime := flag.Duration("max-runtime", env.GetEnvDuration("REAPER_MAX_RUNTIME_SECONDS", reaper.DefaultMaxRuntime), "wall-clock budget per sweep")
	flag.Parse()

	database.SetupDatabase()
	cache.SetupCache()
	checkout.Setup()

	r := reaper.New(checkout.GetStore(), checkout.GetRegistry(), checkout.GetLedger(), reaper.Config{
		BatchSize:  *batchSize,
		MaxRuntime: *maxRuntime,
	})

	ctx := context.Background()
	if *once {
		report, err := r.RunOnce(ctx)
		logReport(report)
		if err != nil {
			log.Fatalf("reaper sweep failed: %v", err)
		}
		if report.ErrorCount > 0 {
			os.Exit(1)
		}
		return
	}

	for {
		report, err := r.RunOnce(ctx)
		logReport(report)
		if err != nil {
			log.Printf("reaper sweep failed: %v", err)
		}
		time.Sleep(*interval)
	}
}

func logReport(report *reaper.Report) {
	if report == nil {
		return
	}
	if report.Expired > 0 {
		_ = counter.AddN(counter.EventHoldsExpired, int64(report.Expired))
	}
	log.Printf("sweep done: scanned=%d expired=%d released=%d skipped=%d errors=%d elapsed=%s",
		report.Scanned, report.Expired, report.Released, report.Skipped, report.ErrorCount, report.Elapsed)
}
