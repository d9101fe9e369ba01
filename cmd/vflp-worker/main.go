package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/vflp-ligand-prep/internal/audit"
	"github.com/withObsrvr/vflp-ligand-prep/internal/checkpoint"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metadata"
	"github.com/withObsrvr/vflp-ligand-prep/internal/metrics"
	"github.com/withObsrvr/vflp-ligand-prep/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] VFLP worker %s (%s)", worker.Version, worker.GitSHA)

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Printf("[main] %v", err)
		return 1
	}
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init("vflp")
	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
		log.Printf("[main] metrics listening on %s", cfg.Metrics.Address)
	}

	cps, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Progress.CheckpointDir != "",
		Dir:     cfg.Progress.CheckpointDir,
	})
	if err != nil {
		log.Printf("[main] failed to create checkpoint manager: %v", err)
		return 1
	}

	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err != nil {
		log.Printf("[main] catalog unavailable, continuing without it: %v", err)
		catalog = metadata.NewNoopWriter()
	}
	defer catalog.Close()

	auditor := audit.NewEmitter(audit.Config{
		Dir:      cfg.Audit.Dir,
		Endpoint: cfg.Audit.Endpoint,
		Chain:    cfg.Subjob.Workunit + "_" + cfg.Subjob.Subjob,
	})
	defer auditor.Close()

	runID := uuid.NewString()
	logger := logging.SubjobLogger(runID, cfg.Subjob.Workunit, cfg.Subjob.Subjob)

	w := worker.New(worker.Options{
		Config:      cfg,
		Checkpoints: cps,
		Catalog:     catalog,
		Audit:       auditor,
		RunID:       runID,
	}, logger)

	start := time.Now()
	if err := w.Run(ctx); err != nil {
		switch {
		case errors.Is(err, worker.ErrSkipSubjob):
			log.Printf("[main] subjob %s not present, exiting", cfg.Subjob.Subjob)
			return 0
		case ctx.Err() != nil:
			log.Printf("[main] interrupted: %v", err)
			return 130
		default:
			log.Printf("[main] subjob failed: %v", err)
			return 1
		}
	}

	log.Printf("[main] subjob %s/%s finished in %s", cfg.Subjob.Workunit, cfg.Subjob.Subjob, time.Since(start).Round(time.Millisecond))
	return 0
}
