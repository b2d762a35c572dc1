package main

import (
	"context"
	"flag"

	"go.temporal.io/sdk/worker"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/config"
	"github.com/dusk-indust/replaylab/internal/temporal"
)

func runWorker(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	outputDir := fs.String("output-dir", "", "directory for result files")
	storeKind := fs.String("checkpoint-store", storeAuto, "auto, sqlite, bolt, file or none")
	concurrency := fs.Int("max-activities", 0, "concurrent activity executions (0 = SDK default)")
	callsPerSecond := fs.Float64("rate", 0, "shared model calls per second (0 = unlimited)")
	noFiles := fs.Bool("no-files", false, "do not write result files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := a.dialTemporal()
	if err != nil {
		return err
	}

	settings := config.DefaultSettings()
	outDir := a.outputDir(*outputDir, "")
	cpStore, err := a.checkpointStore(*storeKind, outDir)
	if err != nil {
		return err
	}
	sinks, err := a.sinks(outDir, !*noFiles)
	if err != nil {
		return err
	}

	acts := &temporal.Activities{
		Loader:    a.archive(),
		Extractor: &checkpoint.Extractor{Store: cpStore},
		Runner:    a.executor(settings, *callsPerSecond),
		Sinks:     sinks,
	}
	return temporal.RunWorker(ctx, c, acts, worker.Options{
		MaxConcurrentActivityExecutionSize: *concurrency,
	})
}
