package main

import (
	"context"
	"flag"

	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/status"
	"github.com/dusk-indust/replaylab/internal/temporal"
)

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	limit := fs.Int("limit", status.DefaultLimit, "number of recent runs to show")
	outputDir := fs.String("output-dir", "", "directory holding result files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src := status.Sources{
		Detector: orchestrator.NewDefaultDetector(a.temporalProbe()),
		Results:  export.NewWriter(a.outputDir(*outputDir, "")),
		Limit:    *limit,
	}
	db, err := a.database()
	if err != nil {
		return err
	}
	if db != nil {
		src.Runs = db
	}

	report, err := status.Collect(ctx, src)
	if err != nil {
		return err
	}
	status.Print(stdout, report)
	return nil
}

// temporalProbe returns nil when no frontend is configured. A failed dial
// becomes a probe that reports the dial error.
func (a *app) temporalProbe() orchestrator.ProbeFunc {
	if a.cfg.TemporalAddress == "" {
		return nil
	}
	c, err := a.dialTemporal()
	if err != nil {
		return func(context.Context) error { return err }
	}
	return temporal.Probe(c)
}
