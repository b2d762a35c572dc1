package main

import (
	"context"
	"flag"

	"github.com/dusk-indust/replaylab/internal/config"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/mcptools"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

func runServeMCP(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve-mcp", flag.ContinueOnError)
	httpAddr := fs.String("http", "", "serve streamable HTTP on this address instead of stdio")
	outputDir := fs.String("output-dir", "", "directory for result files")
	storeKind := fs.String("checkpoint-store", storeAuto, "auto, sqlite, bolt, file or none")
	callsPerSecond := fs.Float64("rate", 0, "shared model calls per second (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings := config.DefaultSettings()
	outDir := a.outputDir(*outputDir, "")

	// One set of dependencies serves every call so the rate limiter and
	// stores are shared.
	deps, err := a.pipelineDeps(settings, *storeKind, *callsPerSecond, outDir)
	if err != nil {
		return err
	}
	newRun := func() orchestrator.Orchestrator {
		return oneShot{orchestrator.NewPipeline(pipelineConfig(settings, 0), deps)}
	}

	svc := mcptools.NewReplayService(a.archive(), newRun, runReader{app: a, outputDir: outDir})
	server := mcptools.NewServer(svc)
	if *httpAddr != "" {
		logging.Info().Str("addr", *httpAddr).Msg("serving MCP over HTTP")
		return mcptools.RunHTTP(ctx, server, *httpAddr)
	}
	return mcptools.RunStdio(ctx, server)
}

// oneShot closes its pipeline once Run returns.
type oneShot struct {
	*orchestrator.Pipeline
}

func (o oneShot) Run(ctx context.Context, req model.ReplayRequest) (*model.ComparisonResult, error) {
	defer o.Pipeline.Close()
	return o.Pipeline.Run(ctx, req)
}
