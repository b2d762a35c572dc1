package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/config"
	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/temporal"
)

// Orchestrators accepted by -orchestrator.
const (
	orchLocal    = "local"
	orchTemporal = "temporal"
	orchAuto     = "auto"
)

type runFlags struct {
	Conversation    string
	ForkAt          int
	ConfigPath      string
	Orchestrator    string
	OutputDir       string
	CheckpointStore string
	Rate            float64
	Timeout         time.Duration
	Quiet           bool
}

func runFork(ctx context.Context, a *app, args []string) error {
	var flags runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&flags.Conversation, "conversation", "", "session ID of the conversation to fork")
	fs.IntVar(&flags.ForkAt, "fork-at", -1, "number of messages kept before the fork")
	fs.StringVar(&flags.ConfigPath, "config", "fork.yaml", "path to the fork configuration")
	fs.StringVar(&flags.Orchestrator, "orchestrator", orchLocal, "local, temporal or auto")
	fs.StringVar(&flags.OutputDir, "output-dir", "", "directory for result files (overrides the config)")
	fs.StringVar(&flags.CheckpointStore, "checkpoint-store", storeAuto, "auto, sqlite, bolt, file or none")
	fs.Float64Var(&flags.Rate, "rate", 0, "shared model calls per second across branches (0 = unlimited)")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "bound on the whole run (0 = none)")
	fs.BoolVar(&flags.Quiet, "quiet", false, "do not print progress")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if flags.Conversation == "" {
		return errors.New("-conversation is required")
	}
	if flags.ForkAt < 0 {
		return errors.New("-fork-at is required")
	}

	fork, err := config.LoadFork(flags.ConfigPath)
	if err != nil {
		return err
	}
	outDir := a.outputDir(flags.OutputDir, fork.Settings.OutputDir)

	kind, err := a.pickOrchestrator(ctx, flags.Orchestrator)
	if err != nil {
		return err
	}
	printRunHeader(flags, kind, fork)

	orch, closeOrch, err := a.newOrchestrator(kind, fork.Settings, flags, outDir)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range orch.Progress() {
			if !flags.Quiet {
				fmt.Fprintln(stdout, orchestrator.FormatProgress(ev))
			}
		}
	}()

	res, runErr := orch.Run(ctx, model.ReplayRequest{
		ConversationID: flags.Conversation,
		ForkAtStep:     flags.ForkAt,
		Branches:       fork.Branches,
	})
	closeOrch()
	wg.Wait()
	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(stdout)
	fmt.Fprint(stdout, export.FormatMarkdown(res))
	if fork.Settings.SaveResults && kind == orchLocal {
		fmt.Fprintf(stdout, "\nResults saved to %s\n", export.NewWriter(outDir).Path(res.RunID))
	}
	return nil
}

// pickOrchestrator resolves "auto" to temporal when the frontend answers and
// local otherwise.
func (a *app) pickOrchestrator(ctx context.Context, kind string) (string, error) {
	switch kind {
	case orchLocal, orchTemporal:
		return kind, nil
	case orchAuto:
	default:
		return "", fmt.Errorf("unknown orchestrator %q", kind)
	}
	if a.cfg.TemporalAddress == "" {
		return orchLocal, nil
	}
	c, err := a.dialTemporal()
	if err != nil {
		logging.Debug().Err(err).Msg("temporal unavailable, running locally")
		return orchLocal, nil
	}
	env, err := orchestrator.NewDefaultDetector(temporal.Probe(c)).Detect(ctx)
	if err != nil {
		return "", err
	}
	if env.Capability == orchestrator.CapDurable {
		return orchTemporal, nil
	}
	return orchLocal, nil
}

// newOrchestrator builds the orchestrator for kind. The returned func
// releases it and closes its progress channel.
func (a *app) newOrchestrator(kind string, settings config.Settings, flags runFlags, outDir string) (orchestrator.Orchestrator, func(), error) {
	if kind == orchTemporal {
		c, err := a.dialTemporal()
		if err != nil {
			return nil, nil, err
		}
		o := temporal.NewOrchestrator(c)
		return o, o.Close, nil
	}

	p, err := a.newPipeline(settings, flags.CheckpointStore, flags.Rate, flags.Timeout, outDir)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// newPipeline wires a local pipeline: archive loader, checkpoint store,
// branch executor and result sinks.
func (a *app) newPipeline(settings config.Settings, storeKind string, callsPerSecond float64, timeout time.Duration, outDir string) (*orchestrator.Pipeline, error) {
	deps, err := a.pipelineDeps(settings, storeKind, callsPerSecond, outDir)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewPipeline(pipelineConfig(settings, timeout), deps), nil
}

func pipelineConfig(settings config.Settings, timeout time.Duration) orchestrator.Config {
	return orchestrator.Config{MaxConcurrency: settings.MaxConcurrency, RequestTimeout: timeout}
}

func (a *app) pipelineDeps(settings config.Settings, storeKind string, callsPerSecond float64, outDir string) (orchestrator.Deps, error) {
	cpStore, err := a.checkpointStore(storeKind, outDir)
	if err != nil {
		return orchestrator.Deps{}, err
	}
	sinks, err := a.sinks(outDir, settings.SaveResults)
	if err != nil {
		return orchestrator.Deps{}, err
	}
	return orchestrator.Deps{
		Loader:    a.archive(),
		Runner:    a.executor(settings, callsPerSecond),
		Extractor: &checkpoint.Extractor{Store: cpStore},
		Sinks:     sinks,
	}, nil
}

func printRunHeader(flags runFlags, kind string, fork *config.ForkConfig) {
	fmt.Fprintln(stdout, "Fork & Compare")
	fmt.Fprintf(stdout, "  Conversation:  %s\n", flags.Conversation)
	fmt.Fprintf(stdout, "  Fork at step:  %d\n", flags.ForkAt)
	fmt.Fprintf(stdout, "  Orchestrator:  %s\n", kind)
	fmt.Fprintf(stdout, "  Branches:      %d\n\n", len(fork.Branches))

	fmt.Fprintf(stdout, "  %-20s  %-28s  %9s  %s\n", "NAME", "MODEL", "MAX TURNS", "INJECT")
	for _, b := range fork.Branches {
		inject := "-"
		if b.InjectMessage != "" {
			inject = b.InjectMessage
			if len([]rune(inject)) > 30 {
				inject = string([]rune(inject)[:30]) + "..."
			}
		}
		fmt.Fprintf(stdout, "  %-20s  %-28s  %9d  %s\n", b.Name, b.Model, b.MaxTurns, strings.ReplaceAll(inject, "\n", " "))
	}
	fmt.Fprintf(stdout, "\n  Settings: timeout=%ds, concurrency=%d\n\n", fork.Settings.TimeoutSeconds, fork.Settings.MaxConcurrency)
}
