package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/client"
	"golang.org/x/time/rate"

	"github.com/dusk-indust/replaylab/internal/agent"
	anthropicagent "github.com/dusk-indust/replaylab/internal/agent/anthropic"
	openaiagent "github.com/dusk-indust/replaylab/internal/agent/openai"
	"github.com/dusk-indust/replaylab/internal/branch"
	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/config"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/store"
	"github.com/dusk-indust/replaylab/internal/temporal"
)

// Checkpoint store kinds accepted by -checkpoint-store.
const (
	storeAuto   = "auto"
	storeSQLite = "sqlite"
	storeBolt   = "bolt"
	storeFile   = "file"
	storeNone   = "none"
)

// app holds the resources shared by subcommands. Everything is opened on
// first use and released by close.
type app struct {
	dir      string
	cfg      *config.ProjectConfig
	db       *store.SQLite
	bolt     *checkpoint.BoltStore
	temporal client.Client
}

func newApp(dir string, cfg *config.ProjectConfig) *app {
	return &app{dir: dir, cfg: cfg}
}

func (a *app) close() {
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.bolt != nil {
		if err := a.bolt.Close(); err != nil {
			logging.Warn().Err(err).Msg("close checkpoint store")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("close database")
		}
	}
}

// resolve makes a configured path relative to the project directory.
func (a *app) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.dir, p)
}

func (a *app) archive() *conversation.Archive {
	root := a.cfg.ArchiveDir
	if root == "" {
		root = conversation.DefaultArchivePath()
	}
	return conversation.NewArchive(root)
}

// outputDir picks the result directory: an explicit flag, then the fork
// config, then the project config, then the default.
func (a *app) outputDir(flagValue, settingsValue string) string {
	for _, dir := range []string{flagValue, settingsValue, a.cfg.OutputDir} {
		if dir != "" {
			return a.resolve(dir)
		}
	}
	return a.resolve(config.DefaultOutputDir)
}

// database opens the run database when one is configured. It returns nil
// without error otherwise.
func (a *app) database() (*store.SQLite, error) {
	if a.db != nil || a.cfg.DBPath == "" {
		return a.db, nil
	}
	db, err := store.Open(a.resolve(a.cfg.DBPath))
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// checkpointStore returns the store the extractor persists to.
func (a *app) checkpointStore(kind, outputDir string) (checkpoint.Store, error) {
	switch kind {
	case storeAuto:
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		if db != nil {
			return db, nil
		}
		return checkpoint.NewFileStore(filepath.Join(outputDir, "checkpoints")), nil
	case storeSQLite:
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		if db == nil {
			return nil, errors.New("checkpoint store sqlite needs dbPath or REPLAYLAB_DB")
		}
		return db, nil
	case storeBolt:
		if a.bolt == nil {
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", outputDir, err)
			}
			b, err := checkpoint.OpenBoltStore(filepath.Join(outputDir, "checkpoints.bolt"))
			if err != nil {
				return nil, err
			}
			a.bolt = b
		}
		return a.bolt, nil
	case storeFile:
		return checkpoint.NewFileStore(filepath.Join(outputDir, "checkpoints")), nil
	case storeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint store %q", kind)
	}
}

// sinks returns where completed runs are written.
func (a *app) sinks(outputDir string, saveFiles bool) ([]orchestrator.Sink, error) {
	var sinks []orchestrator.Sink
	if saveFiles {
		sinks = append(sinks, export.NewWriter(outputDir))
	}
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	if db != nil {
		sinks = append(sinks, store.RunSink{DB: db})
	}
	return sinks, nil
}

// registry routes model names to provider clients. Clients are built on
// first use, so a missing key only fails the branches that need it.
func (a *app) registry() *agent.Registry {
	reg := agent.NewRegistry(agent.ProviderAnthropic)
	reg.Register(agent.ProviderAnthropic, func() (agent.Client, error) {
		c, err := anthropicagent.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropicagent.Options{})
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	reg.Register(agent.ProviderOpenAI, func() (agent.Client, error) {
		c, err := openaiagent.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), a.cfg.OpenAIBaseURL, openaiagent.Options{})
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	return reg
}

// executor builds the branch runner. callsPerSecond of zero disables the
// shared limiter.
func (a *app) executor(settings config.Settings, callsPerSecond float64) *branch.Executor {
	opts := branch.Options{
		BranchTimeout: time.Duration(settings.TimeoutSeconds) * time.Second,
	}
	if callsPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1)
	}
	return branch.NewExecutor(a.registry(), opts)
}

// dialTemporal connects to the configured frontend once.
func (a *app) dialTemporal() (client.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := temporal.Dial(a.cfg.TemporalAddress, a.cfg.TemporalNamespace)
	if err != nil {
		return nil, err
	}
	a.temporal = c
	return c, nil
}

// lookupRun reads a run from the database, falling back to result files.
func (a *app) lookupRun(ctx context.Context, outputDir, runID string) (*model.ComparisonResult, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	if db != nil {
		res, err := db.GetRun(ctx, runID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, store.ErrRunNotFound) {
			return nil, err
		}
	}
	return export.NewWriter(outputDir).GetRun(ctx, runID)
}

// runReader adapts lookupRun to the MCP tools' RunReader.
type runReader struct {
	app       *app
	outputDir string
}

func (r runReader) GetRun(ctx context.Context, runID string) (*model.ComparisonResult, error) {
	return r.app.lookupRun(ctx, r.outputDir, runID)
}
