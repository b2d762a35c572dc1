package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/replaylab/internal/config"
	"github.com/dusk-indust/replaylab/internal/logging"
)

// CLI flags parsed before the subcommand.
type cliFlags struct {
	ProjectDir string
	LogLevel   string
	Verbose    bool
	Version    bool
}

// version is set by goreleaser at build time.
var version = "dev"

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

const usage = `usage: replaylab [flags] <command> [args]

Commands:
  list        list archived conversations
  inspect     show a conversation's steps to pick a fork point
  run         fork a conversation and compare the branches
  compare     show the report of a completed run
  status      show execution capability and recent runs
  worker      run a Temporal worker for durable runs
  serve-mcp   serve the replay tools over MCP
  init        write starter config files into the project

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("replaylab", flag.ContinueOnError)
	fs.StringVar(&flags.ProjectDir, "project-dir", ".", "directory holding replaylab.yml")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Fprintln(stdout, version)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(flags.ProjectDir)
	if err != nil {
		return err
	}
	switch {
	case flags.Verbose:
		logging.SetLevel("debug")
	case flags.LogLevel != "":
		logging.SetLevel(flags.LogLevel)
	case cfg.LogLevel != "":
		logging.SetLevel(cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(flags.ProjectDir, cfg)
	defer a.close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "list":
		return runList(ctx, a, cmdArgs)
	case "inspect":
		return runInspect(ctx, a, cmdArgs)
	case "run":
		return runFork(ctx, a, cmdArgs)
	case "compare":
		return runCompare(ctx, a, cmdArgs)
	case "status":
		return runStatus(ctx, a, cmdArgs)
	case "worker":
		return runWorker(ctx, a, cmdArgs)
	case "serve-mcp":
		return runServeMCP(ctx, a, cmdArgs)
	case "init":
		return runInit(flags.ProjectDir, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q (run 'replaylab -h' for usage)", cmd)
	}
}

// parseInterspersed parses fs over args, allowing flags after positional
// arguments, and returns the positional arguments in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
