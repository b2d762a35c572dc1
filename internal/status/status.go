// Package status gathers what `replaylab status` reports: the execution
// capability of the environment and the most recent recorded runs.
package status

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/store"
)

// DefaultLimit is the number of runs shown when Sources.Limit is zero.
const DefaultLimit = 10

// RunLister lists stored runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, f store.RunFilter) ([]store.RunSummary, error)
}

// ResultLister lists result files, newest first.
type ResultLister interface {
	List() ([]export.ResultFile, error)
}

// Sources are the inputs of Collect. Runs and Results are optional.
type Sources struct {
	Detector orchestrator.Detector
	Runs     RunLister
	Results  ResultLister
	Limit    int
}

// Report is the collected status.
type Report struct {
	Environment orchestrator.Environment
	Runs        []store.RunSummary
	ResultFiles []export.ResultFile
}

// Collect detects the environment and lists recent runs. Runs come from the
// database when one is configured and from result files otherwise.
func Collect(ctx context.Context, src Sources) (Report, error) {
	var r Report
	if src.Detector != nil {
		env, err := src.Detector.Detect(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("detect environment: %w", err)
		}
		r.Environment = env
	}

	limit := src.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	switch {
	case src.Runs != nil:
		runs, err := src.Runs.ListRuns(ctx, store.RunFilter{Limit: limit})
		if err != nil {
			return Report{}, fmt.Errorf("list runs: %w", err)
		}
		r.Runs = runs
	case src.Results != nil:
		files, err := src.Results.List()
		if err != nil {
			return Report{}, fmt.Errorf("list result files: %w", err)
		}
		if len(files) > limit {
			files = files[:limit]
		}
		r.ResultFiles = files
	}
	return r, nil
}

// Print writes r in the CLI's plain text layout.
func Print(w io.Writer, r Report) {
	env := r.Environment
	fmt.Fprintf(w, "Capability: %s\n", env.Capability)

	if len(env.Providers) == 0 {
		fmt.Fprintln(w, "Providers:  none (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	} else {
		names := make([]string, len(env.Providers))
		for i, p := range env.Providers {
			names[i] = string(p)
		}
		fmt.Fprintf(w, "Providers:  %s\n", strings.Join(names, ", "))
	}

	switch {
	case env.Temporal:
		fmt.Fprintln(w, "Temporal:   reachable")
	case env.TemporalError != "":
		fmt.Fprintf(w, "Temporal:   unreachable (%s)\n", env.TemporalError)
	default:
		fmt.Fprintln(w, "Temporal:   not configured")
	}
	fmt.Fprintln(w)

	if len(r.Runs) == 0 && len(r.ResultFiles) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		fmt.Fprintln(w, "Run 'replaylab run -conversation <id> -fork-at <n> -config fork.yaml' to start one.")
		return
	}

	fmt.Fprintln(w, "Recent runs:")
	for i, run := range r.Runs {
		marker := "  "
		if i == 0 {
			marker = "->"
		}
		fmt.Fprintf(w, "  %s %s  %s @ %d  [%s]  %d/%d ok  %dms  %s\n",
			marker, run.RunID, run.ConversationID, run.ForkAtStep, run.Status,
			run.Successful, run.BranchCount, run.TotalDurationMS,
			run.CreatedAt.Format("2006-01-02 15:04"))
	}
	for i, f := range r.ResultFiles {
		marker := "  "
		if i == 0 {
			marker = "->"
		}
		fmt.Fprintf(w, "  %s %s  %s  %s\n", marker, f.RunID, f.ModTime.Format("2006-01-02 15:04"), f.Path)
	}
}
