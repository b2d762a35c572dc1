package status

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/replaylab/internal/agent"
	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/store"
)

type detectorFunc func(ctx context.Context) (orchestrator.Environment, error)

func (f detectorFunc) Detect(ctx context.Context) (orchestrator.Environment, error) { return f(ctx) }

type runListerFunc func(ctx context.Context, f store.RunFilter) ([]store.RunSummary, error)

func (f runListerFunc) ListRuns(ctx context.Context, filter store.RunFilter) ([]store.RunSummary, error) {
	return f(ctx, filter)
}

type resultListerFunc func() ([]export.ResultFile, error)

func (f resultListerFunc) List() ([]export.ResultFile, error) { return f() }

func localEnv() detectorFunc {
	return func(context.Context) (orchestrator.Environment, error) {
		return orchestrator.Environment{
			Capability:    orchestrator.CapLocal,
			Providers:     []agent.Provider{agent.ProviderAnthropic, agent.ProviderOpenAI},
			TemporalError: "connection refused",
		}, nil
	}
}

func TestCollect_FromDatabase(t *testing.T) {
	var gotLimit int
	runs := runListerFunc(func(_ context.Context, f store.RunFilter) ([]store.RunSummary, error) {
		gotLimit = f.Limit
		return []store.RunSummary{{
			RunID:           "run-1",
			ConversationID:  "sess-1",
			ForkAtStep:      4,
			Status:          model.RunPartial,
			BranchCount:     3,
			Successful:      2,
			TotalDurationMS: 1500,
			CreatedAt:       time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		}}, nil
	})

	r, err := Collect(context.Background(), Sources{Detector: localEnv(), Runs: runs})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, gotLimit)
	assert.Equal(t, orchestrator.CapLocal, r.Environment.Capability)
	require.Len(t, r.Runs, 1)

	var buf bytes.Buffer
	Print(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Capability: local")
	assert.Contains(t, out, "Providers:  anthropic, openai")
	assert.Contains(t, out, "Temporal:   unreachable (connection refused)")
	assert.Contains(t, out, "-> run-1  sess-1 @ 4  [partial]  2/3 ok  1500ms  2026-03-01 12:30")
}

func TestCollect_FromResultFiles(t *testing.T) {
	files := resultListerFunc(func() ([]export.ResultFile, error) {
		return []export.ResultFile{
			{RunID: "b", Path: "/r/result-b.json"},
			{RunID: "a", Path: "/r/result-a.json"},
		}, nil
	})

	r, err := Collect(context.Background(), Sources{Detector: localEnv(), Results: files, Limit: 1})
	require.NoError(t, err)
	require.Len(t, r.ResultFiles, 1)
	assert.Equal(t, "b", r.ResultFiles[0].RunID)
}

func TestCollect_NothingRecorded(t *testing.T) {
	none := detectorFunc(func(context.Context) (orchestrator.Environment, error) {
		return orchestrator.Environment{Capability: orchestrator.CapNone}, nil
	})
	r, err := Collect(context.Background(), Sources{Detector: none})
	require.NoError(t, err)

	var buf bytes.Buffer
	Print(&buf, r)
	assert.Contains(t, buf.String(), "Providers:  none")
	assert.Contains(t, buf.String(), "Temporal:   not configured")
	assert.Contains(t, buf.String(), "No runs recorded.")
}

func TestCollect_Errors(t *testing.T) {
	failing := detectorFunc(func(context.Context) (orchestrator.Environment, error) {
		return orchestrator.Environment{}, context.Canceled
	})
	_, err := Collect(context.Background(), Sources{Detector: failing})
	assert.ErrorIs(t, err, context.Canceled)

	broken := runListerFunc(func(context.Context, store.RunFilter) ([]store.RunSummary, error) {
		return nil, errors.New("disk I/O error")
	})
	_, err = Collect(context.Background(), Sources{Detector: localEnv(), Runs: broken})
	assert.ErrorContains(t, err, "list runs")
}
