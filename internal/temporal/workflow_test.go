package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
	"github.com/dusk-indust/replaylab/internal/retry"
)

type loaderFunc func(ctx context.Context, id string) (*conversation.Conversation, error)

func (f loaderFunc) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	return f(ctx, id)
}

type runnerFunc func(ctx context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult

func (f runnerFunc) Execute(ctx context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
	return f(ctx, cp, cfg)
}

func tenMessages() *conversation.Conversation {
	conv := &conversation.Conversation{SessionID: "conv-10"}
	for i := 0; i < 10; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		conv.Messages = append(conv.Messages, conversation.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return conv
}

func staticLoader() conversation.Loader {
	return loaderFunc(func(_ context.Context, id string) (*conversation.Conversation, error) {
		if id != "conv-10" {
			return nil, conversation.ErrNotFound
		}
		return tenMessages(), nil
	})
}

func echoRunner() orchestrator.BranchRunner {
	return runnerFunc(func(_ context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		if cfg.Name == "broken" {
			return model.BranchResult{Status: model.StatusError, Error: "rate limited", ErrorKind: "rate_limited"}
		}
		return model.BranchResult{
			Status: model.StatusSuccess,
			Messages: []conversation.Message{
				{Role: conversation.RoleUser, Content: cfg.InjectMessage},
				{Role: conversation.RoleAssistant, Content: fmt.Sprintf("%s after %d messages", cfg.Name, len(cp.Messages))},
			},
			TokenUsage: &model.TokenUsage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
		}
	})
}

func branches(names ...string) []model.BranchConfig {
	out := make([]model.BranchConfig, len(names))
	for i, n := range names {
		out[i] = model.BranchConfig{Name: n, InjectMessage: "try " + n, Model: "claude-sonnet-4-5", MaxTurns: 1}
	}
	return out
}

type memorySink struct {
	mu    sync.Mutex
	saved []*model.ComparisonResult
}

func (m *memorySink) Save(_ context.Context, r *model.ComparisonResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

func newEnv(t *testing.T, acts *Activities) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	Register(env, acts)
	return env
}

func TestForkCompareWorkflow_EndToEnd(t *testing.T) {
	sink := &memorySink{}
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: echoRunner(), Sinks: []orchestrator.Sink{sink}})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{
		ConversationID: "conv-10",
		ForkAtStep:     5,
		Branches:       branches("a", "b"),
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res *model.ComparisonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, 5, res.Checkpoint.Step)
	require.Len(t, res.Branches, 2)
	assert.Equal(t, "a", res.Branches[0].BranchName)
	assert.Equal(t, "b after 5 messages", res.Branches[1].LastOutput())
	assert.Equal(t, 2, res.Summary.Successful)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, sink.saved, 1)
	assert.Equal(t, res.RunID, sink.saved[0].RunID)
}

func TestForkCompareWorkflow_FailedBranchIsData(t *testing.T) {
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: echoRunner()})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{
		ConversationID: "conv-10",
		ForkAtStep:     2,
		Branches:       branches("ok", "broken", "also-ok"),
	})
	require.NoError(t, env.GetWorkflowError())

	var res *model.ComparisonResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, model.RunPartial, res.Status)
	assert.Equal(t, model.StatusError, res.Branches[1].Status)
	assert.Equal(t, "rate limited", res.Branches[1].Error)
	assert.Equal(t, "also-ok", res.Branches[2].BranchName)
}

func TestForkCompareWorkflow_ConversationNotFound(t *testing.T) {
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: echoRunner()})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{ConversationID: "nope", Branches: branches("a")})
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Equal(t, ErrTypeConversationNotFound, errorType(err))
	assert.Equal(t, orchestrator.KindInvalidRequest, runErrorKind(context.Background(), err))
}

func TestForkCompareWorkflow_InvalidStep(t *testing.T) {
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: echoRunner()})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 42, Branches: branches("a")})
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Equal(t, ErrTypeInvalidCheckpoint, errorType(err))
}

func TestForkCompareWorkflow_DuplicateBranches(t *testing.T) {
	var calls int
	runner := runnerFunc(func(context.Context, *checkpoint.Checkpoint, model.BranchConfig) model.BranchResult {
		calls++
		return model.BranchResult{Status: model.StatusSuccess}
	})
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: runner})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 1, Branches: branches("x", "x")})
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Equal(t, ErrTypeInvalidRequest, errorType(err))
	assert.Zero(t, calls)
}

func TestForkCompareWorkflow_TransientLoadRetried(t *testing.T) {
	var loads int
	loader := loaderFunc(func(context.Context, string) (*conversation.Conversation, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("archive busy")
		}
		return tenMessages(), nil
	})
	env := newEnv(t, &Activities{Loader: loader, Runner: echoRunner()})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 1, Branches: branches("a")})
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 2, loads)
}

func TestForkCompareWorkflow_ProgressQuery(t *testing.T) {
	env := newEnv(t, &Activities{Loader: staticLoader(), Runner: echoRunner()})

	env.ExecuteWorkflow(ForkCompareWorkflow, model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 3, Branches: branches("a", "broken")})
	require.NoError(t, env.GetWorkflowError())

	val, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var p Progress
	require.NoError(t, val.Get(&p))
	assert.Equal(t, orchestrator.StateDone, p.State)
	assert.Equal(t, orchestrator.ProgressComplete, p.Branches["a"])
	assert.Equal(t, orchestrator.ProgressFailed, p.Branches["broken"])
}

func TestRetryPolicy(t *testing.T) {
	assert.Nil(t, RetryPolicy(retry.Policy{}))

	p := RetryPolicy(retry.API(), ErrTypeInvalidRequest)
	require.NotNil(t, p)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, 2.0, p.BackoffCoefficient)
	assert.Equal(t, 60*time.Second, p.MaximumInterval)
	assert.EqualValues(t, 5, p.MaximumAttempts)
	assert.Equal(t, []string{ErrTypeInvalidRequest}, p.NonRetryableErrorTypes)

	local := RetryPolicy(retry.Local())
	assert.Equal(t, 100*time.Millisecond, local.InitialInterval)
	assert.Equal(t, 1.5, local.BackoffCoefficient)
	assert.EqualValues(t, 3, local.MaximumAttempts)
}

func TestErrorType(t *testing.T) {
	err := temporal.NewNonRetryableApplicationError("gone", ErrTypeConversationNotFound, conversation.ErrNotFound)
	assert.Equal(t, ErrTypeConversationNotFound, errorType(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "", errorType(errors.New("plain")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, orchestrator.KindCancelled, runErrorKind(ctx, err))
	assert.Equal(t, orchestrator.KindInfrastructure, runErrorKind(context.Background(), errors.New("boom")))
}
