package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/retry"
)

// loaderFunc adapts a function to conversation.Loader.
type loaderFunc func(ctx context.Context, id string) (*conversation.Conversation, error)

func (f loaderFunc) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	return f(ctx, id)
}

func tenMessageConversation() *conversation.Conversation {
	conv := &conversation.Conversation{SessionID: "conv-10", ProjectPath: "/work/project"}
	for i := 0; i < 10; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		conv.Messages = append(conv.Messages, conversation.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return conv
}

func staticLoader(conv *conversation.Conversation) conversation.Loader {
	return loaderFunc(func(_ context.Context, id string) (*conversation.Conversation, error) {
		if id != conv.SessionID {
			return nil, conversation.ErrNotFound
		}
		return conv, nil
	})
}

func fastConfig() Config {
	fast := retry.Policy{InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond, MaxAttempts: 3}
	return Config{LocalRetry: fast, ComputeRetry: fast}
}

func drain(ch <-chan ProgressEvent) []ProgressEvent {
	var out []ProgressEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func runStates(events []ProgressEvent) []State {
	var out []State
	for _, ev := range events {
		if ev.Branch == "" {
			out = append(out, ev.State)
		}
	}
	return out
}

func TestPipeline_EndToEnd(t *testing.T) {
	conv := tenMessageConversation()
	runner := &mockRunner{execute: func(_ context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		assert.Len(t, cp.Messages, 5)
		return successResult(cfg, "reply from "+cfg.Name)
	}}

	var saved *model.ComparisonResult
	p := NewPipeline(fastConfig(), Deps{
		Loader:   staticLoader(conv),
		Runner:   runner,
		Sinks:    []Sink{SinkFunc(func(_ context.Context, r *model.ComparisonResult) error { saved = r; return nil })},
		NewRunID: func() string { return "run-1" },
	})
	defer p.Close()

	req := model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 5, Branches: makeBranches("a", "b")}
	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, 5, res.Checkpoint.Step)
	assert.Equal(t, 5, res.Checkpoint.MessageCount)
	assert.Equal(t, "conv-10", res.Checkpoint.ConversationID)
	require.Len(t, res.Branches, 2)
	assert.Equal(t, "a", res.Branches[0].BranchName)
	assert.Equal(t, "b", res.Branches[1].BranchName)
	assert.Equal(t, 2, res.Summary.TotalBranches)
	assert.Equal(t, 2, res.Summary.Successful)
	assert.Equal(t, 0, res.Summary.Failed)
	assert.Same(t, res, saved)
	assert.Len(t, conv.Messages, 10)

	assert.Equal(t, StateDone, p.State())
	assert.Equal(t,
		[]State{StatePending, StateCheckpointing, StateExecuting, StateComparing, StateDone},
		runStates(drain(p.Progress())))
}

func TestPipeline_PartialRunIsNotAnError(t *testing.T) {
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		if cfg.Name == "b" {
			return model.BranchResult{Status: model.StatusError, Error: "quota exceeded", ErrorKind: "quota"}
		}
		return successResult(cfg, "ok")
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: staticLoader(tenMessageConversation()), Runner: runner})
	defer p.Close()

	res, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 3, Branches: makeBranches("a", "b", "c")})
	require.NoError(t, err)
	assert.Equal(t, model.RunPartial, res.Status)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, StateDone, p.State())
}

func TestPipeline_AllBranchesFail(t *testing.T) {
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		return model.BranchResult{Status: model.StatusTimeout, Error: "execution timed out"}
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: staticLoader(tenMessageConversation()), Runner: runner})
	defer p.Close()

	res, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 2, Branches: makeBranches("a", "b")})
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, res.Status)
	assert.Equal(t, StateDone, p.State())
}

func TestPipeline_InvalidStep(t *testing.T) {
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		return successResult(cfg, "ok")
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: staticLoader(tenMessageConversation()), Runner: runner})
	defer p.Close()

	_, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 11, Branches: makeBranches("a")})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	var ice *checkpoint.InvalidCheckpointError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 11, ice.Step)
	assert.Zero(t, runner.calls.Load())
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t,
		[]State{StatePending, StateCheckpointing, StateFailed},
		runStates(drain(p.Progress())))
}

func TestPipeline_ConversationNotFound(t *testing.T) {
	var loads atomic.Int32
	loader := loaderFunc(func(context.Context, string) (*conversation.Conversation, error) {
		loads.Add(1)
		return nil, conversation.ErrNotFound
	})
	p := NewPipeline(fastConfig(), Deps{Loader: loader, Runner: &mockRunner{}})
	defer p.Close()

	_, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "missing", Branches: makeBranches("a")})
	require.ErrorIs(t, err, conversation.ErrNotFound)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.EqualValues(t, 1, loads.Load(), "not-found is not retried")
}

func TestPipeline_TransientLoadErrorRetried(t *testing.T) {
	conv := tenMessageConversation()
	var loads atomic.Int32
	loader := loaderFunc(func(context.Context, string) (*conversation.Conversation, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("disk hiccup")
		}
		return conv, nil
	})
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		return successResult(cfg, "ok")
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: loader, Runner: runner})
	defer p.Close()

	_, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 1, Branches: makeBranches("a")})
	require.NoError(t, err)
	assert.EqualValues(t, 2, loads.Load())
}

func TestPipeline_ValidationBeforeLoad(t *testing.T) {
	var loads atomic.Int32
	loader := loaderFunc(func(context.Context, string) (*conversation.Conversation, error) {
		loads.Add(1)
		return tenMessageConversation(), nil
	})
	p := NewPipeline(fastConfig(), Deps{Loader: loader, Runner: &mockRunner{}})
	defer p.Close()

	_, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", Branches: makeBranches("x", "x")})
	var dup *DuplicateBranchNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.Zero(t, loads.Load())
}

func TestPipeline_CheckpointPersistFailure(t *testing.T) {
	p := NewPipeline(fastConfig(), Deps{
		Loader:    staticLoader(tenMessageConversation()),
		Runner:    &mockRunner{},
		Extractor: &checkpoint.Extractor{Store: brokenStore{}},
	})
	defer p.Close()

	_, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 4, Branches: makeBranches("a")})
	var pe *checkpoint.PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindInfrastructure, KindOf(err))
}

func TestPipeline_SinkFailure(t *testing.T) {
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		return successResult(cfg, "ok")
	}}
	sinkErr := errors.New("disk full")
	p := NewPipeline(fastConfig(), Deps{
		Loader: staticLoader(tenMessageConversation()),
		Runner: runner,
		Sinks:  []Sink{SinkFunc(func(context.Context, *model.ComparisonResult) error { return sinkErr })},
	})
	defer p.Close()

	res, err := p.Run(context.Background(), model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 4, Branches: makeBranches("a")})
	assert.Nil(t, res)
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
}

func TestPipeline_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &mockRunner{execute: func(ctx context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		cancel()
		<-ctx.Done()
		return model.BranchResult{Status: model.StatusError, Error: "cancelled"}
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: staticLoader(tenMessageConversation()), Runner: runner})
	defer p.Close()

	res, err := p.Run(ctx, model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 4, Branches: makeBranches("a", "b")})
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, StateFailed, p.State())
}

func TestPipeline_Busy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	runner := &mockRunner{execute: func(_ context.Context, _ *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
		close(entered)
		<-release
		return successResult(cfg, "ok")
	}}
	p := NewPipeline(fastConfig(), Deps{Loader: staticLoader(tenMessageConversation()), Runner: runner})
	defer p.Close()

	req := model.ReplayRequest{ConversationID: "conv-10", ForkAtStep: 4, Branches: makeBranches("a")}
	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), req)
		errc <- err
	}()

	<-entered
	_, err := p.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-errc)
}

// brokenStore fails every write.
type brokenStore struct{}

func (brokenStore) Save(context.Context, *checkpoint.Checkpoint) error {
	return errors.New("read-only filesystem")
}

func (brokenStore) Load(context.Context, string, int) (*checkpoint.Checkpoint, error) {
	return nil, checkpoint.ErrNotFound
}

func (brokenStore) List(context.Context, string) ([]int, error) { return nil, nil }
