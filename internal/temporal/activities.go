package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

// Activities holds the dependencies of the fork/compare activities. Register
// a pointer to it with a worker; the workflow refers to its methods by name.
type Activities struct {
	Loader    conversation.Loader
	Extractor *checkpoint.Extractor
	Runner    orchestrator.BranchRunner
	Compare   compare.Options
	Sinks     []orchestrator.Sink
}

// CheckpointInput is the argument of CreateCheckpoint.
type CheckpointInput struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Step         int                        `json:"step"`
}

// BranchInput is the argument of ExecuteBranch.
type BranchInput struct {
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Config     model.BranchConfig     `json:"config"`
}

// LoadConversation reads a conversation from the archive.
func (a *Activities) LoadConversation(ctx context.Context, sessionID string) (*conversation.Conversation, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("loading conversation", "session_id", sessionID)

	conv, err := a.Loader.Load(ctx, sessionID)
	if errors.Is(err, conversation.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConversationNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("conversation loaded", "messages", conv.StepCount())
	return conv, nil
}

// CreateCheckpoint extracts and persists the checkpoint.
func (a *Activities) CreateCheckpoint(ctx context.Context, in CheckpointInput) (*checkpoint.Checkpoint, error) {
	x := a.Extractor
	if x == nil {
		x = &checkpoint.Extractor{}
	}
	cp, err := x.Extract(ctx, in.Conversation, in.Step)
	var ice *checkpoint.InvalidCheckpointError
	if errors.As(err, &ice) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidCheckpoint, err)
	}
	return cp, err
}

// ExecuteBranch runs one branch. Branch failures are part of the result, so
// the activity itself only fails when the worker does.
func (a *Activities) ExecuteBranch(ctx context.Context, in BranchInput) (model.BranchResult, error) {
	activity.GetLogger(ctx).Info("executing branch", "branch", in.Config.Name, "model", in.Config.Model)
	res := a.Runner.Execute(ctx, in.Checkpoint, in.Config)
	res.BranchName = in.Config.Name
	res.Config = in.Config
	if res.Messages == nil {
		res.Messages = []conversation.Message{}
	}
	return res, nil
}

// CompareResults builds the comparison report.
func (a *Activities) CompareResults(ctx context.Context, results []model.BranchResult) (*compare.Report, error) {
	rep, err := compare.Compare(results, a.Compare)
	if errors.Is(err, compare.ErrEmptyResultSet) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeEmptyResultSet, err)
	}
	return rep, err
}

// SaveResult hands the finished run to every sink.
func (a *Activities) SaveResult(ctx context.Context, res *model.ComparisonResult) error {
	for _, s := range a.Sinks {
		if err := s.Save(ctx, res); err != nil {
			return err
		}
	}
	return nil
}
