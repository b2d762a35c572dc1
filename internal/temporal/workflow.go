package temporal

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

// WorkflowName is the registered name of ForkCompareWorkflow.
const WorkflowName = "ForkCompareWorkflow"

// ProgressQuery returns a Progress snapshot of a running workflow.
const ProgressQuery = "progress"

// Progress is the queryable state of a ForkCompareWorkflow.
type Progress struct {
	State    orchestrator.State                     `json:"state"`
	Branches map[string]orchestrator.ProgressStatus `json:"branches"`
}

// ForkCompareWorkflow loads a conversation, checkpoints it, runs one
// activity per branch in parallel and compares the results. The workflow ID
// becomes the run ID.
func ForkCompareWorkflow(ctx workflow.Context, req model.ReplayRequest) (*model.ComparisonResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	start := workflow.Now(ctx)

	progress := Progress{State: orchestrator.StatePending, Branches: map[string]orchestrator.ProgressStatus{}}
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (Progress, error) {
		return progress, nil
	}); err != nil {
		return nil, err
	}
	fail := func(err error) (*model.ComparisonResult, error) {
		progress.State = orchestrator.StateFailed
		return nil, err
	}

	progress.State = orchestrator.StateCheckpointing
	if err := req.Validate(); err != nil {
		return fail(temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err))
	}

	var a *Activities
	localCtx := workflow.WithActivityOptions(ctx, localActivityOptions())

	var conv *conversation.Conversation
	if err := workflow.ExecuteActivity(localCtx, a.LoadConversation, req.ConversationID).Get(ctx, &conv); err != nil {
		return fail(err)
	}
	var cp *checkpoint.Checkpoint
	if err := workflow.ExecuteActivity(localCtx, a.CreateCheckpoint, CheckpointInput{Conversation: conv, Step: req.ForkAtStep}).Get(ctx, &cp); err != nil {
		return fail(err)
	}
	logger.Info("checkpoint ready", "step", cp.Step, "branches", len(req.Branches))

	progress.State = orchestrator.StateExecuting
	branchCtx := workflow.WithActivityOptions(ctx, branchActivityOptions())
	futures := make([]workflow.Future, len(req.Branches))
	for i, cfg := range req.Branches {
		progress.Branches[cfg.Name] = orchestrator.ProgressWorking
		futures[i] = workflow.ExecuteActivity(branchCtx, a.ExecuteBranch, BranchInput{Checkpoint: cp, Config: cfg})
	}

	// Futures are drained in request order, which is the result order.
	results := make([]model.BranchResult, len(req.Branches))
	for i, f := range futures {
		cfg := req.Branches[i]
		if err := f.Get(ctx, &results[i]); err != nil {
			if temporal.IsCanceledError(err) {
				return fail(err)
			}
			logger.Warn("branch activity failed", "branch", cfg.Name, "error", err)
			results[i] = model.BranchResult{
				BranchName: cfg.Name,
				Config:     cfg,
				Status:     model.StatusError,
				Messages:   []conversation.Message{},
				Error:      err.Error(),
				ErrorKind:  "internal",
			}
		}
		if results[i].Succeeded() {
			progress.Branches[cfg.Name] = orchestrator.ProgressComplete
		} else {
			progress.Branches[cfg.Name] = orchestrator.ProgressFailed
		}
	}

	progress.State = orchestrator.StateComparing
	computeCtx := workflow.WithActivityOptions(ctx, computeActivityOptions())
	var report compare.Report
	if err := workflow.ExecuteActivity(computeCtx, a.CompareResults, results).Get(ctx, &report); err != nil {
		return fail(err)
	}

	now := workflow.Now(ctx)
	result := &model.ComparisonResult{
		RunID:           info.WorkflowExecution.ID,
		Request:         req,
		Checkpoint:      cp.Ref(),
		Branches:        report.Branches,
		TotalDurationMS: now.Sub(start).Milliseconds(),
		Status:          report.Status,
		Summary:         report.Summary,
		CreatedAt:       now.UTC(),
	}
	if err := workflow.ExecuteActivity(computeCtx, a.SaveResult, result).Get(ctx, nil); err != nil {
		return fail(err)
	}

	progress.State = orchestrator.StateDone
	logger.Info("run complete", "status", string(report.Status))
	return result, nil
}
