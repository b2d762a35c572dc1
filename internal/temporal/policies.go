// Package temporal runs fork/compare requests as durable Temporal workflows.
package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/dusk-indust/replaylab/internal/retry"
)

// TaskQueue is the queue shared by the workflow and its activities.
const TaskQueue = "fork-compare-queue"

// Application error types that the workflow never retries.
const (
	ErrTypeInvalidRequest       = "InvalidRequest"
	ErrTypeConversationNotFound = "ConversationNotFound"
	ErrTypeInvalidCheckpoint    = "InvalidCheckpoint"
	ErrTypeEmptyResultSet       = "EmptyResultSet"
)

// Activity timeouts per tier. Branch activities leave the executor's own
// 300s deadline room to report a timeout result.
const (
	LocalStartToClose    = 30 * time.Second
	LocalScheduleToClose = time.Minute

	BranchStartToClose    = 6 * time.Minute
	BranchScheduleToClose = 15 * time.Minute

	ComputeStartToClose    = 30 * time.Second
	ComputeScheduleToClose = time.Minute
)

// RetryPolicy converts a retry tier into a Temporal retry policy. A zero
// policy yields nil, which leaves the server default in place.
func RetryPolicy(p retry.Policy, nonRetryable ...string) *temporal.RetryPolicy {
	if p.IsZero() {
		return nil
	}
	policy := &temporal.RetryPolicy{
		InitialInterval:        p.InitialInterval,
		BackoffCoefficient:     p.Multiplier,
		MaximumInterval:        p.MaxInterval,
		NonRetryableErrorTypes: nonRetryable,
	}
	if p.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(p.MaxAttempts)
	}
	return policy
}

// localActivityOptions cover loading and checkpointing.
func localActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout:    LocalStartToClose,
		ScheduleToCloseTimeout: LocalScheduleToClose,
		RetryPolicy: RetryPolicy(retry.Local(),
			ErrTypeInvalidRequest, ErrTypeConversationNotFound, ErrTypeInvalidCheckpoint),
	}
}

// branchActivityOptions cover one branch. The executor already retries SDK
// calls, so these retries only recover lost or crashed activity attempts.
func branchActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout:    BranchStartToClose,
		ScheduleToCloseTimeout: BranchScheduleToClose,
		RetryPolicy:            RetryPolicy(retry.API(), ErrTypeInvalidRequest),
	}
}

// computeActivityOptions cover comparison and result persistence.
func computeActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout:    ComputeStartToClose,
		ScheduleToCloseTimeout: ComputeScheduleToClose,
		RetryPolicy:            RetryPolicy(retry.Compute(), ErrTypeEmptyResultSet),
	}
}
