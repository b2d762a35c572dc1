// Package orchestrator forks a recorded conversation into parallel branches
// and drives a run from checkpoint to comparison.
package orchestrator

import (
	"context"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/model"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StatePending       State = "pending"
	StateCheckpointing State = "checkpointing"
	StateExecuting     State = "executing"
	StateComparing     State = "comparing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// transitions lists the states reachable from each state. Branch failures
// never move a run to failed; only request validation, checkpointing,
// cancellation and comparison or sink failures do.
var transitions = map[State][]State{
	StatePending:       {StateCheckpointing},
	StateCheckpointing: {StateExecuting, StateFailed},
	StateExecuting:     {StateComparing, StateFailed},
	StateComparing:     {StateDone, StateFailed},
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ProgressEvent is emitted while a run advances. Branch is empty for
// run-level state changes.
type ProgressEvent struct {
	RunID   string
	State   State
	Branch  string
	Status  ProgressStatus
	Message string
}

// ProgressStatus is the state of one branch or of the run.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// BranchRunner executes a single branch. Implementations must always return
// a result and never panic past their boundary.
type BranchRunner interface {
	Execute(ctx context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult
}

// Orchestrator runs fork/compare requests.
type Orchestrator interface {
	// Run executes req end to end.
	Run(ctx context.Context, req model.ReplayRequest) (*model.ComparisonResult, error)

	// State returns the current lifecycle state.
	State() State

	// Progress returns a channel that emits progress events.
	Progress() <-chan ProgressEvent
}
