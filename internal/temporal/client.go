package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

// Defaults for Dial.
const (
	DefaultAddress   = "localhost:7233"
	DefaultNamespace = "default"
)

// Dial connects to a Temporal frontend. Empty arguments use the defaults.
func Dial(address, namespace string) (client.Client, error) {
	if address == "" {
		address = DefaultAddress
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
		Logger:    NewLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", address, err)
	}
	return c, nil
}

// Probe returns a detector probe that checks the frontend's health.
func Probe(c client.Client) orchestrator.ProbeFunc {
	return func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}
}

// Compile-time interface check.
var _ orchestrator.Orchestrator = (*Orchestrator)(nil)

// Orchestrator runs requests as ForkCompareWorkflow executions. While a run
// is in flight it polls the workflow's progress query and republishes
// changes as progress events.
type Orchestrator struct {
	client       client.Client
	pollInterval time.Duration
	progress     *orchestrator.ProgressReporter

	mu    sync.Mutex
	state orchestrator.State
}

// NewOrchestrator creates an Orchestrator using c.
func NewOrchestrator(c client.Client) *Orchestrator {
	return &Orchestrator{
		client:       c,
		pollInterval: 500 * time.Millisecond,
		progress:     orchestrator.NewProgressReporter(),
		state:        orchestrator.StatePending,
	}
}

// Start begins a workflow execution and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, req model.ReplayRequest) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:                    "fork-compare-" + uuid.NewString(),
		TaskQueue:             TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := o.client.ExecuteWorkflow(ctx, opts, WorkflowName, req)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	return run, nil
}

// Run starts a workflow and waits for its result.
func (o *Orchestrator) Run(ctx context.Context, req model.ReplayRequest) (*model.ComparisonResult, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return nil, &orchestrator.RunError{Kind: orchestrator.KindInfrastructure, Step: "start", Err: err}
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.poll(pollCtx, run.GetID(), run.GetRunID())
	}()

	var res *model.ComparisonResult
	err = run.Get(ctx, &res)
	stopPolling()
	wg.Wait()

	if err != nil {
		o.setState(run.GetID(), orchestrator.StateFailed)
		return nil, &orchestrator.RunError{Kind: runErrorKind(ctx, err), Step: "workflow", Err: err}
	}
	o.setState(run.GetID(), orchestrator.StateDone)
	return res, nil
}

// State returns the last observed workflow state.
func (o *Orchestrator) State() orchestrator.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Progress returns a channel that emits progress events.
func (o *Orchestrator) Progress() <-chan orchestrator.ProgressEvent {
	return o.progress.Subscribe()
}

// Close shuts down the progress reporter.
func (o *Orchestrator) Close() {
	o.progress.Close()
}

// QueryProgress reads the progress of a workflow.
func (o *Orchestrator) QueryProgress(ctx context.Context, workflowID, runID string) (Progress, error) {
	var p Progress
	val, err := o.client.QueryWorkflow(ctx, workflowID, runID, ProgressQuery)
	if err != nil {
		return p, err
	}
	err = val.Get(&p)
	return p, err
}

func (o *Orchestrator) poll(ctx context.Context, workflowID, runID string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	seen := map[string]orchestrator.ProgressStatus{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, err := o.QueryProgress(ctx, workflowID, runID)
		if err != nil {
			continue
		}
		o.setState(workflowID, p.State)
		for name, status := range p.Branches {
			if seen[name] == status {
				continue
			}
			seen[name] = status
			o.progress.Emit(orchestrator.ProgressEvent{RunID: workflowID, State: p.State, Branch: name, Status: status})
		}
	}
}

func (o *Orchestrator) setState(runID string, s orchestrator.State) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()
	if changed {
		o.progress.Emit(orchestrator.ProgressEvent{RunID: runID, State: s, Status: orchestrator.ProgressWorking})
	}
}

// runErrorKind maps a workflow failure onto the run error kinds.
func runErrorKind(ctx context.Context, err error) orchestrator.ErrorKind {
	if ctx.Err() != nil {
		return orchestrator.KindCancelled
	}
	switch errorType(err) {
	case ErrTypeInvalidRequest, ErrTypeConversationNotFound, ErrTypeInvalidCheckpoint:
		return orchestrator.KindInvalidRequest
	}
	return orchestrator.KindInfrastructure
}
