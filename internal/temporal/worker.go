package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/dusk-indust/replaylab/internal/logging"
)

// Registrar is the part of a worker that accepts registrations. Both
// worker.Worker and the test environment satisfy it.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds the workflow and acts to r.
func Register(r Registrar, acts *Activities) {
	r.RegisterWorkflowWithOptions(ForkCompareWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(acts)
}

// NewWorker creates a worker on TaskQueue with everything registered.
func NewWorker(c client.Client, acts *Activities, opts worker.Options) worker.Worker {
	w := worker.New(c, TaskQueue, opts)
	Register(w, acts)
	return w
}

// RunWorker polls until ctx is cancelled, then stops the worker and waits
// for in-flight tasks to finish.
func RunWorker(ctx context.Context, c client.Client, acts *Activities, opts worker.Options) error {
	w := NewWorker(c, acts, opts)
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	log := logging.Component("worker")
	log.Info().Str("task_queue", TaskQueue).Msg("worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down worker")
	w.Stop()
	return nil
}
