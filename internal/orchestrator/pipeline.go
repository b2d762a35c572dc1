package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/retry"
)

// Compile-time interface check.
var _ Orchestrator = (*Pipeline)(nil)

// Sink persists a completed run.
type Sink interface {
	Save(ctx context.Context, result *model.ComparisonResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, result *model.ComparisonResult) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, result *model.ComparisonResult) error {
	return f(ctx, result)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	// Loader resolves conversation IDs. Required.
	Loader conversation.Loader
	// Runner executes branches. Required.
	Runner BranchRunner
	// Extractor cuts checkpoints. Nil means an Extractor without a store.
	Extractor *checkpoint.Extractor
	// Sinks receive the finished result in order. Optional.
	Sinks []Sink
	// NewRunID generates run identifiers. Defaults to uuid.NewString.
	NewRunID func() string
}

// Pipeline drives a run: checkpointing, executing, comparing, done. It
// delegates fan-out to a FanOut and progress reporting to a
// ProgressReporter. A Pipeline runs one request at a time.
type Pipeline struct {
	cfg      Config
	deps     Deps
	progress *ProgressReporter
	fanout   *FanOut

	mu      sync.Mutex
	state   State
	runID   string
	running bool
}

// NewPipeline creates a Pipeline wired with a FanOut and a ProgressReporter.
func NewPipeline(cfg Config, deps Deps) *Pipeline {
	if deps.Extractor == nil {
		deps.Extractor = &checkpoint.Extractor{}
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	p := &Pipeline{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		progress: NewProgressReporter(),
		state:    StatePending,
	}
	p.fanout = NewFanOut(deps.Runner, p.emitBranch)
	p.fanout.SetMaxConcurrency(cfg.MaxConcurrency)
	return p
}

// State returns the state of the current or most recent run.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress returns a channel that emits progress events.
func (p *Pipeline) Progress() <-chan ProgressEvent {
	return p.progress.Subscribe()
}

// Close shuts down the progress reporter. Callers should invoke this when the
// pipeline is no longer needed.
func (p *Pipeline) Close() {
	p.progress.Close()
}

// Run executes req. Branch failures are reported inside the result; an
// error is returned only for invalid requests, infrastructure failures and
// cancellation, always as a *RunError.
func (p *Pipeline) Run(ctx context.Context, req model.ReplayRequest) (*model.ComparisonResult, error) {
	runID, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer p.end()

	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	log := logging.Component("pipeline").With().Str("run_id", runID).Str("conversation", req.ConversationID).Logger()
	start := time.Now()

	p.transition(StateCheckpointing, "")
	cp, err := p.checkpoint(ctx, req)
	if err != nil {
		return nil, p.fail(err)
	}
	log.Info().Int("step", cp.Step).Int("branches", len(req.Branches)).Msg("checkpoint ready")

	p.transition(StateExecuting, "")
	results, err := p.fanout.Run(ctx, cp, req.Branches)
	if err != nil {
		kind := KindInfrastructure
		switch {
		case errors.Is(err, ErrCancelled):
			kind = KindCancelled
		case model.IsValidation(err):
			kind = KindInvalidRequest
		}
		return nil, p.fail(&RunError{Kind: kind, Step: "execute", Err: err})
	}

	p.transition(StateComparing, "")
	report, err := p.compare(ctx, results)
	if err != nil {
		return nil, p.fail(err)
	}

	result := &model.ComparisonResult{
		RunID:           runID,
		Request:         req,
		Checkpoint:      cp.Ref(),
		Branches:        report.Branches,
		TotalDurationMS: time.Since(start).Milliseconds(),
		Status:          report.Status,
		Summary:         report.Summary,
		CreatedAt:       time.Now().UTC(),
	}

	for _, sink := range p.deps.Sinks {
		if err := sink.Save(ctx, result); err != nil {
			return nil, p.fail(&RunError{Kind: KindInfrastructure, Step: "save", Err: err})
		}
	}

	p.transition(StateDone, string(report.Status))
	log.Info().
		Str("status", string(report.Status)).
		Int("successful", report.Summary.Successful).
		Int("failed", report.Summary.Failed).
		Int64("duration_ms", result.TotalDurationMS).
		Msg("run complete")
	return result, nil
}

// checkpoint validates the request, loads the conversation and extracts the
// checkpoint, retrying the local steps under the local tier.
func (p *Pipeline) checkpoint(ctx context.Context, req model.ReplayRequest) (*checkpoint.Checkpoint, error) {
	if err := req.Validate(); err != nil {
		return nil, &RunError{Kind: KindInvalidRequest, Step: "validate", Err: err}
	}

	var conv *conversation.Conversation
	err := retry.Do(ctx, p.cfg.LocalRetry, func(ctx context.Context) error {
		c, err := p.deps.Loader.Load(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		conv = c
		return nil
	}, isPermanentLocal, p.notify("load"))
	if err != nil {
		return nil, p.classify(ctx, "load", err)
	}

	var cp *checkpoint.Checkpoint
	err = retry.Do(ctx, p.cfg.LocalRetry, func(ctx context.Context) error {
		c, err := p.deps.Extractor.Extract(ctx, conv, req.ForkAtStep)
		if err != nil {
			return err
		}
		cp = c
		return nil
	}, isPermanentLocal, p.notify("checkpoint"))
	if err != nil {
		return nil, p.classify(ctx, "checkpoint", err)
	}
	return cp, nil
}

// compare runs the comparator under the compute tier. A comparator panic is
// an infrastructure failure.
func (p *Pipeline) compare(ctx context.Context, results []model.BranchResult) (*compare.Report, error) {
	var report *compare.Report
	err := retry.Do(ctx, p.cfg.ComputeRetry, func(context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("comparator panicked: %v", r)
			}
		}()
		rep, err := compare.Compare(results, p.cfg.Compare)
		if err != nil {
			return err
		}
		report = rep
		return nil
	}, func(err error) bool { return errors.Is(err, compare.ErrEmptyResultSet) }, p.notify("compare"))
	if err != nil {
		return nil, p.classify(ctx, "compare", err)
	}
	return report, nil
}

func isPermanentLocal(err error) bool {
	var ice *checkpoint.InvalidCheckpointError
	return errors.Is(err, conversation.ErrNotFound) ||
		errors.As(err, &ice) ||
		model.IsValidation(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classify wraps a step failure in a RunError of the right kind.
func (p *Pipeline) classify(ctx context.Context, step string, err error) error {
	var ice *checkpoint.InvalidCheckpointError
	switch {
	case ctx.Err() != nil:
		return &RunError{Kind: KindCancelled, Step: step, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	case errors.Is(err, conversation.ErrNotFound), errors.As(err, &ice), model.IsValidation(err):
		return &RunError{Kind: KindInvalidRequest, Step: step, Err: err}
	}
	return &RunError{Kind: KindInfrastructure, Step: step, Err: err}
}

func (p *Pipeline) notify(step string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		logging.Warn().Err(err).Str("step", step).Dur("backoff", wait).Msg("retrying step")
	}
}

func (p *Pipeline) begin() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return "", ErrBusy
	}
	p.running = true
	p.runID = p.deps.NewRunID()
	p.state = StatePending
	p.progress.Emit(ProgressEvent{RunID: p.runID, State: StatePending, Status: ProgressPending})
	return p.runID, nil
}

func (p *Pipeline) end() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// transition moves the run to next and reports it. Illegal transitions are
// programming errors.
func (p *Pipeline) transition(next State, msg string) {
	p.mu.Lock()
	if !p.state.CanTransition(next) {
		cur := p.state
		p.mu.Unlock()
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", cur, next))
	}
	p.state = next
	runID := p.runID
	p.mu.Unlock()

	status := ProgressWorking
	switch next {
	case StateDone:
		status = ProgressComplete
	case StateFailed:
		status = ProgressFailed
	}
	p.progress.Emit(ProgressEvent{RunID: runID, State: next, Status: status, Message: msg})
}

func (p *Pipeline) fail(err error) error {
	p.transition(StateFailed, err.Error())
	logging.Error().Err(err).Str("kind", string(KindOf(err))).Msg("run failed")
	return err
}

// emitBranch stamps branch events from the FanOut with the run context.
func (p *Pipeline) emitBranch(ev ProgressEvent) {
	p.mu.Lock()
	ev.RunID = p.runID
	ev.State = p.state
	p.mu.Unlock()
	p.progress.Emit(ev)
}
