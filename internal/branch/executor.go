// Package branch executes one branch of a fork: it replays the checkpoint
// prefix plus the branch's injected message against a model and records the
// outcome as a model.BranchResult.
package branch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dusk-indust/replaylab/internal/agent"
	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/retry"
)

// DefaultBranchTimeout bounds a branch when Options.BranchTimeout is zero.
const DefaultBranchTimeout = 300 * time.Second

// TimeoutMessage is the error text of timed out branches.
const TimeoutMessage = "execution timed out"

// Error kinds recorded on results that did not come from a provider.
const (
	KindTimeout   = "timeout"
	KindCancelled = "cancelled"
	KindInternal  = "internal"
)

// Options configures an Executor. The zero value is usable.
type Options struct {
	// BranchTimeout bounds each Execute call independently of its siblings.
	BranchTimeout time.Duration
	// Retry governs each SDK call. The zero value means retry.API().
	Retry retry.Policy
	// Limiter, when set, is shared by every branch using this Executor and
	// admits one SDK call per token. Nil means branches are not throttled
	// against each other.
	Limiter *rate.Limiter
	// MaxTokens caps each completion. Zero uses the adapter default.
	MaxTokens int
}

// Executor runs branches against an agent.Client. It is safe for
// concurrent use.
type Executor struct {
	client agent.Client
	opts   Options
	tracer trace.Tracer
}

// NewExecutor creates an Executor.
func NewExecutor(client agent.Client, opts Options) *Executor {
	if opts.BranchTimeout <= 0 {
		opts.BranchTimeout = DefaultBranchTimeout
	}
	if opts.Retry.IsZero() {
		opts.Retry = retry.API()
	}
	return &Executor{
		client: client,
		opts:   opts,
		tracer: otel.Tracer("github.com/dusk-indust/replaylab/internal/branch"),
	}
}

// Execute runs cfg from cp and always returns a result: provider failures,
// timeouts and panics become error or timeout results rather than being
// returned or propagated.
func (e *Executor) Execute(ctx context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) (res model.BranchResult) {
	start := time.Now()
	log := logging.Component("branch").With().Str("branch", cfg.Name).Str("model", cfg.Model).Logger()

	step := -1
	if cp != nil {
		step = cp.Step
	}
	ctx, span := e.tracer.Start(ctx, "branch.execute", trace.WithAttributes(
		attribute.String("branch.name", cfg.Name),
		attribute.String("branch.model", cfg.Model),
		attribute.Int("branch.max_turns", cfg.MaxTurns),
		attribute.Int("checkpoint.step", step),
	))

	run := &branchRun{cfg: cfg}
	defer func() {
		if r := recover(); r != nil {
			res = run.result(model.StatusError, KindInternal, fmt.Sprintf("branch panicked: %v", r), start)
		}
		span.SetAttributes(
			attribute.String("branch.status", string(res.Status)),
			attribute.Int("branch.attempts", res.Attempts),
		)
		if res.Status != model.StatusSuccess {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()

		ev := log.Info()
		if res.Status != model.StatusSuccess {
			ev = log.Warn().Str("error", res.Error)
		}
		ev.Str("status", string(res.Status)).Int64("duration_ms", res.DurationMS).Int("attempts", res.Attempts).Msg("branch finished")
	}()

	if cp == nil {
		return run.result(model.StatusError, string(agent.KindInvalidRequest), "no checkpoint to branch from", start)
	}
	log.Debug().Int("step", step).Msg("branch started")

	bctx, cancel := context.WithTimeout(ctx, e.opts.BranchTimeout)
	defer cancel()

	prompt := checkpoint.ToAPIMessages(cp)
	if cfg.InjectMessage != "" {
		prompt = append(prompt, agent.Message{Role: agent.RoleUser, Text: cfg.InjectMessage})
		run.messages = append(run.messages, conversation.Message{
			Role:      conversation.RoleUser,
			Content:   cfg.InjectMessage,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	if len(prompt) == 0 {
		return run.result(model.StatusError, string(agent.KindInvalidRequest), "nothing to send: checkpoint is empty and no inject message is set", start)
	}
	if cfg.MaxTurns <= 0 {
		return run.result(model.StatusError, string(agent.KindInvalidRequest), "max_turns must be > 0", start)
	}

	for turn := 1; turn <= cfg.MaxTurns; turn++ {
		req := &agent.Request{
			Model:     cfg.Model,
			System:    cfg.SystemPrompt,
			Messages:  prompt,
			MaxTokens: e.opts.MaxTokens,
		}
		resp, err := e.call(bctx, req, run, log)
		if err != nil {
			status, kind, msg := classify(ctx, bctx, err)
			return run.result(status, kind, msg, start)
		}

		run.usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		reply := conversation.Message{
			Role:      conversation.RoleAssistant,
			Content:   resp.Text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		for _, tu := range resp.ToolUses {
			reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{ID: tu.ID, Name: tu.Name, Input: tu.Input})
		}
		run.messages = append(run.messages, reply)
		prompt = append(prompt, agent.Message{Role: agent.RoleAssistant, Text: resp.Text, ToolUses: resp.ToolUses})

		log.Debug().Int("turn", turn).Str("stop_reason", string(resp.StopReason)).Msg("turn complete")

		// Tools are never executed during replay, so a tool_use stop ends
		// the branch just like end_turn.
		if resp.StopReason == agent.StopEndTurn || resp.StopReason == agent.StopToolUse {
			break
		}
	}

	out := run.result(model.StatusSuccess, "", "", start)
	usage := run.usage
	out.TokenUsage = &usage
	return out
}

// call performs one SDK call under the API retry policy and the optional
// shared limiter.
func (e *Executor) call(ctx context.Context, req *agent.Request, run *branchRun, log zerolog.Logger) (*agent.Response, error) {
	var resp *agent.Response
	op := func() error {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return backoff.Permanent(&agent.Error{Provider: "limiter", Kind: agent.KindRateLimited, Message: err.Error(), Err: err})
			}
		}
		run.attempts++
		r, err := e.client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil || !agent.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("backoff", wait).Int("attempt", run.attempts).Msg("retrying model call")
	}
	if err := backoff.RetryNotify(op, e.opts.Retry.BackOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// classify maps a failed call to a branch outcome. A deadline on the branch
// context with a live parent is a timeout; a dead parent is a cancellation.
func classify(parent, branch context.Context, err error) (model.BranchStatus, string, string) {
	if parent.Err() != nil {
		return model.StatusError, KindCancelled, fmt.Sprintf("cancelled: %v", parent.Err())
	}
	if errors.Is(branch.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.StatusTimeout, KindTimeout, TimeoutMessage
	}
	return model.StatusError, string(agent.KindOf(err)), err.Error()
}

type branchRun struct {
	cfg      model.BranchConfig
	messages []conversation.Message
	usage    model.TokenUsage
	attempts int
}

// result builds the final record. Messages produced before a failure are
// kept so partial progress stays visible.
func (r *branchRun) result(status model.BranchStatus, kind, msg string, start time.Time) model.BranchResult {
	msgs := r.messages
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return model.BranchResult{
		BranchName: r.cfg.Name,
		Config:     r.cfg,
		Status:     status,
		Messages:   msgs,
		DurationMS: time.Since(start).Milliseconds(),
		Error:      msg,
		ErrorKind:  kind,
		Attempts:   r.attempts,
	}
}
