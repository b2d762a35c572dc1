package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
)

// FanOut runs every branch of a request concurrently from one shared
// checkpoint and waits for all of them. A failing branch never stops its
// siblings and nothing is retried here.
type FanOut struct {
	runner         BranchRunner
	onProgress     func(ProgressEvent)
	maxConcurrency int
}

// NewFanOut creates a FanOut that executes branches with runner.
// onProgress is called synchronously from each goroutine; it may be nil.
func NewFanOut(runner BranchRunner, onProgress func(ProgressEvent)) *FanOut {
	return &FanOut{
		runner:     runner,
		onProgress: onProgress,
	}
}

// SetMaxConcurrency caps concurrently executing branches. n <= 0 removes the cap.
func (f *FanOut) SetMaxConcurrency(n int) {
	f.maxConcurrency = n
}

// Run validates configs, then executes one branch per config. The returned
// results are in configs order regardless of completion order. If ctx is
// cancelled before every branch finishes, Run returns ErrCancelled and no
// results.
func (f *FanOut) Run(ctx context.Context, cp *checkpoint.Checkpoint, configs []model.BranchConfig) ([]model.BranchResult, error) {
	if err := model.ValidateBranches(configs); err != nil {
		return nil, err
	}

	results := make([]model.BranchResult, len(configs))
	var g errgroup.Group
	if f.maxConcurrency > 0 {
		g.SetLimit(f.maxConcurrency)
	}

	for _, cfg := range configs {
		f.emit(ProgressEvent{Branch: cfg.Name, Status: ProgressPending})
	}

	for i, cfg := range configs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = cancelledResult(cfg, err)
				return nil
			}
			f.emit(ProgressEvent{Branch: cfg.Name, Status: ProgressWorking})

			res := f.execute(ctx, cp, cfg)
			results[i] = res

			if res.Succeeded() {
				f.emit(ProgressEvent{Branch: cfg.Name, Status: ProgressComplete})
			} else {
				f.emit(ProgressEvent{Branch: cfg.Name, Status: ProgressFailed, Message: res.Error})
			}
			// Branch failures are data, never errgroup errors.
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return results, nil
}

// execute calls the runner and enforces its contract: exactly one result,
// named after the branch, with a known status.
func (f *FanOut) execute(ctx context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) (res model.BranchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.BranchResult{
				BranchName: cfg.Name,
				Config:     cfg,
				Status:     model.StatusError,
				Messages:   []conversation.Message{},
				Error:      fmt.Sprintf("branch runner panicked: %v", r),
				ErrorKind:  "internal",
			}
		}
	}()

	res = f.runner.Execute(ctx, cp, cfg)
	res.BranchName = cfg.Name
	res.Config = cfg
	if !res.Status.Valid() {
		res.Error = fmt.Sprintf("branch runner returned unknown status %q", res.Status)
		res.Status = model.StatusError
		res.ErrorKind = "internal"
	}
	if res.Messages == nil {
		res.Messages = []conversation.Message{}
	}
	return res
}

func cancelledResult(cfg model.BranchConfig, err error) model.BranchResult {
	return model.BranchResult{
		BranchName: cfg.Name,
		Config:     cfg,
		Status:     model.StatusError,
		Messages:   []conversation.Message{},
		Error:      err.Error(),
		ErrorKind:  string(KindCancelled),
	}
}

// emit sends a progress event if a callback is registered.
func (f *FanOut) emit(ev ProgressEvent) {
	if f.onProgress != nil {
		f.onProgress(ev)
	}
}
