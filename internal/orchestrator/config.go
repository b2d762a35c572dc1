package orchestrator

import (
	"time"

	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/retry"
)

// Config holds the tunables of a Pipeline. Components receive it by value;
// nothing here is mutated once a run starts.
type Config struct {
	// MaxConcurrency caps how many branches execute at once. Zero means one
	// goroutine per branch with no cap.
	MaxConcurrency int

	// LocalRetry wraps conversation loading and checkpoint extraction.
	// The zero value means retry.Local().
	LocalRetry retry.Policy

	// ComputeRetry wraps the comparison step. The zero value means
	// retry.Compute().
	ComputeRetry retry.Policy

	// Compare is passed through to compare.Compare.
	Compare compare.Options

	// RequestTimeout bounds a whole run. Zero leaves only the caller's
	// context in charge. Branch timeouts are configured on the runner and
	// are independent of this bound.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LocalRetry.IsZero() {
		c.LocalRetry = retry.Local()
	}
	if c.ComputeRetry.IsZero() {
		c.ComputeRetry = retry.Compute()
	}
	return c
}
