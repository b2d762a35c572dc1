package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dusk-indust/replaylab/internal/agent"
	"github.com/dusk-indust/replaylab/internal/logging"
)

// Capability is the richest execution mode the environment supports.
type Capability string

const (
	// CapNone means no model provider is configured; runs cannot execute.
	CapNone Capability = "none"
	// CapLocal runs branches in-process.
	CapLocal Capability = "local"
	// CapDurable runs branches as durable workflows on a reachable Temporal
	// frontend.
	CapDurable Capability = "durable"
)

// Environment is what a Detector found.
type Environment struct {
	Capability Capability
	// Providers lists providers with credentials, sorted.
	Providers []agent.Provider
	// Temporal reports whether the workflow frontend answered its probe.
	Temporal bool
	// TemporalError is set when the probe failed.
	TemporalError string
}

// Detector probes the local environment to determine available capabilities.
type Detector interface {
	Detect(ctx context.Context) (Environment, error)
}

// Compile-time check.
var _ Detector = (*DefaultDetector)(nil)

// ProbeFunc checks a dependency and returns nil when it is usable.
type ProbeFunc func(ctx context.Context) error

// DefaultDetector looks for provider credentials in the environment and
// optionally probes a Temporal frontend.
type DefaultDetector struct {
	lookupEnv    func(string) (string, bool)
	temporal     ProbeFunc
	probeTimeout time.Duration
}

// providerKeys maps providers to the environment variables holding their
// credentials.
var providerKeys = map[agent.Provider]string{
	agent.ProviderAnthropic: "ANTHROPIC_API_KEY",
	agent.ProviderOpenAI:    "OPENAI_API_KEY",
}

// NewDefaultDetector creates a DefaultDetector. temporal may be nil, in which
// case durable execution is never reported.
func NewDefaultDetector(temporal ProbeFunc) *DefaultDetector {
	return &DefaultDetector{
		lookupEnv:    os.LookupEnv,
		temporal:     temporal,
		probeTimeout: 2 * time.Second,
	}
}

// Detect probes providers and the workflow frontend concurrently.
func (d *DefaultDetector) Detect(ctx context.Context) (Environment, error) {
	var (
		env Environment
		wg  sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		env.Providers = d.probeProviders()
	}()

	if d.temporal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.probeTemporal(ctx); err != nil {
				env.TemporalError = err.Error()
				return
			}
			env.Temporal = true
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Environment{}, err
	}

	switch {
	case len(env.Providers) == 0:
		env.Capability = CapNone
	case env.Temporal:
		env.Capability = CapDurable
	default:
		env.Capability = CapLocal
	}

	log := logging.Component("detector")
	log.Debug().
		Str("capability", string(env.Capability)).
		Int("providers", len(env.Providers)).
		Bool("temporal", env.Temporal).
		Msg("environment detected")
	return env, nil
}

func (d *DefaultDetector) probeProviders() []agent.Provider {
	var found []agent.Provider
	for p, key := range providerKeys {
		if v, ok := d.lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			found = append(found, p)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found
}

// probeTemporal runs the probe under a short timeout and turns panics into
// errors.
func (d *DefaultDetector) probeTemporal(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()
	return d.temporal(probeCtx)
}
