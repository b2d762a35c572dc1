package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider names an adapter family.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ClientFactory builds a Client on first use.
type ClientFactory func() (Client, error)

// Registry maps providers to lazily constructed clients and routes each
// request to a provider by model name.
type Registry struct {
	mu        sync.Mutex
	factories map[Provider]ClientFactory
	clients   map[Provider]Client
	fallback  Provider
}

var _ Client = (*Registry)(nil)

// NewRegistry creates an empty Registry. Models whose provider cannot be
// inferred go to fallback.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{
		factories: make(map[Provider]ClientFactory),
		clients:   make(map[Provider]Client),
		fallback:  fallback,
	}
}

// Register adds or replaces the factory for p.
func (r *Registry) Register(p Provider, f ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
	delete(r.clients, p)
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the client for p, building it on first use.
func (r *Registry) Resolve(p Provider) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[p]; ok {
		return c, nil
	}
	factory, ok := r.factories[p]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", p)
	}
	c, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", p, err)
	}
	r.clients[p] = c
	return c, nil
}

// Complete routes req to the provider that serves req.Model.
func (r *Registry) Complete(ctx context.Context, req *Request) (*Response, error) {
	c, err := r.Resolve(r.ProviderFor(req.Model))
	if err != nil {
		return nil, &Error{Provider: "registry", Kind: KindInvalidRequest, Message: err.Error(), Err: err}
	}
	return c.Complete(ctx, req)
}

// ProviderFor infers the provider of a model identifier. An explicit
// "provider/model" prefix wins over name heuristics.
func (r *Registry) ProviderFor(model string) Provider {
	if prefix, _, ok := strings.Cut(model, "/"); ok {
		switch Provider(prefix) {
		case ProviderAnthropic, ProviderOpenAI:
			return Provider(prefix)
		}
	}
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	}
	return r.fallback
}

// StripProvider removes an explicit "provider/" prefix from a model name.
func StripProvider(model string) string {
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		switch Provider(prefix) {
		case ProviderAnthropic, ProviderOpenAI:
			return rest
		}
	}
	return model
}
