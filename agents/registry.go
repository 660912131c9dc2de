// Package agents provides the concrete channel behaviors a hosting
// application can run: rule-based (echo), model-backed (chatty), host-system
// access (host) and human-operated (operator).
package agents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
)

// Deps carries what the hosting application provides to behaviors.
type Deps struct {
	Logger *slog.Logger

	// OpenAI and Model configure model-backed behaviors.
	OpenAI      OpenAIClient
	Model       string
	MaxTokens   int
	Temperature float32

	// Input and Output are the terminal of human-operated behaviors.
	Input  LineReader
	Output io.Writer

	// Shutdown stops the hosting application.
	Shutdown func()
}

// Driver is implemented by behaviors that act on their own initiative rather
// than only in response to envelopes. The hosting application runs Drive
// alongside the channel's dispatch loop.
type Driver interface {
	Drive(ctx context.Context, ch *agent.Channel) error
}

// FactoryFunc builds a behavior from its channel configuration.
type FactoryFunc func(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error)

// Registry maps channel kinds to factories.
type Registry struct {
	factories map[string]FactoryFunc
	mu        sync.RWMutex
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry (useful for testing).
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FactoryFunc)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Build creates the behavior for cfg.
func (r *Registry) Build(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown channel kind %q", cfg.Kind)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("channel", cfg.ID)
	return factory(cfg, deps)
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Register registers a factory with the default registry
func Register(kind string, factory FactoryFunc) {
	defaultRegistry.Register(kind, factory)
}

// Build creates a behavior using the default registry.
func Build(cfg config.ChannelConfig, deps Deps) (agent.Behavior, error) {
	return defaultRegistry.Build(cfg, deps)
}

// Kinds lists the kinds known to the default registry.
func Kinds() []string {
	return defaultRegistry.Kinds()
}
