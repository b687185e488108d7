package handler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
)

// Factory builds a handler from its configuration.
type Factory func(cfg config.Handler, deps Deps) (Handler, error)

// Registry maps handler type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in handler type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("log", NewLog)
	r.Register("file", NewFile)
	r.Register("webhook", NewWebhook)
	r.Register("sqlite", NewSQLite)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Types lists the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Build constructs the handler described by cfg.
func (r *Registry) Build(cfg config.Handler, deps Deps) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown handler type %q", cfg.Type)
	}
	h, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build %s handler: %w", cfg.Type, err)
	}
	return h, nil
}
