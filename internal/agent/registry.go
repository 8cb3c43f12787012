package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps backend names to adapters. Lookups are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	aliases  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		aliases:  make(map[string]string),
	}
}

// DefaultRegistry returns a registry with the built-in backends.
func DefaultRegistry(logger *slog.Logger) *Registry {
	claude := NewClaude()
	kiro := NewKiro()
	if logger != nil {
		claude.Logger = logger
		kiro.Logger = logger
	}

	r := NewRegistry()
	r.Register(claude, "claude-code")
	r.Register(kiro, "kiro-cli")
	return r
}

// Register adds an adapter under its name plus any aliases, replacing
// an existing adapter with the same name.
func (r *Registry) Register(a Adapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(a.Name())
	r.adapters[name] = a
	for _, alias := range aliases {
		r.aliases[strings.ToLower(alias)] = name
	}
}

// Lookup returns the adapter registered under name or one of its
// aliases, without checking availability.
func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrNotRegistered, name, strings.Join(r.namesLocked(), ", "))
	}
	return a, nil
}

// Resolve returns the named adapter if its backend is available.
func (r *Registry) Resolve(ctx context.Context, name string) (Adapter, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !a.Available(ctx) {
		return nil, fmt.Errorf("%w: %q is not installed or not on PATH", ErrUnavailable, a.Name())
	}
	return a, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
