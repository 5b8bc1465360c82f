package collector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Collector from its declared Config. Registered once
// per source at process startup.
type Factory func(cfg Config) (Collector, error)

// Registry is the compile-time plugin manifest: source_name -> factory.
// It replaces dynamic import/reflection-based plugin loading with an explicit list any `collector status` call can enumerate
// without instantiating a live collector.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	configs   map[string]Config
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]Config),
	}
}

// Register adds a source plugin's factory and declared config. Panics on
// duplicate registration — a programmer error caught at init time, not a
// runtime condition to handle gracefully.
func (r *Registry) Register(cfg Config, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[cfg.SourceName]; exists {
		panic(fmt.Sprintf("collector: source %q already registered", cfg.SourceName))
	}
	r.factories[cfg.SourceName] = factory
	r.configs[cfg.SourceName] = cfg
}

// Build instantiates the named source's Collector.
func (r *Registry) Build(sourceName string) (Collector, error) {
	r.mu.RLock()
	factory, ok := r.factories[sourceName]
	cfg := r.configs[sourceName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("collector: no source registered as %q", sourceName)
	}
	return factory(cfg)
}

// Sources lists every registered source name, sorted, for `collector
// status` and CLI help output.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigFor returns the declared Config for a registered source.
func (r *Registry) ConfigFor(sourceName string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[sourceName]
	return cfg, ok
}
