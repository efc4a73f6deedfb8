package channel

import (
	"strings"
	"sync"
)

// Registry holds the provider adapters keyed by lowercase channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its channel.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Name())] = a
}

// Get returns the adapter for a channel, or nil when none is registered.
func (r *Registry) Get(ch string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[strings.ToLower(ch)]
}

// Names lists the registered channels.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
