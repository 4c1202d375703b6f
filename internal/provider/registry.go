package provider

import (
	"fmt"
	"sort"
)

// Registry holds the configured adapters, one per platform. Platforms whose
// credentials are absent simply have no entry; asking for them yields
// ErrConfigurationMissing rather than a crash.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Last registration wins.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// Get returns the adapter for a platform.
func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, platform)
	}
	return a, nil
}

// Platforms lists the configured platforms in stable order.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
