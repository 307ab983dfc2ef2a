// Package health aggregates readiness probes for the engine's
// dependencies (database, payment provider).
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is the outcome of one subsystem probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem. It must respect ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Checker
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Checker)}
}

// Register adds a probe under a name. Registering the same name twice
// replaces the earlier probe.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.probes[name] = check
	r.mu.Unlock()
}

// CheckAll runs every probe and reports the aggregate plus the
// individual results, ordered by probe name so responses are stable.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	probes := make([]Checker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		probes = append(probes, r.probes[name])
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(probes))
	for i, probe := range probes {
		statuses[i] = probe(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
