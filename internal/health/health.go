// Package health aggregates the readiness of the pipeline's
// dependencies. The server registers one checker per dependency, such
// as the attempt database and the IP metadata upstream, and the health
// endpoint reports each subsystem's verdict alongside the aggregate.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds a single checker so one stuck dependency cannot
// hang the health endpoint.
const checkTimeout = 2 * time.Second

// Status is one subsystem's verdict. Name and CheckedAt are stamped by
// the registry.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Checker inspects one dependency. The context carries a deadline;
// checkers that do I/O must honor it.
type Checker func(ctx context.Context) Status

// Registry holds the registered checkers and runs them on demand, in
// registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a checker under name, replacing any existing checker
// with the same name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll runs every checker and returns the aggregate verdict plus
// the individual results. One unhealthy subsystem fails the aggregate.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		st := checks[name](cctx)
		cancel()

		st.Name = name
		st.CheckedAt = time.Now().UTC()
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
