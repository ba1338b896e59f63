// Package health provides a registry of named subsystem health checkers.
//
// Routing and pipeline progress must never depend on observability
// collaborators, so checkers report degradation (e.g. a growing audit
// backlog) without any caller blocking on them.
package health

import (
	"context"
	"sync"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Report is the aggregate of one run over all registered checkers.
type Report struct {
	Healthy    bool     `json:"healthy"`
	Subsystems []Status `json:"subsystems"`
}

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// Check runs all registered checkers and returns the aggregate report.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	report := Report{Healthy: true, Subsystems: make([]Status, len(checkers))}
	for i, nc := range checkers {
		report.Subsystems[i] = nc.check(ctx)
		if !report.Subsystems[i].Healthy {
			report.Healthy = false
		}
	}
	return report
}
