// Package circuitbreaker provides a per-channel circuit breaker with
// closed → open → half-open state transitions.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: sends flow through
	StateOpen                  // Tripped: channel is skipped
	StateHalfOpen              // Probing: one send allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paymesh",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by channel, from-state, and to-state.",
}, []string{"channel", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// entry tracks per-channel circuit state.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-channel circuit breaker. It tracks consecutive send
// failures per channel and trips open when failures exceed the threshold.
// After openDuration the circuit moves to half-open and allows one probe send.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow returns true if a send over the channel should be allowed.
// If the circuit is open and openDuration has elapsed, it transitions to half-open.
func (b *Breaker) Allow(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return true // No entry = closed
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.lastFailure) >= b.openDuration {
			b.transition(e, channel, StateHalfOpen)
			return true // Allow one probe send
		}
		return false
	case StateHalfOpen:
		return false // Already probing — reject until probe completes
	default:
		return true
	}
}

// RecordSuccess records a successful send. Resets failure count and
// closes the circuit if it was half-open.
func (b *Breaker) RecordSuccess(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return
	}

	if e.state == StateHalfOpen {
		b.transition(e, channel, StateClosed)
	}
	e.failures = 0
}

// RecordFailure records a failed send. If consecutive failures exceed
// the threshold, trips the circuit open.
func (b *Breaker) RecordFailure(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[channel] = e
	}

	e.failures++
	e.lastFailure = time.Now()

	if e.state == StateHalfOpen {
		// Probe failed — back to open.
		b.transition(e, channel, StateOpen)
		return
	}

	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, channel, StateOpen)
	}
}

// State returns the current state for a channel. Returns StateClosed for unknown channels.
func (b *Breaker) State(channel string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return StateClosed
	}
	return e.state
}

// transition changes state and records the metric.
// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, channel string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(channel, from.String(), to.String()).Inc()
}
