// Package circuitbreaker cuts off webhook endpoints that keep failing.
// Each delivery target gets its own circuit: consecutive failures trip
// it open, deliveries are skipped while open, and after a cooldown a
// single probe decides whether it closes again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of one circuit.
type State int

const (
	StateClosed   State = iota // deliveries flow
	StateOpen                  // deliveries skipped
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "jobledger",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks one circuit per key.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	trip     int           // consecutive failures before opening
	cooldown time.Duration // open time before the probe
	onChange func(key string, from, to State)
}

// New returns a breaker that opens a key's circuit after trip
// consecutive failures and probes again after cooldown.
func New(trip int, cooldown time.Duration) *Breaker {
	if trip <= 0 {
		trip = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		trip:     trip,
		cooldown: cooldown,
	}
}

// OnTransition registers a callback fired (on its own goroutine) when
// any circuit changes state.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a delivery to key may proceed. An open circuit
// whose cooldown has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok || c.state == StateClosed {
		return true
	}
	if c.state == StateOpen && time.Since(c.lastFailure) >= b.cooldown {
		b.setState(c, key, StateHalfOpen)
		return true
	}
	// Open within cooldown, or a probe is already out.
	return false
}

// RecordSuccess clears the failure streak; a successful probe closes
// the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.setState(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure extends the failure streak, opening the circuit when it
// reaches the trip count. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.setState(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.trip:
		b.setState(c, key, StateOpen)
	}
}

// State returns key's circuit state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) setState(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onChange != nil {
		fn := b.onChange
		go fn(key, from, to)
	}
}
