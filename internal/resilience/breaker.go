package resilience

import (
	"fmt"
	"sync"
	"time"
)

// Operation is a zero-argument callable protected by the resilience layer.
type Operation func() (any, error)

// BreakerConfig is the immutable per-resource breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call
	// is allowed through.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int
	// CallTimeout bounds a single operation execution. Zero disables it.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns the config applied to unregistered resources.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	return c
}

// ConfigSnapshot is the wire form of a breaker config, durations in seconds.
type ConfigSnapshot struct {
	FailureThreshold int     `json:"failure_threshold"`
	RecoveryTimeout  float64 `json:"recovery_timeout"`
	SuccessThreshold int     `json:"success_threshold"`
	CallTimeout      float64 `json:"call_timeout"`
}

// StatusSnapshot is a point-in-time view of one breaker, for dashboards and
// health endpoints. Never use it for control decisions; it is stale the
// moment it is taken.
type StatusSnapshot struct {
	Name    string         `json:"name"`
	State   State          `json:"state"`
	Metrics HealthSnapshot `json:"metrics"`
	Config  ConfigSnapshot `json:"config"`
}

// Breaker implements the circuit breaker state machine for one named resource.
type Breaker struct {
	name     string
	config   BreakerConfig
	onChange func(name string, from, to State)

	// notifyMu serializes onChange delivery so transitions arrive in order
	// without the state mutex held; a slow callback must never stall calls.
	notifyMu sync.Mutex

	mu         sync.Mutex
	state      State
	failures   int
	successes  int
	openedAt   time.Time
	generation uint64
	pending    []stateChange
	health     health
}

type stateChange struct {
	from, to State
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
	}
}

// Name returns the resource name this breaker protects.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call executes op if the circuit allows it and records the outcome.
// An open circuit rejects the call with ErrCircuitOpen without invoking op.
func (b *Breaker) Call(op Operation) (any, error) {
	gen, err := b.allow()
	b.notify()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := b.invoke(op)
	b.record(gen, err == nil, time.Since(start))
	b.notify()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// allow decides whether a call may proceed, applying the open -> half-open
// transition once the recovery timeout has elapsed.
func (b *Breaker) allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.config.RecoveryTimeout {
			return b.generation, ErrCircuitOpen
		}
		b.transition(StateHalfOpen, time.Now())
	}
	return b.generation, nil
}

// invoke runs op, bounded by the call timeout. The operation itself is never
// cancelled: on timeout it keeps running in the background and its eventual
// result is discarded.
func (b *Breaker) invoke(op Operation) (any, error) {
	if b.config.CallTimeout <= 0 {
		return op()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := op()
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-time.After(b.config.CallTimeout):
		return nil, fmt.Errorf("call timed out after %s", b.config.CallTimeout)
	}
}

// record applies an outcome to the state machine. Outcomes from a previous
// generation (the state changed while the call was in flight) are dropped.
func (b *Breaker) record(gen uint64, success bool, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}

	now := time.Now()
	if success {
		b.health.recordSuccess(elapsed, now)
		b.onSuccess(now)
	} else {
		b.health.recordFailure(elapsed, now)
		b.onFailure(now)
	}
}

func (b *Breaker) onSuccess(now time.Time) {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(now time.Time) {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// transition must be called with the mutex held. The state change itself is
// applied here; onChange delivery is deferred to notify so no callback ever
// runs under the state mutex.
func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0

	if to == StateOpen {
		b.openedAt = now
		b.health.recordTrip()
	}

	if b.onChange != nil {
		b.pending = append(b.pending, stateChange{from: from, to: to})
	}
}

// notify drains queued transitions and delivers them to onChange in order.
// Delivery runs without the state mutex, so a slow callback (network fanout,
// blocked subscriber) never stalls concurrent calls on this breaker.
func (b *Breaker) notify() {
	if b.onChange == nil {
		return
	}

	// Callers with nothing queued return immediately instead of waiting
	// behind an in-flight delivery.
	b.mu.Lock()
	queued := len(b.pending) > 0
	b.mu.Unlock()
	if !queued {
		return
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	for {
		b.mu.Lock()
		changes := b.pending
		b.pending = nil
		b.mu.Unlock()
		if len(changes) == 0 {
			return
		}
		for _, c := range changes {
			b.onChange(b.name, c.from, c.to)
		}
	}
}

// Status returns a snapshot of the breaker's state, health, and config.
func (b *Breaker) Status() StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return StatusSnapshot{
		Name:    b.name,
		State:   b.state,
		Metrics: b.health.snapshot(),
		Config: ConfigSnapshot{
			FailureThreshold: b.config.FailureThreshold,
			RecoveryTimeout:  b.config.RecoveryTimeout.Seconds(),
			SuccessThreshold: b.config.SuccessThreshold,
			CallTimeout:      b.config.CallTimeout.Seconds(),
		},
	}
}

// Reset forces the breaker closed with zeroed transition counters. It is an
// administrative operation for operator-triggered recovery; cumulative health
// history is preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.successes = 0
	if b.state != StateClosed {
		b.transition(StateClosed, time.Now())
	}
	b.mu.Unlock()

	b.notify()
}
