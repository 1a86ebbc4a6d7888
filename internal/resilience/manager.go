package resilience

import (
	"sort"
	"sync"
)

// Policy bundles the breaker and retry configuration for one resource.
type Policy struct {
	Breaker BreakerConfig
	Retry   RetryConfig
}

// Manager owns one circuit breaker per named resource and composes it with a
// retrier behind Execute. Construct it once at process start and pass it to
// every collaborator; there is no package-level instance.
type Manager struct {
	defaults    Policy
	policies    map[string]Policy
	stateChange func(name string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaults sets the breaker config for resources without a policy.
func WithDefaults(config BreakerConfig) Option {
	return func(m *Manager) { m.defaults.Breaker = config }
}

// WithRetry sets the retry policy for resources without a policy.
func WithRetry(config RetryConfig) Option {
	return func(m *Manager) { m.defaults.Retry = config }
}

// WithPolicies pre-registers per-resource policies.
func WithPolicies(policies map[string]Policy) Option {
	return func(m *Manager) {
		for name, p := range policies {
			m.policies[name] = p
		}
	}
}

// WithStateChange installs a callback invoked on every breaker transition.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(m *Manager) { m.stateChange = fn }
}

// NewManager creates an empty registry. Breakers are created lazily on first
// use of each resource name and live for the process lifetime.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		defaults: Policy{
			Breaker: DefaultBreakerConfig(),
			Retry:   DefaultRetryConfig(),
		},
		policies: make(map[string]Policy),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker returns the breaker for name, creating it on first use.
func (m *Manager) Breaker(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}

	b = NewBreaker(name, m.policy(name).Breaker)
	b.onChange = m.stateChange
	m.breakers[name] = b
	return b
}

func (m *Manager) policy(name string) Policy {
	if p, ok := m.policies[name]; ok {
		return p
	}
	return m.defaults
}

// Execute runs op through the named resource's breaker with retries. Every
// retry attempt goes through the same breaker instance, so failure accounting
// persists across attempts and across separate calls.
func (m *Manager) Execute(name string, op Operation) (any, error) {
	b := m.Breaker(name)

	m.mu.RLock()
	retry := m.policy(name).Retry
	m.mu.RUnlock()

	return NewRetrier(retry).Do(func() (any, error) {
		return b.Call(op)
	})
}

// ExecuteWith runs op with an explicit policy. The policy takes effect at the
// breaker's lazy creation; an already-registered breaker keeps its config.
func (m *Manager) ExecuteWith(name string, op Operation, policy Policy) (any, error) {
	m.mu.Lock()
	if _, ok := m.policies[name]; !ok {
		m.policies[name] = policy
	}
	m.mu.Unlock()

	return m.Execute(name, op)
}

// Status returns the snapshot for one resource, false if it was never used.
func (m *Manager) Status(name string) (StatusSnapshot, bool) {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return StatusSnapshot{}, false
	}
	return b.Status(), true
}

// AllStatus returns snapshots for every registered breaker, sorted by name.
func (m *Manager) AllStatus() []StatusSnapshot {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	statuses := make([]StatusSnapshot, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Reset forces one breaker closed. Returns false if the name is unknown.
func (m *Manager) Reset(name string) bool {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll forces every registered breaker closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// Caller binds a manager to one resource name so collaborators can opt in to
// resilience explicitly without knowing the registry.
type Caller struct {
	manager *Manager
	name    string
}

// Caller returns an adapter bound to the named resource.
func (m *Manager) Caller(name string) Caller {
	return Caller{manager: m, name: name}
}

// Call executes op with the bound resource's breaker and retry policy.
func (c Caller) Call(op Operation) (any, error) {
	return c.manager.Execute(c.name, op)
}
