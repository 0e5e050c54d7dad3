// Package resilience composes retry-with-backoff and a circuit breaker into
// a single wrapper usable around any outbound operation.
//
// Breaker states:
//   - Closed: calls pass through, consecutive failures counted
//   - Open: calls rejected immediately, no network attempt made
//   - Half-open: exactly one trial call allowed through
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/vertexgw/vertex-gateway/internal/domain"
	"github.com/vertexgw/vertex-gateway/internal/metrics"
)

// Breaker is satisfied by the in-memory and Redis-backed implementations.
type Breaker interface {
	// Allow returns nil if a call may proceed, or a circuit-open error.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig defines circuit breaker behavior. A single success in
// half-open closes the circuit.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// InMemoryBreaker guards one (model, region) pair in a single process.
type InMemoryBreaker struct {
	mu          sync.Mutex
	key         string
	state       State
	failures    int
	lastFailure time.Time
	trialActive bool
	config      BreakerConfig
}

func NewInMemoryBreaker(key string, cfg BreakerConfig) *InMemoryBreaker {
	return &InMemoryBreaker{key: key, state: StateClosed, config: cfg}
}

func (b *InMemoryBreaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := b.config.RecoveryTimeout - time.Since(b.lastFailure)
		if remaining > 0 {
			return domain.NewCircuitOpenError(b.key, remaining)
		}
		b.setState(StateHalfOpen)
		b.trialActive = true
		return nil
	case StateHalfOpen:
		if b.trialActive {
			// One trial at a time; everyone else waits it out.
			return domain.NewCircuitOpenError(b.key, 0)
		}
		b.trialActive = true
		return nil
	}
	return nil
}

func (b *InMemoryBreaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.trialActive = false
		b.failures = 0
		b.setState(StateClosed)
	}
}

func (b *InMemoryBreaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.trialActive = false
		b.setState(StateOpen)
	}
}

func (b *InMemoryBreaker) State(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *InMemoryBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// setState mutates state and mirrors it to the metrics gauge. Caller holds b.mu.
func (b *InMemoryBreaker) setState(s State) {
	b.state = s
	publishBreakerState(b.key, s)
}

func publishBreakerState(key string, s State) {
	metrics.SetCircuitBreakerState(key, int(s))
}

// Manager hands out one breaker per (model, region) pair, creating them
// lazily. Blast radius is contained per pair: a failing regional endpoint
// does not block other models or regions.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	config   BreakerConfig
	factory  func(key string) Breaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRedis backs breakers with shared Redis state so separate processes
// observe the same circuit. Falls back to in-memory when Redis is down.
func WithRedis(redisURL string) ManagerOption {
	return func(m *Manager) {
		m.factory = func(key string) Breaker {
			b, err := NewRedisBreaker(redisURL, key, m.config)
			if err != nil {
				return NewInMemoryBreaker(key, m.config)
			}
			return b
		}
	}
}

func NewManager(cfg BreakerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]Breaker),
		config:   cfg,
		factory: func(key string) Breaker {
			return NewInMemoryBreaker(key, cfg)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BreakerKey is the canonical (model, region) breaker identity.
func BreakerKey(modelID, region string) string {
	return modelID + "/" + region
}

func (m *Manager) Get(key string) Breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.breakers[key]; ok {
		return existing
	}
	b = m.factory(key)
	m.breakers[key] = b
	return b
}

// States returns the current state of every breaker seen so far.
func (m *Manager) States(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for key, b := range m.breakers {
		states[key] = b.State(ctx).String()
	}
	return states
}
