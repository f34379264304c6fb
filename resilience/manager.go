package resilience

import (
	"context"
	"sync"
	"time"
)

// Manager coordinates resilience strategies
type Manager struct {
	mu              sync.RWMutex
	retryPolicy     *RetryPolicy
	circuitBreakers map[string]*CircuitBreaker
	defaultBreaker  *CircuitBreaker
}

// Option configures the resilience manager
type Option func(*Manager)

// New creates a new resilience manager
func New(opts ...Option) *Manager {
	m := &Manager{
		retryPolicy:     DefaultRetryPolicy(),
		circuitBreakers: make(map[string]*CircuitBreaker),
	}

	// Apply options
	for _, opt := range opts {
		opt(m)
	}

	// Create default circuit breaker
	if m.defaultBreaker == nil {
		m.defaultBreaker = NewCircuitBreaker(CircuitBreakerConfig{
			Name:         "default",
			MaxFailures:  5,
			ResetTimeout: 60 * time.Second,
		})
	}

	return m
}

// WithCircuitBreaker adds a named circuit breaker
func WithCircuitBreaker(name string, config CircuitBreakerConfig) Option {
	return func(m *Manager) {
		config.Name = name
		m.circuitBreakers[name] = NewCircuitBreaker(config)
	}
}

// ExecuteWithBreakerAndContext executes with context and specific breaker
func (m *Manager) ExecuteWithBreakerAndContext(ctx context.Context, breakerName string, fn func() error) error {
	breaker := m.getBreaker(breakerName)

	// Check context first
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Execute through circuit breaker
	return breaker.Execute(func() error {
		// Then apply retry policy with context
		return m.retryPolicy.ExecuteWithContext(ctx, fn)
	})
}

// getBreaker gets a circuit breaker by name
func (m *Manager) getBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.circuitBreakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	return m.defaultBreaker
}
