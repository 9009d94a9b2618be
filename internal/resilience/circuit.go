// Package resilience guards the outbound calls this system depends on:
// LLM chat completions, URL reputation lookups, and shortener
// expansion. It provides retry with backoff and a circuit breaker.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the service while the
// breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitBreakerConfig tunes a breaker. The defaults suit the
// VirusTotal public quota: trip fast, stay off for a full quota window.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe
	// is allowed through.
	ResetTimeout time.Duration

	// Name appears in transition logs.
	Name string
}

// DefaultCircuitBreakerConfig returns the reputation-service tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
		Name:             "reputation",
	}
}

// CircuitBreaker trips after consecutive failures and recovers through
// a single half-open probe.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// ExecuteVal runs fn through the breaker, preserving its value. While
// the circuit is open it returns ErrCircuitOpen without calling fn.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.allow() {
		return zero, ErrCircuitOpen
	}

	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State reports the current mode, accounting for reset-timeout expiry.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(CircuitClosed)
	cb.failures = 0
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false
		}
		cb.setState(CircuitHalfOpen)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.setState(CircuitClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.openedAt = cb.nowFunc()

	// A failed probe reopens immediately.
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.setState(CircuitOpen)
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	zap.L().Warn("circuit state change",
		zap.String("service", cb.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}
