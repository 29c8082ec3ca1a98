// Package circuitbreaker protects outbound webhook endpoints from cascade
// failures. When a subscriber endpoint keeps failing, the circuit opens and
// delivery attempts fail fast until a probe succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
//	Closed -> Open:      failure count reaches the threshold
//	Open -> HalfOpen:    recovery timeout elapses, one probe allowed
//	HalfOpen -> Closed:  probe succeeds
//	HalfOpen -> Open:    probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when requests are being rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds.
type Config struct {
	Name            string
	MaxFailures     int
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the thresholds used for webhook delivery.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures against a downstream.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool
}

// New creates a breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			cb.logger.Info("circuit breaker allowing probe request",
				zap.String("name", cb.config.Name),
			)
			return true
		}
		return false
	case StateHalfOpen:
		// A single probe at a time
		if !cb.probing {
			cb.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure streak; a successful probe closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.probing = false

	if cb.state != StateClosed {
		cb.state = StateClosed
		cb.logger.Info("circuit breaker closed, downstream recovered",
			zap.String("name", cb.config.Name),
		)
	}
}

// RecordFailure extends the failure streak; enough failures open the circuit,
// and a failed probe re-opens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	cb.probing = false

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.config.Name),
				zap.Int("failures", cb.failureCount),
			)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", cb.config.Name),
		)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
