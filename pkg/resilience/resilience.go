package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

func (s CircuitBreakerState) gauge() int {
	switch s {
	case CircuitBreakerHalfOpen:
		return 1
	case CircuitBreakerOpen:
		return 2
	}
	return 0
}

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config tunes a CircuitBreaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // how long the circuit stays open before a probe
	HalfOpenSuccess  int           // successful probes needed to close again
	Timeout          time.Duration // per-attempt deadline
	MaxAttempts      int           // attempts per Execute, including the first
	Backoff          time.Duration // linear backoff step between attempts
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	if c.HalfOpenSuccess <= 0 {
		c.HalfOpenSuccess = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	return c
}

// CircuitBreaker wraps calls to a flaky dependency with retry, timeout and
// a consecutive-failure circuit breaker
type CircuitBreaker struct {
	name    string
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int
	probing             bool
}

// NewCircuitBreaker creates a closed breaker named after the dependency it guards
func NewCircuitBreaker(name string, cfg Config, m *metrics.Metrics) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		metrics: m,
		now:     time.Now,
		state:   CircuitBreakerClosed,
	}
	m.SetCircuitBreakerState(name, 0)
	return cb
}

// Execute runs fn, retrying failed attempts until MaxAttempts is reached.
// Context cancellation by the caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= cb.cfg.MaxAttempts; attempt++ {
		if !cb.allow() {
			cb.metrics.RecordCircuitBreakerRejected(cb.name)
			logger.Warn("Circuit breaker is OPEN - request blocked",
				zap.String("breaker", cb.name),
				zap.String("operation", operation))
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrCircuitOpen, lastErr)
			}
			return ErrCircuitOpen
		}

		if attempt > 1 {
			logger.Warn("Retrying operation",
				zap.String("breaker", cb.name),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			cb.onSuccess()
			return nil
		}
		if ctx.Err() != nil {
			cb.release()
			return ctx.Err()
		}

		lastErr = err
		cb.onFailure(operation, err)

		if attempt == cb.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * cb.cfg.Backoff):
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", cb.name, operation, cb.cfg.MaxAttempts, lastErr)
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow reports whether a call may proceed. An open breaker moves to
// half-open once the cooldown elapsed and lets a single probe through.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false
		}
		cb.setState(CircuitBreakerHalfOpen)
		cb.halfOpenSuccesses = 0
		cb.probing = true
		logger.Info("Circuit breaker HALF-OPEN - allowing probe", zap.String("breaker", cb.name))
		return true
	case CircuitBreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return true
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probing = false
	if cb.state != CircuitBreakerHalfOpen {
		return
	}
	cb.halfOpenSuccesses++
	if cb.halfOpenSuccesses >= cb.cfg.HalfOpenSuccess {
		cb.setState(CircuitBreakerClosed)
		logger.Info("Circuit breaker CLOSED - dependency recovered", zap.String("breaker", cb.name))
	}
}

func (cb *CircuitBreaker) onFailure(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.probing = false

	if cb.state == CircuitBreakerHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		if cb.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", cb.name),
				zap.String("operation", operation),
				zap.String("error_type", ClassifyError(err)),
				zap.Int("consecutive_failures", cb.consecutiveFailures))
		}
		cb.setState(CircuitBreakerOpen)
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) setState(s CircuitBreakerState) {
	cb.state = s
	cb.metrics.SetCircuitBreakerState(cb.name, s.gauge())
}

// ClassifyError buckets an error for logs and metrics
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_breaker"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "permission denied"):
		return "permission"
	default:
		return "unknown"
	}
}
