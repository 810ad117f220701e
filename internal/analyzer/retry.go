package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing fast
	CircuitHalfOpen                     // probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the breaker is open and the open timeout
// has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker fails fast once the backend has proven unhealthy, then
// probes for recovery after the open timeout.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow reports whether a request may proceed. An open breaker transitions
// to half-open once the open timeout has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess counts a success; enough successes in half-open close the
// breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure counts a failure; enough failures open the breaker, and
// any half-open failure reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	slog.Info("analyzer circuit breaker state change",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount)
}

// RetryPolicy is the backoff schedule for transient failures.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts, not retries after the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64 // fraction of the delay randomized, e.g. 0.2
}

// delay computes the backoff before attempt n (n >= 1), doubling from the
// initial value, capped, with +/- Jitter applied.
func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			backoff = p.MaxBackoff
			break
		}
	}
	if p.Jitter > 0 {
		spread := float64(backoff) * p.Jitter
		backoff = time.Duration(float64(backoff) + (rand.Float64()*2-1)*spread)
	}
	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

// retryWithBackoff runs fn under the retry policy and breaker. Each attempt
// gets its own timeout; non-retriable errors and open circuits fail
// immediately.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, breaker *CircuitBreaker,
	attemptTimeout time.Duration, operation string, fn func(context.Context) error) error {

	var lastErr *TransportError
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				return &TransportError{Kind: ErrUnreachable, Err: err}
			}
		}
		if ctx.Err() != nil {
			return &TransportError{Kind: ErrCancelled, Err: ctx.Err()}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			if attempt > 1 {
				slog.Info("analyzer call recovered", "operation", operation, "attempt", attempt)
			}
			return nil
		}

		// Caller cancellation is not a backend failure.
		if ctx.Err() != nil {
			return &TransportError{Kind: ErrCancelled, Err: ctx.Err()}
		}

		te := classifyError(err)
		lastErr = te
		if te.Retriable() {
			if breaker != nil {
				breaker.RecordFailure()
			}
		} else {
			slog.Warn("analyzer call failed, not retriable",
				"operation", operation, "kind", te.Kind.String(), "error", err)
			return te
		}

		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.delay(attempt)
		slog.Warn("analyzer call failed, retrying",
			"operation", operation, "attempt", attempt,
			"max_attempts", policy.MaxAttempts, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &TransportError{Kind: ErrCancelled, Err: ctx.Err()}
		}
	}
	return lastErr
}
