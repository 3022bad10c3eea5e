// Package circuitbreaker fails calls fast while a downstream dependency is
// unhealthy.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
//
//	Closed -> Open:     consecutive failures reach MaxFailures
//	Open -> HalfOpen:   RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed: a probe succeeds
//	HalfOpen -> Open:   a probe fails
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

// ErrCircuitOpen is returned by Execute while calls are being rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a breaker.
type Config struct {
	// Name labels logs and metrics, e.g. "mpesa" or "ses".
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// OnStateChange, if set, is called with the lock released after every
	// transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns five failures, a 30s recovery window and a single probe.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            State
	failures         int
	halfOpenInFlight int
	lastFailure      time.Time
	lastStateChange  time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a closed breaker. Non-positive limits fall back to defaults.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	cb := &CircuitBreaker{
		config: cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn when the breaker admits the call and records its outcome.
// Context cancellation by the caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.config.Name)
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.release()
	default:
		cb.RecordFailure()
	}
	return err
}

// Allow reports whether a call may proceed. Callers that get true must
// follow up with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	cb.totalRequests++

	var allowed bool
	var from State
	changed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			from, changed = cb.transition(StateHalfOpen)
			cb.halfOpenInFlight = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			allowed = true
		}
	}
	if !allowed {
		cb.totalRejected++
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return allowed
}

// RecordSuccess closes a half-open breaker and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.totalSuccesses++
	cb.failures = 0

	var from State
	changed := false
	if cb.state == StateHalfOpen {
		from, changed = cb.transition(StateClosed)
	}
	cb.mu.Unlock()

	if changed {
		cb.logger.Info("circuit breaker closed", zap.String("name", cb.config.Name))
		cb.notify(from, StateClosed)
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// immediately when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.totalFailures++
	cb.failures++
	cb.lastFailure = cb.now()

	var from State
	changed := false
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			from, changed = cb.transition(StateOpen)
		}
	case StateHalfOpen:
		from, changed = cb.transition(StateOpen)
	}
	failures := cb.failures
	cb.mu.Unlock()

	if changed {
		cb.logger.Warn("circuit breaker opened",
			zap.String("name", cb.config.Name),
			zap.Int("failures", failures),
			zap.Int("threshold", cb.config.MaxFailures),
		)
		cb.notify(from, StateOpen)
	}
}

// release frees a half-open slot without judging the dependency.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failures,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.transition(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset", zap.String("name", cb.config.Name))
	if changed {
		cb.notify(from, StateClosed)
	}
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to State) (State, bool) {
	from := cb.state
	if from == to {
		return from, false
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.halfOpenInFlight = 0
	return from, true
}

func (cb *CircuitBreaker) notify(from, to State) {
	cb.logger.Debug("circuit breaker state transition",
		zap.String("name", cb.config.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failures, cb.config.MaxFailures)
}
