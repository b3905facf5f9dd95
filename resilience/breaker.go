package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/kbukum/batchpredict/errors"
)

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig configures a CircuitBreaker. Zero values get
// defaults: 5 failures, 30s timeout, 1 half-open call.
type CircuitBreakerConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int `mapstructure:"max_failures" yaml:"max_failures"`
	// Timeout is how long the breaker stays open before letting a probe through.
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls" yaml:"half_open_max_calls"`
	// IsFailure decides whether an error counts. Nil means IsServiceFailure.
	IsFailure func(error) bool `mapstructure:"-" yaml:"-"`
}

// CircuitBreaker stops calling a collaborator after repeated failures and
// probes it again once Timeout has passed.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	successes int
	openedAt  time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsServiceFailure
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err != nil && cb.cfg.IsFailure(err))
	return err
}

// IsServiceFailure counts every error except cancellation by the caller
// and errors the caller caused (invalid input, missing resources).
func IsServiceFailure(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		apperrors.HasCode(err, apperrors.ErrCodeInvalidInput),
		apperrors.HasCode(err, apperrors.ErrCodeNotFound):
		return false
	}
	return true
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh()
}

// Failures is the current count of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.refresh() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxCalls {
			cb.probes++
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := cb.refresh()
	if failed {
		cb.failures++
		if state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.set(StateOpen)
		}
		return
	}
	switch state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes++; cb.successes >= cb.cfg.HalfOpenMaxCalls {
			cb.set(StateClosed)
		}
	}
}

// refresh moves an expired open breaker to half-open. Callers hold mu.
func (cb *CircuitBreaker) refresh() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Timeout {
		cb.set(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) set(s State) {
	cb.state = s
	cb.probes, cb.successes = 0, 0
	switch s {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed:
		cb.failures = 0
	}
}
