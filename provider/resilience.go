package provider

import (
	"context"
	"errors"

	apperrors "github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/resilience"
)

// ResilienceConfig selects the policies guarding a collaborator. Nil
// policies are skipped, so the zero value guards nothing.
type ResilienceConfig struct {
	CircuitBreaker *resilience.CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          *resilience.RetryConfig          `mapstructure:"retry" yaml:"retry"`
	Bulkhead       *resilience.BulkheadConfig       `mapstructure:"bulkhead" yaml:"bulkhead"`
}

// IsEmpty reports whether no policy is set.
func (c ResilienceConfig) IsEmpty() bool {
	return c.CircuitBreaker == nil && c.Retry == nil && c.Bulkhead == nil
}

// WithoutRetry drops the retry policy. Pipeline steps run this way: a
// failed step fails the run.
func (c ResilienceConfig) WithoutRetry() ResilienceConfig {
	c.Retry = nil
	return c
}

// Resilient is WithResilience as a Middleware.
func Resilient[I, O any](cfg ResilienceConfig) Middleware[I, O] {
	return func(inner RequestResponse[I, O]) RequestResponse[I, O] {
		return WithResilience(inner, cfg)
	}
}

// WithResilience guards p with the configured policies, outermost first:
// bulkhead, circuit breaker, retry. An empty config returns p itself.
// Rejections by a policy become SERVICE_UNAVAILABLE or TIMEOUT errors
// naming p; errors from p pass through as they are.
func WithResilience[I, O any](p RequestResponse[I, O], cfg ResilienceConfig) RequestResponse[I, O] {
	if cfg.IsEmpty() {
		return p
	}
	var (
		cb *resilience.CircuitBreaker
		bh *resilience.Bulkhead
	)
	if cfg.CircuitBreaker != nil {
		cb = resilience.NewCircuitBreaker(*cfg.CircuitBreaker)
	}
	if cfg.Bulkhead != nil {
		bh = resilience.NewBulkhead(*cfg.Bulkhead)
	}
	retry := cfg.Retry

	guarded := around(func(ctx context.Context, inner RequestResponse[I, O], in I) (O, error) {
		call := func() (O, error) { return inner.Execute(ctx, in) }
		if retry != nil {
			once := call
			call = func() (O, error) { return resilience.Retry(ctx, *retry, once) }
		}
		if cb != nil {
			call = breaker(cb, call)
		}
		if bh == nil {
			return rejected(inner.Name(), call)
		}
		var out O
		var callErr error
		err := bh.Execute(ctx, func() error {
			out, callErr = rejected(inner.Name(), call)
			return callErr
		})
		if err != nil && callErr == nil {
			return out, policyError(inner.Name(), err)
		}
		return out, err
	})(p).(*decorated[I, O])

	if cb != nil {
		guarded.probe = func(ctx context.Context) bool {
			return cb.State() != resilience.StateOpen && p.IsAvailable(ctx)
		}
	}
	return guarded
}

// breakerRejection marks an error returned by the breaker itself.
type breakerRejection struct{ err error }

func (b breakerRejection) Error() string { return b.err.Error() }
func (b breakerRejection) Unwrap() error { return b.err }

func breaker[O any](cb *resilience.CircuitBreaker, call func() (O, error)) func() (O, error) {
	return func() (O, error) {
		var out O
		var callErr error
		err := cb.Execute(func() error {
			out, callErr = call()
			return callErr
		})
		if err != nil && callErr == nil {
			return out, breakerRejection{err}
		}
		return out, err
	}
}

// rejected converts a breaker rejection returned by call into an AppError.
func rejected[O any](service string, call func() (O, error)) (O, error) {
	out, err := call()
	var r breakerRejection
	if errors.As(err, &r) {
		return out, policyError(service, r.err)
	}
	return out, err
}

func policyError(service string, err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.ServiceUnavailable(service).WithCause(err)
	case errors.Is(err, resilience.ErrBulkheadFull), errors.Is(err, resilience.ErrBulkheadTimeout):
		return apperrors.ServiceUnavailable(service).WithCause(err).WithDetail("reason", "concurrency limit reached")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout(service).WithCause(err)
	default:
		return err
	}
}
