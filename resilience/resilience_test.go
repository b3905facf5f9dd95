package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/batchpredict/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, BackoffFactor: 2}
}

func TestRetry(t *testing.T) {
	transient := errors.New("upload interrupted")

	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt", failures: 0, err: transient, attempts: 3, wantCalls: 1},
		{name: "succeeds after retry", failures: 2, err: transient, attempts: 3, wantCalls: 3},
		{name: "exhausted", failures: 5, err: transient, attempts: 3, wantCalls: 3, wantErr: true},
		{name: "retryable app error", failures: 1, err: apperrors.ServiceUnavailable("storage"), attempts: 3, wantCalls: 2},
		{name: "non-retryable app error", failures: 5, err: apperrors.InvalidInput("key", "empty"), attempts: 3, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			out, err := Retry(context.Background(), fastRetry(tt.attempts), func() (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "published", nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr {
				if !errors.Is(err, tt.err) {
					t.Errorf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil || out != "published" {
				t.Errorf("unexpected result %q, %v", out, err)
			}
		})
	}
}

func TestRetry_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryFunc(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second}, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetry_RetryIf(t *testing.T) {
	cfg := fastRetry(5)
	cfg.RetryIf = func(err error) bool { return err.Error() != "stop" }
	calls := 0
	err := RetryFunc(context.Background(), cfg, func() error {
		calls++
		if calls == 2 {
			return errors.New("stop")
		}
		return errors.New("again")
	})
	if err == nil || err.Error() != "stop" || calls != 2 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := backoff(i+1, cfg); got != w {
			t.Errorf("attempt %d: backoff = %v, want %v", i+1, got, w)
		}
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "warehouse", MaxFailures: 2, Timeout: 20 * time.Millisecond})
	fail := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return fail })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("expected closed, got %s with %d failures", cb.State(), cb.Failures())
	}

	// A failed probe reopens the breaker.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return fail })
	}
	time.Sleep(30 * time.Millisecond)
	_ = cb.Execute(func() error { return fail })
	if cb.State() != StateOpen {
		t.Fatalf("expected failed probe to reopen, got %s", cb.State())
	}
}

func TestCircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "models", MaxFailures: 1})

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return apperrors.NotFound("model", "champion") })
		if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			t.Fatalf("expected NOT_FOUND to pass through, got %v", err)
		}
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("caller errors must not trip the breaker: state=%s failures=%d", cb.State(), cb.Failures())
	}

	_ = cb.Execute(func() error { return apperrors.ExternalServiceError("warehouse", errors.New("down")) })
	if cb.State() != StateOpen {
		t.Fatalf("expected service errors to open the breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "concurrent"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%10 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	_ = cb.State()
}

func TestBulkhead(t *testing.T) {
	t.Run("rejects when full", func(t *testing.T) {
		b := NewBulkhead(BulkheadConfig{Name: "inference", MaxConcurrent: 1})
		started, release := make(chan struct{}), make(chan struct{})
		go func() {
			_ = b.Execute(context.Background(), func() error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started
		defer close(release)

		if b.InUse() != 1 {
			t.Fatalf("expected slot in use, inUse=%d", b.InUse())
		}
		if err := b.Execute(context.Background(), func() error { return nil }); !errors.Is(err, ErrBulkheadFull) {
			t.Fatalf("expected ErrBulkheadFull, got %v", err)
		}
	})

	t.Run("times out waiting", func(t *testing.T) {
		b := NewBulkhead(BulkheadConfig{Name: "inference", MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
		started, release := make(chan struct{}), make(chan struct{})
		go func() {
			_ = b.Execute(context.Background(), func() error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started
		defer close(release)

		if err := b.Execute(context.Background(), func() error { return nil }); !errors.Is(err, ErrBulkheadTimeout) {
			t.Fatalf("expected ErrBulkheadTimeout, got %v", err)
		}
	})

	t.Run("limits concurrency", func(t *testing.T) {
		b := NewBulkhead(BulkheadConfig{Name: "inference", MaxConcurrent: 2, MaxWait: time.Second})
		var running, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = b.Execute(context.Background(), func() error {
					n := running.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					running.Add(-1)
					return nil
				})
			}()
		}
		wg.Wait()
		if peak.Load() > 2 {
			t.Fatalf("expected at most 2 concurrent calls, got %d", peak.Load())
		}
	})

	t.Run("default capacity", func(t *testing.T) {
		if c := NewBulkhead(BulkheadConfig{Name: "inference"}).Capacity(); c != 10 {
			t.Fatalf("expected default capacity 10, got %d", c)
		}
	})
}
