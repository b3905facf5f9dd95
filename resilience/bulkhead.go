package resilience

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// MaxConcurrent defaults to 10.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// MaxWait is how long to wait for a free slot; 0 rejects at once.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// Bulkhead caps the number of concurrent calls.
type Bulkhead struct {
	wait  time.Duration
	slots chan struct{}
}

func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{wait: cfg.MaxWait, slots: make(chan struct{}, cfg.MaxConcurrent)}
}

// Execute runs fn in a free slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-b.slots }()
	return fn()
}

// InUse is the number of calls currently running.
func (b *Bulkhead) InUse() int { return len(b.slots) }

// Capacity is the maximum number of concurrent calls.
func (b *Bulkhead) Capacity() int { return cap(b.slots) }

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}
	if b.wait <= 0 {
		return ErrBulkheadFull
	}
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
