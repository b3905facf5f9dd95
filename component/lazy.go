package component

import (
	"context"
	"fmt"
	"sync"
)

// Lazy runs an initializer on first use. A failed initialization is tried
// again on the next call.
type Lazy struct {
	name  string
	init  func(ctx context.Context) error
	check func(ctx context.Context) error
	close func() error

	mu    sync.Mutex
	ready bool
}

// LazyOption configures a Lazy.
type LazyOption func(*Lazy)

// WithCheck sets the probe run by Check once initialized.
func WithCheck(fn func(ctx context.Context) error) LazyOption {
	return func(l *Lazy) { l.check = fn }
}

// WithClose sets the function Close calls when initialized.
func WithClose(fn func() error) LazyOption {
	return func(l *Lazy) { l.close = fn }
}

func NewLazy(name string, init func(ctx context.Context) error, opts ...LazyOption) *Lazy {
	l := &Lazy{name: name, init: init}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lazy) Name() string { return l.name }

// Initialize runs the initializer unless it already succeeded.
func (l *Lazy) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	if l.init == nil {
		return fmt.Errorf("%s: no initializer", l.name)
	}
	if err := l.init(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", l.name, err)
	}
	l.ready = true
	return nil
}

// Ready reports whether initialization has succeeded.
func (l *Lazy) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Check fails when not initialized, otherwise runs the probe if any.
func (l *Lazy) Check(ctx context.Context) error {
	if !l.Ready() {
		return fmt.Errorf("%s not initialized", l.name)
	}
	if l.check == nil {
		return nil
	}
	return l.check(ctx)
}

// Close releases what Initialize acquired. The next use initializes again.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	wasReady := l.ready
	l.ready = false
	if wasReady && l.close != nil {
		return l.close()
	}
	return nil
}
