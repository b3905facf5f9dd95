package component

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/batchpredict/logger"
)

// StopTimeout bounds the Stop call of each component.
const StopTimeout = 10 * time.Second

// Registry starts components in registration order and stops the started
// ones in reverse.
type Registry struct {
	log *logger.Logger

	mu         sync.Mutex
	components []Component
	started    map[string]bool
}

// NewRegistry returns an empty registry logging to log; nil means no logging.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{log: log.WithComponent("components"), started: make(map[string]bool)}
}

// Register appends c. Register a component after the ones it depends on.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookup(c.Name()) != nil {
		return fmt.Errorf("component %s already registered", c.Name())
	}
	r.components = append(r.components, c)
	return nil
}

// StartAll starts every component that is not running, stopping at the
// first failure. Components started before the failure keep running; call
// StopAll to release them.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.components {
		if r.started[c.Name()] {
			continue
		}
		if err := c.Start(ctx); err != nil {
			r.log.Error("component start failed", logger.Fields("component", c.Name(), logger.FieldError, err.Error()))
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		r.started[c.Name()] = true
		r.log.Debug("component started", logger.Fields("component", c.Name()))
	}
	return nil
}

// StopAll stops the started components in reverse order and joins their errors.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, c := range slices.Backward(r.components) {
		if !r.started[c.Name()] {
			continue
		}
		delete(r.started, c.Name())
		if err := r.stop(ctx, c); err != nil {
			r.log.Error("component stop failed", logger.Fields("component", c.Name(), logger.FieldError, err.Error()))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, c Component) error {
	ctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()
	return c.Stop(ctx)
}

// HealthAll probes every component in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.Lock()
	components := slices.Clone(r.components)
	r.mu.Unlock()

	out := make([]Health, len(components))
	for i, c := range components {
		out[i] = c.Health(ctx)
	}
	return out
}

// Get returns the component named name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name)
}

func (r *Registry) lookup(name string) Component {
	for _, c := range r.components {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
