package storage

import (
	"context"
	"sync/atomic"

	"github.com/kbukum/batchpredict/component"
	"github.com/kbukum/batchpredict/logger"
)

var _ component.Component = (*Component)(nil)

// Component mounts the configured backend on Start and hands out the
// Resolver addressing it.
type Component struct {
	cfg      Config
	log      *logger.Logger
	resolver atomic.Pointer[Resolver]
}

func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{cfg: cfg, log: log.WithComponent("storage")}
}

// Resolver is nil while the component is disabled or stopped.
func (c *Component) Resolver() *Resolver { return c.resolver.Load() }

func (c *Component) Name() string { return "storage" }

func (c *Component) Start(context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("storage disabled")
		return nil
	}
	r, err := NewResolver(c.cfg, c.log)
	if err != nil {
		return err
	}
	c.resolver.Store(r)
	c.log.Info("storage mounted", logger.Fields("provider", c.cfg.Provider, "base_path", c.cfg.BasePath))
	return nil
}

func (c *Component) Stop(context.Context) error {
	c.resolver.Store(nil)
	return nil
}

func (c *Component) Health(context.Context) component.Health {
	switch {
	case !c.cfg.Enabled:
		return component.Disabled(c.Name())
	case c.Resolver() == nil:
		return component.Unhealthy(c.Name(), "not started")
	}
	return component.Healthy(c.Name(), "provider="+c.cfg.Provider)
}
