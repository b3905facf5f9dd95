package database

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbukum/batchpredict/component"
	"github.com/kbukum/batchpredict/logger"
)

var _ component.Component = (*Component)(nil)

// DriverFunc builds the GORM dialector for a DSN.
type DriverFunc func(dsn string) gorm.Dialector

// Component connects on Start. A disabled config starts nothing and DB stays nil.
type Component struct {
	cfg    Config
	log    *logger.Logger
	driver DriverFunc
	models []any
	db     *DB
}

// NewComponent uses SQLite unless WithDriver picks another dialector.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{cfg: cfg, log: log.WithComponent("database"), driver: sqlite.Open}
}

func (c *Component) WithDriver(fn DriverFunc) *Component {
	c.driver = fn
	return c
}

// WithAutoMigrate adds models migrated on Start when cfg.AutoMigrate is set.
func (c *Component) WithAutoMigrate(models ...any) *Component {
	c.models = append(c.models, models...)
	return c
}

func (c *Component) DB() *DB { return c.db }

// Name is the connection name, so a warehouse and a history database can
// share a registry.
func (c *Component) Name() string {
	if c.cfg.Name == "" {
		return DefaultName
	}
	return c.cfg.Name
}

func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("database disabled", logger.Fields("name", c.Name()))
		return nil
	}
	cfg := c.cfg
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s config: %w", c.Name(), err)
	}
	db, err := New(ctx, c.driver(cfg.DSN), cfg, c.log)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	if cfg.AutoMigrate && len(c.models) > 0 {
		if err := db.AutoMigrate(c.models...); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s migrate: %w", c.Name(), err)
		}
	}
	c.db = db
	return nil
}

func (c *Component) Stop(context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Component) Health(ctx context.Context) component.Health {
	switch {
	case !c.cfg.Enabled:
		return component.Disabled(c.Name())
	case c.db == nil:
		return component.Unhealthy(c.Name(), "not started")
	}
	s := c.db.Stats(ctx)
	if !s.Connected {
		return component.Unhealthy(c.Name(), "ping: "+s.Error)
	}
	return component.Healthy(c.Name(), fmt.Sprintf("open=%d in_use=%d idle=%d", s.Open, s.InUse, s.Idle))
}
