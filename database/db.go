package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/resilience"
)

// DB is an open GORM connection pool.
type DB struct {
	GormDB *gorm.DB
	name   string
	log    *logger.Logger
	once   sync.Once
}

// New opens dialector, retrying the open and the first ping up to
// cfg.ConnectAttempts times.
func New(ctx context.Context, dialector gorm.Dialector, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	gormCfg := &gorm.Config{Logger: newQueryLogger(log, cfg.Name, cfg.SlowQuery, parseLogLevel(cfg.LogLevel))}

	attempt := 0
	retry := resilience.RetryConfig{
		MaxAttempts:    cfg.ConnectAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2,
		RetryIf: func(err error) bool {
			log.Warn("database connect failed", logger.Fields("name", cfg.Name, "attempt", attempt, "error", err.Error()))
			return true
		},
	}
	gdb, err := resilience.Retry(ctx, retry, func() (*gorm.DB, error) {
		attempt++
		gdb, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, err
		}
		if err := pool(ctx, gdb, cfg); err != nil {
			return nil, err
		}
		return gdb, nil
	})
	if err != nil {
		return nil, fmt.Errorf("database %s: connect after %d attempts: %w", cfg.Name, attempt, err)
	}
	log.Info("database connected", logger.Fields("name", cfg.Name, "attempt", attempt))
	return &DB{GormDB: gdb, name: cfg.Name, log: log}, nil
}

func pool(ctx context.Context, gdb *gorm.DB, cfg Config) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

func (d *DB) Name() string { return d.name }

// Close releases the pool. Later calls do nothing.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		sqlDB, dbErr := d.GormDB.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
		d.log.Info("database closed", logger.Fields("name", d.name))
	})
	return err
}

func (d *DB) PingContext(ctx context.Context) error {
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithContext returns a session bound to ctx.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.GormDB.WithContext(ctx)
}

// AutoMigrate creates or alters the tables of models.
func (d *DB) AutoMigrate(models ...any) error {
	for _, m := range models {
		if err := d.GormDB.AutoMigrate(m); err != nil {
			return fmt.Errorf("database %s: migrate %T: %w", d.name, m, err)
		}
	}
	return nil
}

// WithTransaction runs fn in a transaction, committing when it returns nil.
// The error of fn is returned as is.
func (d *DB) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.GormDB.WithContext(ctx).Transaction(fn)
}

// Stats is a snapshot of connectivity and pool usage.
type Stats struct {
	Connected bool
	Error     string
	Latency   time.Duration
	Open      int
	InUse     int
	Idle      int
}

// Stats pings the database and reads the pool counters.
func (d *DB) Stats(ctx context.Context) Stats {
	start := time.Now()
	sqlDB, err := d.GormDB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return Stats{Error: err.Error(), Latency: time.Since(start)}
	}
	s := sqlDB.Stats()
	return Stats{Connected: true, Latency: time.Since(start), Open: s.OpenConnections, InUse: s.InUse, Idle: s.Idle}
}
