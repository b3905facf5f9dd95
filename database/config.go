package database

import (
	"time"

	"github.com/kbukum/batchpredict/validation"
)

// Config describes one SQLite database.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Name labels the connection in logs and health reports.
	Name string `mapstructure:"name" yaml:"name"`
	// DSN is a file path, or ":memory:".
	DSN string `mapstructure:"dsn" yaml:"dsn"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// ConnectAttempts bounds the tries to open and ping the database.
	ConnectAttempts int `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	// AutoMigrate creates the tables of the models given to WithAutoMigrate on start.
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`

	// SlowQuery is the duration from which statements are logged as slow.
	SlowQuery time.Duration `mapstructure:"slow_query" yaml:"slow_query"`
	// LogLevel is silent, error, warn or info.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultName names a connection whose config leaves Name empty.
const DefaultName = "database"

// ApplyDefaults fills unset fields. SQLite serializes writers, so the pool
// defaults to a single connection.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.SlowQuery == 0 {
		c.SlowQuery = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks an enabled config.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.New().
		Required("dsn", c.DSN).
		Min("max_open_conns", c.MaxOpenConns, 1).
		Range("max_idle_conns", c.MaxIdleConns, 1, max(c.MaxOpenConns, 1)).
		Min("connect_attempts", c.ConnectAttempts, 1).
		Custom(c.ConnMaxLifetime >= 0 && c.ConnMaxIdleTime >= 0, "conn_max_lifetime", "must not be negative").
		Custom(c.SlowQuery >= 0, "slow_query", "must not be negative").
		OneOf("log_level", c.LogLevel, []string{"silent", "error", "warn", "info"}).
		Err()
}
