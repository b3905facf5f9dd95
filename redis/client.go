package redis

import (
	"context"
	"fmt"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/provider"
)

var _ provider.Provider = (*Client)(nil)

// Client is a pooled connection to Redis.
type Client struct {
	rdb    *goredis.Client
	name   string
	log    *logger.Logger
	closed atomic.Bool
}

// New opens a pool for an enabled cfg. The connection is not checked; call Ping.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	log.Debug("redis pool created", logger.Fields("addr", cfg.Addr, "db", cfg.DB, "pool_size", cfg.PoolSize))
	return &Client{rdb: goredis.NewClient(cfg.options()), name: cfg.Name, log: log}, nil
}

func (c *Client) Name() string { return c.name }

// Ping fails unless the server answers PONG.
func (c *Client) Ping(ctx context.Context) error {
	pong, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("redis ping: unexpected reply %q", pong)
	}
	return nil
}

// IsAvailable reports whether the client is open and the server answers.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return !c.closed.Load() && c.Ping(ctx) == nil
}

// Close releases the pool. Later calls are no-ops.
func (c *Client) Close() error {
	if c == nil || c.closed.Swap(true) {
		return nil
	}
	return c.rdb.Close()
}
