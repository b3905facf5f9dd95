package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/batchpredict/component"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/redis"
)

// KeyPrefix is prepended to every registry key in Redis.
const KeyPrefix = "models"

// RedisRegistry stores models as JSON under models:{project}:{location}:{name}:{label}.
// The connection is opened on first use.
type RedisRegistry struct {
	lazy *component.Lazy
	cfg  redis.Config
	log  *logger.Logger

	mu     sync.RWMutex
	client *redis.Client
	store  *redis.JSONStore[Model]
}

var (
	_ Registry            = (*RedisRegistry)(nil)
	_ component.Component = (*RedisRegistry)(nil)
)

// NewRedisRegistry creates a registry that connects with cfg when first used.
func NewRedisRegistry(cfg redis.Config, log *logger.Logger) *RedisRegistry {
	r := &RedisRegistry{cfg: cfg, log: log.WithComponent("model-registry")}
	r.lazy = component.NewLazy("model-registry", r.connect,
		component.WithCheck(func(ctx context.Context) error { return r.current().Ping(ctx) }),
		component.WithClose(func() error { return r.current().Close() }),
	)
	return r
}

// NewRedisRegistryFromClient wraps an already connected client.
func NewRedisRegistryFromClient(client *redis.Client, log *logger.Logger) *RedisRegistry {
	r := &RedisRegistry{log: log.WithComponent("model-registry"), client: client, store: redis.NewJSONStore[Model](client, KeyPrefix)}
	r.lazy = component.NewLazy("model-registry", client.Ping, component.WithCheck(client.Ping))
	return r
}

func (r *RedisRegistry) connect(ctx context.Context) error {
	cfg := r.cfg
	cfg.Enabled = true
	client, err := redis.New(cfg, r.log)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return err
	}
	r.mu.Lock()
	r.client = client
	r.store = redis.NewJSONStore[Model](client, KeyPrefix)
	r.mu.Unlock()
	return nil
}

func (r *RedisRegistry) current() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *RedisRegistry) ready(ctx context.Context) (*redis.JSONStore[Model], error) {
	if err := r.lazy.Initialize(ctx); err != nil {
		return nil, errors.ServiceUnavailable("model registry").WithCause(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store, nil
}

// Get implements Registry.
func (r *RedisRegistry) Get(ctx context.Context, q Query) (*Model, error) {
	store, err := r.ready(ctx)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, q.Key())
}

// Register implements Registry. Registering the same key replaces the model.
func (r *RedisRegistry) Register(ctx context.Context, m Model) error {
	if m.Empty() {
		return errors.MissingField("name")
	}
	store, err := r.ready(ctx)
	if err != nil {
		return err
	}
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now().UTC()
	}
	if err := store.Put(ctx, m.Key(), &m, 0); err != nil {
		return err
	}
	r.log.WithContext(ctx).Info("model registered", logger.Fields("model", m.Key(), "version", m.Version))
	return nil
}

// List returns the keys of every model in project/location.
func (r *RedisRegistry) List(ctx context.Context, project, location string) ([]string, error) {
	store, err := r.ready(ctx)
	if err != nil {
		return nil, err
	}
	return store.Keys(ctx, fmt.Sprintf("%s:%s:*", project, location))
}

// Name implements component.Component.
func (r *RedisRegistry) Name() string { return "model-registry" }

// Start connects eagerly.
func (r *RedisRegistry) Start(ctx context.Context) error { return r.lazy.Initialize(ctx) }

// Stop closes the connection.
func (r *RedisRegistry) Stop(_ context.Context) error { return r.lazy.Close() }

// Health implements component.Component.
func (r *RedisRegistry) Health(ctx context.Context) component.Health {
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	if !r.lazy.Ready() {
		h.Status = component.StatusDegraded
		h.Message = "not connected"
		return h
	}
	if err := r.lazy.Check(ctx); err != nil {
		h.Status = component.StatusUnhealthy
		h.Message = err.Error()
	}
	return h
}
