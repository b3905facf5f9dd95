package main

import (
	"context"
	"errors"

	"github.com/kbukum/batchpredict/component"
	"github.com/kbukum/batchpredict/components/inference"
	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/components/skew"
	"github.com/kbukum/batchpredict/components/stats"
	"github.com/kbukum/batchpredict/components/warehouse"
	"github.com/kbukum/batchpredict/database"
	"github.com/kbukum/batchpredict/history"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/pipelines/prediction"
	"github.com/kbukum/batchpredict/redis"
	"github.com/kbukum/batchpredict/storage"

	_ "github.com/kbukum/batchpredict/storage/local"
	_ "github.com/kbukum/batchpredict/storage/s3"
)

// backends owns the started infrastructure and the collaborators built on it.
type backends struct {
	registry   *component.Registry
	storage    *storage.Component
	warehouse  *database.Component
	history    *database.Component
	components prediction.Components
	runs       *history.Store
	log        *logger.Logger
}

// openBackends starts storage, the warehouse, the run history and the model
// registry, and builds the pipeline collaborators over them. A disabled
// backend leaves the collaborators that need it unset.
func openBackends(ctx context.Context, cfg *AppConfig, log *logger.Logger) (*backends, error) {
	b := &backends{
		registry:  component.NewRegistry(log),
		storage:   storage.NewComponent(cfg.Storage, log),
		warehouse: database.NewComponent(cfg.Warehouse, log),
		history:   database.NewComponent(cfg.History, log),
		log:       log,
	}
	var redisComp *redis.Component
	all := []component.Component{b.storage, b.warehouse, b.history}
	if cfg.Models.Redis.Enabled {
		redisComp = redis.NewComponent(cfg.Models.Redis, log)
		all = append(all, redisComp)
	}
	for _, c := range all {
		if err := b.registry.Register(c); err != nil {
			return nil, err
		}
	}
	if err := b.registry.StartAll(ctx); err != nil {
		return nil, errors.Join(err, b.registry.StopAll(ctx))
	}

	var registry model.Registry = model.NewMemoryRegistry()
	if redisComp != nil {
		registry = model.NewRedisRegistryFromClient(redisComp.Client(), log)
	}
	for _, seed := range cfg.Models.Seed {
		if err := registry.Register(ctx, seed.Model(cfg.Pipeline)); err != nil {
			return nil, errors.Join(err, b.close(ctx))
		}
	}

	b.components = prediction.Components{
		Models:     model.NewResolver(registry, log),
		Resilience: cfg.Resilience,
	}
	if store := b.storage.Resolver(); store != nil {
		b.components.Statistics = stats.NewEngine(store, log)
		b.components.Skew = skew.NewValidator(store, log)
		b.components.Predictor = inference.NewEngine(store, inference.ByFramework(map[string]inference.ScorerFactory{
			inference.FrameworkLinear: inference.LinearScorerFactory(store),
		}), log)
		if db := b.warehouse.DB(); db != nil {
			b.components.Warehouse = warehouse.NewSQLWarehouse(db, store, log, warehouse.WithRowsPerShard(cfg.Engine.RowsPerShard))
		}
	}

	if db := b.history.DB(); db != nil {
		runs, err := history.NewStore(ctx, db, log)
		if err != nil {
			return nil, errors.Join(err, b.close(ctx))
		}
		b.runs = runs
	}
	return b, nil
}

func (b *backends) close(ctx context.Context) error {
	for _, h := range b.registry.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			b.log.Warn("component unhealthy at shutdown", logger.Fields("component", h.Name, "message", h.Message))
		}
	}
	return b.registry.StopAll(ctx)
}
