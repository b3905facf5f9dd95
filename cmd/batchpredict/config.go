package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/config"
	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/database"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/observability"
	"github.com/kbukum/batchpredict/pipelines/prediction"
	"github.com/kbukum/batchpredict/provider"
	"github.com/kbukum/batchpredict/redis"
	"github.com/kbukum/batchpredict/resilience"
	"github.com/kbukum/batchpredict/storage"
	"github.com/kbukum/batchpredict/version"
)

// envAliases binds the deployment environment variables to pipeline parameters.
var envAliases = map[string]string{
	"VERTEX_PROJECT_ID":       "pipeline.project_id",
	"VERTEX_LOCATION":         "pipeline.project_location",
	"PIPELINE_FILES_GCS_PATH": "pipeline.pipeline_files_gcs_path",
	"TRAIN_STATS_GCS_PATH":    "pipeline.tfdv_train_stats_path",
}

// AppConfig is the configuration of the batchpredict binary.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Pipeline prediction.Params `yaml:"pipeline" mapstructure:"pipeline"`
	Output   string            `yaml:"output" mapstructure:"output"`
	// PublishURI, when set, receives a copy of every compiled definition.
	PublishURI string                 `yaml:"publish_uri" mapstructure:"publish_uri"`
	Publish    resilience.RetryConfig `yaml:"publish" mapstructure:"publish"`

	Engine        EngineConfig              `yaml:"engine" mapstructure:"engine"`
	Storage       storage.Config            `yaml:"storage" mapstructure:"storage"`
	Warehouse     database.Config           `yaml:"warehouse" mapstructure:"warehouse"`
	History       database.Config           `yaml:"history" mapstructure:"history"`
	Models        ModelsConfig              `yaml:"models" mapstructure:"models"`
	Observability observability.Config      `yaml:"observability" mapstructure:"observability"`
	Resilience    provider.ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// EngineConfig tunes step execution.
type EngineConfig struct {
	// MaxParallel limits concurrent steps per level (0 = unlimited).
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel"`
	// RowsPerShard is the export shard size of the warehouse.
	RowsPerShard int `yaml:"rows_per_shard" mapstructure:"rows_per_shard"`
}

// ModelsConfig selects the model registry. Redis is used when enabled,
// otherwise an in-memory registry seeded with Seed.
type ModelsConfig struct {
	Redis redis.Config `yaml:"redis" mapstructure:"redis"`
	Seed  []ModelSeed  `yaml:"seed" mapstructure:"seed"`
}

// ModelSeed is a model registered at startup.
type ModelSeed struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Label       string `yaml:"label" mapstructure:"label"`
	Project     string `yaml:"project" mapstructure:"project"`
	Location    string `yaml:"location" mapstructure:"location"`
	Version     string `yaml:"version" mapstructure:"version"`
	ArtifactURI string `yaml:"artifact_uri" mapstructure:"artifact_uri"`
	Framework   string `yaml:"framework" mapstructure:"framework"`
}

// Model returns the registry entry, defaulting project and location to
// those of the pipeline.
func (s ModelSeed) Model(p prediction.Params) model.Model {
	m := model.Model{
		Name: s.Name, Label: s.Label, Project: s.Project, Location: s.Location,
		Version: s.Version, ArtifactURI: s.ArtifactURI, Framework: s.Framework,
	}
	if m.Project == "" {
		m.Project = p.ProjectID
	}
	if m.Location == "" {
		m.Location = p.ProjectLocation
	}
	return m
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		ServiceConfig: config.ServiceConfig{Name: version.Program},
		Pipeline:      prediction.DefaultParams(),
		Publish:       resilience.DefaultRetryConfig(),
		Storage:       storage.Config{Enabled: true, Provider: storage.ProviderLocal},
		Warehouse:     database.Config{Enabled: true, Name: "warehouse", DSN: "./data/warehouse.db"},
		History:       database.Config{Name: "history", DSN: "./data/history.db"},
	}
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Pipeline.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Warehouse.ApplyDefaults()
	c.History.ApplyDefaults()
	c.Observability.ApplyDefaults()
	if c.Models.Redis.Enabled {
		c.Models.Redis.ApplyDefaults()
	}
}

// Validate checks every section except the pipeline parameters, which are
// checked when the graph is built.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Warehouse.Validate(); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := c.Models.Redis.Validate(); err != nil {
		return fmt.Errorf("models: %w", err)
	}
	if c.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine.max_parallel must not be negative")
	}
	return c.Observability.Validate()
}

// loadConfig reads the configuration. Every --set key=value becomes an
// override of pipeline.<key>.
func loadConfig(opts *rootOptions) (*AppConfig, error) {
	sets, err := parseSets(opts.sets)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]any, len(sets))
	for k, v := range sets {
		overrides["pipeline."+k] = v
	}

	cfg := defaultConfig()
	loaderOpts := []config.LoaderOption{
		config.WithEnvAliases(envAliases),
		config.WithOverrides(overrides),
	}
	if opts.configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(opts.configFile))
	}
	if opts.envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(opts.envFile))
	}
	if err := config.LoadConfig(version.Program, cfg, loaderOpts...); err != nil {
		return nil, errors.InvalidInput("config", err.Error()).WithCause(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("config", err.Error()).WithCause(err)
	}
	return cfg, nil
}

// parseSets splits key=value pairs.
func parseSets(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.InvalidFormat("--set", "key=value").WithDetail("value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// paramOverrides converts the --set pairs naming declared parameters of g to
// values of the declared kinds. Other keys are ignored.
func paramOverrides(g *dag.Graph, pairs []string) (map[string]any, error) {
	sets, err := parseSets(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, p := range g.Params() {
		raw, ok := sets[p.Name]
		if !ok {
			continue
		}
		v, err := parseKind(p.Kind, raw)
		if err != nil {
			return nil, errors.InvalidInput(p.Name, fmt.Sprintf("expected %s", p.Kind)).WithCause(err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func parseKind(kind dag.ParamKind, raw string) (any, error) {
	switch kind {
	case dag.KindInt:
		return strconv.Atoi(raw)
	case dag.KindFloat:
		return strconv.ParseFloat(raw, 64)
	case dag.KindBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}
