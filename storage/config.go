package storage

import (
	"fmt"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/validation"
)

// Backends.
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

const (
	DefaultBasePath = "./data/objects"
	DefaultRegion   = "us-east-1"
)

// Config selects and configures the backend every bucket is served from.
type Config struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Provider string `mapstructure:"provider" json:"provider" yaml:"provider"`

	// BasePath roots the local backend. Bucket b of scheme s lives in BasePath/s/b.
	BasePath string `mapstructure:"base_path" json:"base_path" yaml:"base_path"`

	Region string `mapstructure:"region" json:"region" yaml:"region"`
	// Endpoint points the s3 backend at an S3-compatible service such as MinIO.
	Endpoint       string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	AccessKey      string `mapstructure:"access_key" json:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" json:"-" yaml:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style" json:"force_path_style" yaml:"force_path_style"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
}

// Validate checks the fields the selected provider needs.
func (c *Config) Validate() error {
	v := validation.New().OneOf("storage.provider", c.Provider, []string{ProviderLocal, ProviderS3})
	switch c.Provider {
	case ProviderLocal:
		v.Required("storage.base_path", c.BasePath)
	case ProviderS3:
		v.Required("storage.region", c.Region).
			Custom((c.AccessKey == "") == (c.SecretKey == ""), "storage.secret_key", "must be set together with access_key")
	}
	return v.Err()
}

// Factory opens the Storage serving one bucket of one URI scheme.
type Factory func(cfg Config, scheme, bucket string, log *logger.Logger) (Storage, error)

var factories = map[string]Factory{}

// RegisterFactory makes a backend available under name. Backend packages
// call it from init, so a binary blank-imports the backends it supports.
func RegisterFactory(name string, f Factory) {
	factories[name] = f
}

func factory(cfg *Config) (Factory, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, ok := factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("storage: provider %q is not linked in", cfg.Provider)
	}
	return f, nil
}

// New opens the Storage for scheme://bucket.
func New(cfg Config, scheme, bucket string, log *logger.Logger) (Storage, error) {
	f, err := factory(&cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("opening bucket", logger.Fields("provider", cfg.Provider, "scheme", scheme, "bucket", bucket))
	return f(cfg, scheme, bucket, log)
}

// NewResolver returns a Resolver that opens each bucket on first use.
func NewResolver(cfg Config, log *logger.Logger) (*Resolver, error) {
	f, err := factory(&cfg)
	if err != nil {
		return nil, err
	}
	log = log.WithComponent("storage")
	return NewResolverFunc(func(scheme, bucket string) (Storage, error) {
		log.Debug("opening bucket", logger.Fields("provider", cfg.Provider, "scheme", scheme, "bucket", bucket))
		return f(cfg, scheme, bucket, log)
	}), nil
}
