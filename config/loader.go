package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type options struct {
	configFile string
	envFile    string
	aliases    map[string]string
	overrides  map[string]any
	exists     func(path string) bool
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*options)

// WithConfigFile reads path instead of searching for config.yml.
func WithConfigFile(path string) LoaderOption {
	return func(o *options) { o.configFile = path }
}

// WithEnvFile loads path instead of searching for a .env file.
func WithEnvFile(path string) LoaderOption {
	return func(o *options) { o.envFile = path }
}

// WithEnvAliases maps extra environment variable names onto config keys.
// An alias wins over the variable derived from the key.
func WithEnvAliases(aliases map[string]string) LoaderOption {
	return func(o *options) {
		for env, key := range aliases {
			o.aliases[env] = key
		}
	}
}

// WithOverrides sets keys after every other source, typically from flags.
func WithOverrides(overrides map[string]any) LoaderOption {
	return func(o *options) {
		for k, v := range overrides {
			o.overrides[k] = v
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Locate returns the first existing config file and .env file among the
// standard locations of service, or "" when none exists.
//
//	./cmd/<service>/config.{yml,yaml}, ./config/config.{yml,yaml}, ./config.{yml,yaml}
//	./cmd/<service>/.env, ./.env.<service>, ./config/.env, ./.env
func Locate(service string, exists func(string) bool) (configFile, envFile string) {
	var configs []string
	for _, dir := range []string{"./cmd/" + service, "./config", "."} {
		configs = append(configs, dir+"/config.yml", dir+"/config.yaml")
	}
	envs := []string{"./cmd/" + service + "/.env", "./.env." + service, "./config/.env", "./.env"}
	first := func(paths []string) string {
		if i := slices.IndexFunc(paths, exists); i >= 0 {
			return paths[i]
		}
		return ""
	}
	return first(configs), first(envs)
}

// LoadConfig decodes the configuration of service into cfg, a pointer to a
// struct with mapstructure tags. Later sources win:
//
//  1. the config file
//  2. environment variables, including those of the .env file; the key
//     pipeline.project_id is read from PIPELINE_PROJECT_ID
//  3. env aliases
//  4. overrides
//
// A config or .env file that does not exist is skipped.
func LoadConfig(service string, cfg any, opts ...LoaderOption) error {
	o := options{aliases: map[string]string{}, overrides: map[string]any{}, exists: fileExists}
	for _, opt := range opts {
		opt(&o)
	}
	configFile, envFile := Locate(service, o.exists)
	if o.configFile != "" {
		configFile = o.configFile
	}
	if o.envFile != "" {
		envFile = o.envFile
	}

	v := viper.New()
	if configFile != "" && o.exists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	if envFile != "" && o.exists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	for _, key := range Keys(cfg) {
		if err := v.BindEnv(key, EnvName(key)); err != nil {
			return fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	for _, env := range sortedKeys(o.aliases) {
		if value := os.Getenv(env); value != "" {
			v.Set(o.aliases[env], value)
		}
	}
	for _, key := range sortedKeys(o.overrides) {
		v.Set(key, o.overrides[key])
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", service, err)
	}
	return nil
}

// EnvName is the environment variable read for key.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

var timeType = reflect.TypeFor[time.Time]()

// Keys lists the dotted leaf keys of the struct cfg points to, following
// mapstructure tags. Squashed structs share the key space of their parent.
func Keys(cfg any) []string {
	t := reflect.TypeOf(cfg)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	collectKeys(t, "", &keys)
	slices.Sort(keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, flags, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		nested := ft.Kind() == reflect.Struct && ft != timeType
		if nested && strings.Contains(flags, "squash") {
			collectKeys(ft, prefix, keys)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := prefix + name
		if nested {
			collectKeys(ft, key+".", keys)
			continue
		}
		*keys = append(*keys, key)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
