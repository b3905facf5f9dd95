// Package skew compares serving statistics against training statistics under
// a feature schema and decides whether detected anomalies halt a run.
package skew

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/storage"
)

// Schema declares the expected features.
type Schema struct {
	DefaultEnvironment []string  `json:"default_environment,omitempty" yaml:"default_environment,omitempty"`
	Features           []Feature `json:"feature" yaml:"feature"`
}

// Feature is one schema entry.
type Feature struct {
	Name string `json:"name" yaml:"name"`
	// Type is INT, FLOAT or BYTES.
	Type             string      `json:"type,omitempty" yaml:"type,omitempty"`
	Presence         *Presence   `json:"presence,omitempty" yaml:"presence,omitempty"`
	SkewComparator   *Comparator `json:"skew_comparator,omitempty" yaml:"skew_comparator,omitempty"`
	InEnvironment    []string    `json:"in_environment,omitempty" yaml:"in_environment,omitempty"`
	NotInEnvironment []string    `json:"not_in_environment,omitempty" yaml:"not_in_environment,omitempty"`
}

// Presence bounds how often a feature must carry a value.
type Presence struct {
	MinFraction float64 `json:"min_fraction" yaml:"min_fraction"`
}

// Comparator configures skew detection between training and serving.
type Comparator struct {
	InfinityNorm            *Threshold `json:"infinity_norm,omitempty" yaml:"infinity_norm,omitempty"`
	JensenShannonDivergence *Threshold `json:"jensen_shannon_divergence,omitempty" yaml:"jensen_shannon_divergence,omitempty"`
}

// Threshold is the largest tolerated distance.
type Threshold struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// AppliesTo reports whether the feature is expected in env.
func (f Feature) AppliesTo(env string, defaults []string) bool {
	if slices.Contains(f.NotInEnvironment, env) {
		return false
	}
	if len(f.InEnvironment) > 0 {
		return slices.Contains(f.InEnvironment, env)
	}
	return len(defaults) == 0 || slices.Contains(defaults, env)
}

// Numeric reports whether the schema type holds numbers.
func (f Feature) Numeric() bool {
	switch strings.ToUpper(f.Type) {
	case "INT", "FLOAT":
		return true
	}
	return false
}

// Feature looks up a schema feature by name.
func (s Schema) Feature(name string) (Feature, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// ParseSchema decodes a schema. The format follows the file extension of
// name: .json, .yaml/.yml, anything else is read as protobuf text format.
func ParseSchema(name string, data []byte) (Schema, error) {
	var (
		s   Schema
		err error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		err = json.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		var raw []byte
		if raw, err = textprotoToJSON(data, schemaRepeated); err == nil {
			err = json.Unmarshal(raw, &s)
		}
	}
	if err != nil {
		return Schema{}, errors.InvalidFormat("schema", "JSON, YAML or protobuf text schema").WithCause(err).WithDetail("path", name)
	}
	for i, f := range s.Features {
		if f.Name == "" {
			return Schema{}, errors.MissingField("feature.name").WithDetail("index", i)
		}
	}
	return s, nil
}

// LoadSchema reads and parses a schema from storage.
func LoadSchema(ctx context.Context, store *storage.Resolver, uri string) (Schema, error) {
	data, err := store.ReadAll(ctx, uri)
	if err != nil {
		return Schema{}, err
	}
	return ParseSchema(uri, data)
}

// schemaRepeated lists the schema fields that are lists even when they occur once.
var schemaRepeated = map[string]bool{
	"feature":             true,
	"default_environment": true,
	"in_environment":      true,
	"not_in_environment":  true,
	"string_domain":       true,
	"value":               true,
}
