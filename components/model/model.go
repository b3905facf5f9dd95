// Package model resolves registered models by name and label.
package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/validation"
)

// Model is a registered model version.
type Model struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Project  string `json:"project"`
	Location string `json:"location"`
	Version  string `json:"version,omitempty"`
	// ArtifactURI points at the stored model artifact.
	ArtifactURI string `json:"artifact_uri,omitempty"`
	// Framework names the scorer able to serve the artifact.
	Framework    string    `json:"framework,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// Empty reports whether no model was resolved.
func (m Model) Empty() bool { return m.Name == "" }

// ResourceName returns projects/{project}/locations/{location}/models/{name}@{label}.
func (m Model) ResourceName() string {
	if m.Empty() {
		return ""
	}
	return fmt.Sprintf("projects/%s/locations/%s/models/%s@%s", m.Project, m.Location, m.Name, m.Label)
}

// Query selects a model.
type Query struct {
	Project        string
	Location       string
	Name           string
	Label          string
	FailOnNotFound bool
}

// Key returns {project}:{location}:{name}:{label}.
func (q Query) Key() string {
	return strings.Join([]string{q.Project, q.Location, q.Name, q.Label}, ":")
}

func (q Query) validate() error {
	return validation.New().
		Required("project_id", q.Project).
		Required("project_location", q.Location).
		Required("model_name", q.Name).
		Required("model_label", q.Label).
		Custom(!strings.ContainsAny(q.Name+q.Label, "*?[:"), "model_name", "must not contain ':' or glob characters").
		Err()
}

// Key returns the registry key of the model.
func (m Model) Key() string {
	return Query{Project: m.Project, Location: m.Location, Name: m.Name, Label: m.Label}.Key()
}

// Registry stores models by key.
type Registry interface {
	// Get returns nil without error when no model matches.
	Get(ctx context.Context, q Query) (*Model, error)
	Register(ctx context.Context, m Model) error
}

// Resolver looks up champion models.
type Resolver struct {
	registry Registry
	log      *logger.Logger
}

// NewResolver creates a Resolver over registry.
func NewResolver(registry Registry, log *logger.Logger) *Resolver {
	return &Resolver{registry: registry, log: log.WithComponent("model")}
}

// Lookup resolves the model named by q. A missing model is a NOT_FOUND error
// when q.FailOnNotFound is set and an empty model otherwise.
func (r *Resolver) Lookup(ctx context.Context, q Query) (*Model, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	m, err := r.registry.Get(ctx, q)
	if err != nil {
		return nil, errors.ExternalServiceError("model registry", err).WithDetail("model", q.Key())
	}
	log := r.log.WithContext(ctx)
	if m == nil {
		if q.FailOnNotFound {
			return nil, errors.NotFound("model", q.Key())
		}
		log.Warn("model not found", logger.Fields("model", q.Key()))
		return &Model{}, nil
	}
	log.Info("model resolved", logger.Fields("model", q.Key(), "version", m.Version, "resource", m.ResourceName()))
	return m, nil
}
