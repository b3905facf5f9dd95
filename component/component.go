// Package component manages the lifecycle of the runtime backends a run
// needs: the warehouse and history databases, object storage and the
// Redis model registry.
package component

import "context"

// HealthStatus is the coarse health of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded means usable but not fully ready, e.g. not yet connected.
	StatusDegraded HealthStatus = "degraded"
)

// Health is a component's answer to a health probe.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a backend started before a run and stopped after it.
// Name must be unique within a Registry.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Healthy reports a working component. msg may be empty.
func Healthy(name, msg string) Health {
	return Health{Name: name, Status: StatusHealthy, Message: msg}
}

// Disabled reports a component turned off by configuration.
func Disabled(name string) Health { return Healthy(name, "disabled") }

// Unhealthy reports a component that cannot serve, with the reason.
func Unhealthy(name, reason string) Health {
	return Health{Name: name, Status: StatusUnhealthy, Message: reason}
}
