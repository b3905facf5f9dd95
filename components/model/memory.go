package model

import (
	"context"
	"sync"

	"github.com/kbukum/batchpredict/errors"
)

// MemoryRegistry keeps models in process memory.
type MemoryRegistry struct {
	mu     sync.RWMutex
	models map[string]Model
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates a registry holding models.
func NewMemoryRegistry(models ...Model) *MemoryRegistry {
	r := &MemoryRegistry{models: make(map[string]Model)}
	for _, m := range models {
		r.models[m.Key()] = m
	}
	return r
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, q Query) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[q.Key()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// Register implements Registry.
func (r *MemoryRegistry) Register(_ context.Context, m Model) error {
	if m.Empty() {
		return errors.MissingField("name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Key()] = m
	return nil
}
