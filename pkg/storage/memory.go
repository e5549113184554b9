package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stateflow/stateflow/pkg/models"
)

// MemoryAdapter keeps workflow state in a process-local map. State is
// stored serialized so callers never share mutable structures with the
// store.
type MemoryAdapter struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryAdapter creates an empty in-memory store.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items: make(map[string][]byte),
	}
}

// Save implements Adapter.
func (a *MemoryAdapter) Save(_ context.Context, id string, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[id] = data
	return nil
}

// Load implements Adapter.
func (a *MemoryAdapter) Load(_ context.Context, id string) (*models.WorkflowState, error) {
	a.mu.RLock()
	data, ok := a.items[id]
	a.mu.RUnlock()

	if !ok {
		return nil, models.ErrWorkflowNotFound
	}

	var state models.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	return &state, nil
}

// Delete implements Adapter.
func (a *MemoryAdapter) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.items[id]; !ok {
		return models.ErrWorkflowNotFound
	}
	delete(a.items, id)
	return nil
}

// List implements Adapter.
func (a *MemoryAdapter) List(_ context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.items))
	for id := range a.items {
		ids = append(ids, id)
	}
	return ids, nil
}
