package executor

import (
	"fmt"
	"sync"

	"github.com/stateflow/stateflow/pkg/models"
)

// Registry implements the Manager interface with thread-safe handler
// registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new handler registry with the built-in handlers
// pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
	}
	registerBuiltins(r)
	return r
}

// NewManager creates a new handler manager.
func NewManager() Manager {
	return NewRegistry()
}

// Register registers a handler for a specific node type.
func (r *Registry) Register(nodeType string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nodeType == "" {
		return fmt.Errorf("node type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.handlers[nodeType] = handler
	return nil
}

// Get retrieves a handler by node type.
func (r *Registry) Get(nodeType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrHandlerNotFound, nodeType)
	}
	return handler, nil
}

// Has checks if a handler is registered for the given node type.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[nodeType]
	return ok
}

// List returns a list of all registered node types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for nodeType := range r.handlers {
		types = append(types, nodeType)
	}
	return types
}

// Unregister removes a handler for a specific node type.
func (r *Registry) Unregister(nodeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[nodeType]; !ok {
		return fmt.Errorf("%w: %s", models.ErrHandlerNotFound, nodeType)
	}
	delete(r.handlers, nodeType)
	return nil
}
