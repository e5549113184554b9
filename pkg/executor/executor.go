// Package executor provides the handler interface and registry for node
// dispatch.
//
// The engine knows nothing about node operation semantics: a ready node
// is handed to the Handler registered for its type, together with the
// read-only workflow context and the node's effective inputs. Operation
// handlers (math, string, merges, and so on) are supplied by the caller;
// only the data pass-through and delay handlers ship with the engine.
package executor

import (
	"context"

	"github.com/stateflow/stateflow/pkg/models"
)

// Handler executes a single node's operation.
//
// The node and workflowContext are read-only; a handler must not mutate
// shared state, because handlers for independent nodes run in parallel.
type Handler interface {
	Execute(ctx context.Context, node *models.Node, workflowContext map[string]interface{}, inputs map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, node *models.Node, workflowContext map[string]interface{}, inputs map[string]interface{}) (interface{}, error)

// Execute calls the wrapped function.
func (f HandlerFunc) Execute(ctx context.Context, node *models.Node, workflowContext map[string]interface{}, inputs map[string]interface{}) (interface{}, error) {
	return f(ctx, node, workflowContext, inputs)
}

// Manager manages the registration and retrieval of handlers.
type Manager interface {
	// Register registers a handler for a node type. An existing handler
	// for the type is replaced.
	Register(nodeType string, handler Handler) error

	// Get retrieves a handler by node type.
	Get(nodeType string) (Handler, error)

	// Has checks if a handler is registered for the given node type.
	Has(nodeType string) bool

	// List returns all registered node types.
	List() []string

	// Unregister removes a handler for a node type.
	Unregister(nodeType string) error
}
