// Package builder provides a fluent API for assembling workflow
// definitions.
//
//	def, err := builder.NewWorkflow("etl").
//		Name("Nightly ETL").
//		Node("extract", "data").Input("value", 1).Done().
//		Node("load", "data").DependsOn("extract").Done().
//		Build()
package builder

import (
	"time"

	"github.com/stateflow/stateflow/pkg/models"
)

// WorkflowBuilder accumulates a workflow definition.
type WorkflowBuilder struct {
	def *models.WorkflowDefinition
}

// NewWorkflow starts a builder for the given workflow id.
func NewWorkflow(id string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: &models.WorkflowDefinition{
			ID:   id,
			Name: id,
		},
	}
}

// Name sets the display name.
func (b *WorkflowBuilder) Name(name string) *WorkflowBuilder {
	b.def.Name = name
	return b
}

// Version sets the definition version.
func (b *WorkflowBuilder) Version(version string) *WorkflowBuilder {
	b.def.Version = version
	return b
}

// Description sets the description.
func (b *WorkflowBuilder) Description(description string) *WorkflowBuilder {
	b.def.Description = description
	return b
}

// Metadata sets a metadata entry.
func (b *WorkflowBuilder) Metadata(key string, value interface{}) *WorkflowBuilder {
	if b.def.Metadata == nil {
		b.def.Metadata = make(map[string]interface{})
	}
	b.def.Metadata[key] = value
	return b
}

// FailureHandling sets the workflow-level failure defaults.
func (b *WorkflowBuilder) FailureHandling(cfg *models.FailureHandlingConfig) *WorkflowBuilder {
	b.def.FailureHandling = cfg
	return b
}

// Node opens a node builder for a node of the given id and type.
func (b *WorkflowBuilder) Node(id, nodeType string) *NodeBuilder {
	node := &models.Node{
		ID:   id,
		Type: nodeType,
	}
	b.def.Nodes = append(b.def.Nodes, node)
	return &NodeBuilder{workflow: b, node: node}
}

// Build validates and returns the definition.
func (b *WorkflowBuilder) Build() (*models.WorkflowDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

// NodeBuilder configures a single node.
type NodeBuilder struct {
	workflow *WorkflowBuilder
	node     *models.Node
}

// Name sets the node display name.
func (nb *NodeBuilder) Name(name string) *NodeBuilder {
	nb.node.Name = name
	return nb
}

// Input sets one input value.
func (nb *NodeBuilder) Input(key string, value interface{}) *NodeBuilder {
	if nb.node.Inputs == nil {
		nb.node.Inputs = make(map[string]interface{})
	}
	nb.node.Inputs[key] = value
	return nb
}

// DependsOn declares dependencies on other nodes.
func (nb *NodeBuilder) DependsOn(nodeIDs ...string) *NodeBuilder {
	nb.node.Dependencies = append(nb.node.Dependencies, nodeIDs...)
	return nb
}

// WaitFor gates the node on event types.
func (nb *NodeBuilder) WaitFor(eventTypes ...string) *NodeBuilder {
	nb.node.WaitForEvents = append(nb.node.WaitForEvents, eventTypes...)
	return nb
}

// Timeout bounds handler execution for this node.
func (nb *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	nb.node.Timeout = d.Milliseconds()
	return nb
}

// Retry sets the retry configuration.
func (nb *NodeBuilder) Retry(rc *models.RetryConfig) *NodeBuilder {
	nb.node.RetryConfig = rc
	return nb
}

// OnFailure sets the per-node failure handling override.
func (nb *NodeBuilder) OnFailure(cfg *models.FailureHandlingConfig) *NodeBuilder {
	nb.node.FailureHandling = cfg
	return nb
}

// Strategy is a shorthand for OnFailure with just a strategy.
func (nb *NodeBuilder) Strategy(strategy models.FailureStrategy) *NodeBuilder {
	if nb.node.FailureHandling == nil {
		nb.node.FailureHandling = &models.FailureHandlingConfig{}
	}
	nb.node.FailureHandling.Strategy = strategy
	return nb
}

// Done returns to the workflow builder.
func (nb *NodeBuilder) Done() *WorkflowBuilder {
	return nb.workflow
}
