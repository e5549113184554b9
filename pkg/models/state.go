package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the status of a workflow execution.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusWaiting   WorkflowStatus = "WAITING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
)

// NodeStatus is the status of a single node within an execution.
type NodeStatus string

const (
	NodeStatusPending      NodeStatus = "PENDING"
	NodeStatusRunning      NodeStatus = "RUNNING"
	NodeStatusWaiting      NodeStatus = "WAITING"
	NodeStatusCompleted    NodeStatus = "COMPLETED"
	NodeStatusFailed       NodeStatus = "FAILED"
	NodeStatusSkipped      NodeStatus = "SKIPPED"
	NodeStatusCircuitOpen  NodeStatus = "CIRCUIT_OPEN"
	NodeStatusDeadLettered NodeStatus = "DEAD_LETTERED"
)

// IsTerminal reports whether the status ends the node for this session.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusDeadLettered:
		return true
	}
	return false
}

// SatisfiesDependency reports whether a dependency in this status allows
// its dependents to become ready.
func (s NodeStatus) SatisfiesDependency() bool {
	return s == NodeStatusCompleted || s == NodeStatusSkipped
}

// NodeState is the mutable runtime state of one node.
type NodeState struct {
	ID                  string      `json:"id"`
	Status              NodeStatus  `json:"status"`
	Attempts            int         `json:"attempts"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	StartedAt           *time.Time  `json:"startedAt,omitempty"`
	CompletedAt         *time.Time  `json:"completedAt,omitempty"`
	LastFailureTime     *time.Time  `json:"lastFailureTime,omitempty"`
	Result              interface{} `json:"result,omitempty"`
	Error               string      `json:"error,omitempty"`
	FailureType         FailureType `json:"failureType,omitempty"`
	WaitingForEvents    []string    `json:"waitingForEvents,omitempty"`
	DeadLettered        bool        `json:"deadLettered,omitempty"`
	IsPoisonMessage     bool        `json:"isPoisonMessage,omitempty"`

	// NextRetryAt gates a retry-pending node: while set and in the
	// future, the node stays out of the ready set.
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
}

// WorkflowState is the persisted unit of execution progress.
type WorkflowState struct {
	Definition  *WorkflowDefinition    `json:"definition"`
	Status      WorkflowStatus         `json:"status"`
	Nodes       map[string]*NodeState  `json:"nodes"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Events      []*Event               `json:"events,omitempty"`

	// Failure-handling sections, keyed by node ID within this workflow.
	CircuitBreakers map[string]*CircuitBreakerState `json:"circuitBreakers,omitempty"`
	FailureMetrics  map[string]*FailureMetrics      `json:"failureMetrics,omitempty"`
	DeadLetterQueue []*DeadLetterItem               `json:"deadLetterQueue,omitempty"`

	extra map[string]json.RawMessage
}

// NewWorkflowState initializes state for a fresh execution: every node
// PENDING with zero attempts.
func NewWorkflowState(def *WorkflowDefinition, ctx map[string]interface{}, startedAt time.Time) *WorkflowState {
	nodes := make(map[string]*NodeState, len(def.Nodes))
	for _, node := range def.Nodes {
		nodes[node.ID] = &NodeState{
			ID:     node.ID,
			Status: NodeStatusPending,
		}
	}
	return &WorkflowState{
		Definition:      def,
		Status:          WorkflowStatusRunning,
		Nodes:           nodes,
		StartedAt:       startedAt,
		Context:         ctx,
		CircuitBreakers: make(map[string]*CircuitBreakerState),
		FailureMetrics:  make(map[string]*FailureMetrics),
	}
}

// Node returns the state for a node ID, nil if unknown.
func (s *WorkflowState) Node(nodeID string) *NodeState {
	return s.Nodes[nodeID]
}

// AppendEvent appends an event to the bounded per-workflow log, evicting
// the oldest entries beyond limit.
func (s *WorkflowState) AppendEvent(e *Event, limit int) {
	s.Events = append(s.Events, e)
	if limit > 0 && len(s.Events) > limit {
		s.Events = s.Events[len(s.Events)-limit:]
	}
}

// MarshalJSON emits the state with any preserved unknown fields.
func (s *WorkflowState) MarshalJSON() ([]byte, error) {
	type alias WorkflowState
	return marshalWithExtra((*alias)(s), s.extra)
}

// UnmarshalJSON decodes the state, capturing unknown fields.
func (s *WorkflowState) UnmarshalJSON(data []byte) error {
	type alias WorkflowState
	extra, err := unmarshalWithExtra(data, (*alias)(s))
	if err != nil {
		return err
	}
	s.extra = extra
	return nil
}

// ExecutionResult is returned from StartWorkflow and ResumeWorkflow.
type ExecutionResult struct {
	WorkflowID      string                     `json:"workflowId"`
	Status          WorkflowStatus             `json:"status"`
	Duration        time.Duration              `json:"duration"`
	NodeResults     map[string]interface{}     `json:"nodeResults"`
	Error           string                     `json:"error,omitempty"`
	FailureMetrics  map[string]*FailureMetrics `json:"failureMetrics,omitempty"`
	DeadLetterItems []*DeadLetterItem          `json:"deadLetterItems,omitempty"`
}
