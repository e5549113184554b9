package engine

import (
	"sync"
	"time"

	"github.com/stateflow/stateflow/pkg/models"
)

// runRegistry is the process-local set of running workflow ids.
type runRegistry struct {
	mu      sync.Mutex
	running map[string]bool
}

func newRunRegistry() *runRegistry {
	return &runRegistry{running: make(map[string]bool)}
}

// acquire reserves a workflow id, returning false when already held.
func (r *runRegistry) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[id] {
		return false
	}
	r.running[id] = true
	return true
}

func (r *runRegistry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

func (r *runRegistry) isRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[id]
}

// execution wraps a WorkflowState with a mutex so concurrently
// dispatched nodes can update it safely. The scheduler itself is
// single-threaded per workflow; only node goroutines contend here.
type execution struct {
	mu    sync.Mutex
	state *models.WorkflowState
}

func newExecution(state *models.WorkflowState) *execution {
	return &execution{state: state}
}

func (x *execution) definition() *models.WorkflowDefinition {
	return x.state.Definition
}

func (x *execution) workflowID() string {
	return x.state.Definition.ID
}

func (x *execution) setWorkflowStatus(status models.WorkflowStatus) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Status = status
}

func (x *execution) workflowStatus() models.WorkflowStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Status
}

func (x *execution) nodeStatus(nodeID string) models.NodeStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Nodes[nodeID].Status
}

func (x *execution) setNodeStatus(nodeID string, status models.NodeStatus) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Nodes[nodeID].Status = status
}

func (x *execution) markRunning(nodeID string, now time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Status = models.NodeStatusRunning
	ns.StartedAt = &now
	ns.Attempts++
	ns.WaitingForEvents = nil
	ns.NextRetryAt = nil
	return ns.Attempts
}

func (x *execution) markCompleted(nodeID string, result interface{}, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Status = models.NodeStatusCompleted
	ns.Result = result
	ns.CompletedAt = &now
	ns.ConsecutiveFailures = 0
	ns.Error = ""
	ns.FailureType = ""
}

func (x *execution) markFailureObserved(nodeID string, err error, failureType models.FailureType, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Error = err.Error()
	ns.FailureType = failureType
	ns.ConsecutiveFailures++
	ns.LastFailureTime = &now
	if failureType == models.FailureTypePoison {
		ns.IsPoisonMessage = true
	}
}

func (x *execution) scheduleRetry(nodeID string, at time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Status = models.NodeStatusPending
	ns.NextRetryAt = &at
}

func (x *execution) markTerminalFailure(nodeID string, status models.NodeStatus) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Status = status
	if status == models.NodeStatusDeadLettered {
		ns.DeadLettered = true
	}
	ns.NextRetryAt = nil
}

func (x *execution) markWaiting(nodeID string, missingEvents []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ns := x.state.Nodes[nodeID]
	ns.Status = models.NodeStatusWaiting
	ns.WaitingForEvents = missingEvents
}

func (x *execution) appendEvent(event *models.Event, limit int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.AppendEvent(event, limit)
}

// skipDependents marks the transitive closure of still-pending
// dependents of nodeID as SKIPPED. Returns the skipped node ids.
func (x *execution) skipDependents(nodeID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	var skipped []string
	queue := x.state.Definition.Dependents(nodeID)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		ns := x.state.Nodes[id]
		if ns == nil {
			continue
		}
		if ns.Status == models.NodeStatusPending || ns.Status == models.NodeStatusWaiting {
			ns.Status = models.NodeStatusSkipped
			skipped = append(skipped, id)
			queue = append(queue, x.state.Definition.Dependents(id)...)
		}
	}
	return skipped
}

// normalizeForResume resets non-terminal transient statuses so a resumed
// execution re-evaluates them: RUNNING nodes from an interrupted round,
// event-gated WAITING nodes, and CIRCUIT_OPEN nodes all return to
// PENDING. Retry deadlines survive the restart.
func (x *execution) normalizeForResume() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, ns := range x.state.Nodes {
		switch ns.Status {
		case models.NodeStatusRunning, models.NodeStatusWaiting, models.NodeStatusCircuitOpen:
			ns.Status = models.NodeStatusPending
		}
	}
}

// snapshot returns the wrapped state; callers must only use it while no
// node goroutines are in flight (between rounds).
func (x *execution) snapshot() *models.WorkflowState {
	return x.state
}

// nodeResults collects results of all COMPLETED nodes.
func (x *execution) nodeResults() map[string]interface{} {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make(map[string]interface{})
	for id, ns := range x.state.Nodes {
		if ns.Status == models.NodeStatusCompleted {
			out[id] = ns.Result
		}
	}
	return out
}
