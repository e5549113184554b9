// Package engine implements the workflow scheduler/executor: it walks a
// workflow DAG in rounds, dispatches ready nodes to their handlers,
// persists state after every round, coordinates event-gated nodes, and
// applies the failure manager's per-node policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stateflow/stateflow/internal/infrastructure/logger"
	"github.com/stateflow/stateflow/pkg/clock"
	"github.com/stateflow/stateflow/pkg/events"
	"github.com/stateflow/stateflow/pkg/executor"
	"github.com/stateflow/stateflow/pkg/failure"
	"github.com/stateflow/stateflow/pkg/models"
	"github.com/stateflow/stateflow/pkg/storage"
)

// Defaults applied when options leave a knob unset.
const (
	DefaultMaxConcurrency    = 10
	DefaultEventHistoryLimit = 1000
)

// Engine executes workflows. A workflow instance is owned by one engine
// at a time: the engine keeps a process-local set of running workflow
// ids and refuses a concurrent start or resume of the same id.
type Engine struct {
	store    storage.Adapter
	handlers executor.Manager
	failures *failure.Manager
	bus      *events.Bus
	clk      clock.Clock
	log      *logger.Logger

	runs *runRegistry

	nodeTimeout       time.Duration
	maxExecutionTime  time.Duration
	maxConcurrency    int
	eventHistoryLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHandlerManager replaces the handler registry.
func WithHandlerManager(m executor.Manager) Option {
	return func(e *Engine) { e.handlers = m }
}

// WithFailureManager replaces the failure manager.
func WithFailureManager(m *failure.Manager) Option {
	return func(e *Engine) { e.failures = m }
}

// WithEventBus replaces the event bus. The bus may be shared across
// engines; subscribers must not assume exclusivity.
func WithEventBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithNodeTimeout sets the default per-node handler timeout applied when
// a node declares none.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithMaxExecutionTime sets the global ceiling on per-node timeouts; a
// node-level timeout above the ceiling is clamped to it.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(e *Engine) { e.maxExecutionTime = d }
}

// WithMaxConcurrency bounds how many nodes of one round run in parallel.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// WithEventHistoryLimit bounds the per-workflow persisted event log.
func WithEventHistoryLimit(n int) Option {
	return func(e *Engine) { e.eventHistoryLimit = n }
}

// New creates an engine backed by the given storage adapter.
func New(store storage.Adapter, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		clk:               clock.System(),
		log:               logger.Default(),
		runs:              newRunRegistry(),
		maxConcurrency:    DefaultMaxConcurrency,
		eventHistoryLimit: DefaultEventHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.handlers == nil {
		e.handlers = executor.NewRegistry()
	}
	if e.bus == nil {
		e.bus = events.NewBus(events.WithClock(e.clk), events.WithLogger(e.log))
	}
	if e.failures == nil {
		e.failures = failure.NewManager(
			failure.WithClock(e.clk),
			failure.WithLogger(e.log),
		)
	}
	return e
}

// Handlers exposes the handler registry so callers can register node types.
func (e *Engine) Handlers() executor.Manager {
	return e.handlers
}

// EventSystem exposes the event bus.
func (e *Engine) EventSystem() *events.Bus {
	return e.bus
}

// FailureManager exposes the failure manager.
func (e *Engine) FailureManager() *failure.Manager {
	return e.failures
}

// EmitEvent publishes an external event to the bus, unblocking any node
// waiting for its type.
func (e *Engine) EmitEvent(event *models.Event) {
	e.bus.Emit(event)
}

// StartWorkflow validates and runs a workflow definition to its first
// stopping point: completion, failure, or waiting on events.
func (e *Engine) StartWorkflow(ctx context.Context, def *models.WorkflowDefinition, initialContext map[string]interface{}) (*models.ExecutionResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if !e.runs.acquire(def.ID) {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowRunning, def.ID)
	}
	defer e.runs.release(def.ID)

	// A state persisted as RUNNING belongs to another executor.
	existing, err := e.store.Load(ctx, def.ID)
	if err != nil && !errors.Is(err, models.ErrWorkflowNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == models.WorkflowStatusRunning {
		return nil, fmt.Errorf("%w: %s is marked RUNNING in storage", models.ErrWorkflowRunning, def.ID)
	}

	defCopy, err := def.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone definition: %w", err)
	}

	state := models.NewWorkflowState(defCopy, initialContext, e.clk.Now())
	exec := newExecution(state)

	if err := e.persist(ctx, exec); err != nil {
		return nil, err
	}

	e.recordEvent(exec, models.EventTypeWorkflowStarted, "", nil)
	return e.runToCompletion(ctx, exec)
}

// ResumeWorkflow reloads persisted state and continues execution.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID string) (*models.ExecutionResult, error) {
	if !e.runs.acquire(workflowID) {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowRunning, workflowID)
	}
	defer e.runs.release(workflowID)

	state, err := e.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if state.Status == models.WorkflowStatusCompleted {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowCompleted, workflowID)
	}
	// Tampered persisted state must not reach the scheduler.
	if err := state.Definition.Validate(); err != nil {
		return nil, fmt.Errorf("persisted definition invalid: %w", err)
	}

	e.failures.Restore(state)

	exec := newExecution(state)
	exec.normalizeForResume()
	exec.setWorkflowStatus(models.WorkflowStatusRunning)

	e.recordEvent(exec, models.EventTypeWorkflowResumed, "", nil)
	return e.runToCompletion(ctx, exec)
}

// GetWorkflowState loads the persisted state for a workflow.
func (e *Engine) GetWorkflowState(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	return e.store.Load(ctx, workflowID)
}

// DeleteWorkflow removes a workflow's persisted state. A locally running
// workflow cannot be deleted.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if e.runs.isRunning(workflowID) {
		return fmt.Errorf("%w: %s", models.ErrWorkflowRunning, workflowID)
	}
	if err := e.store.Delete(ctx, workflowID); err != nil {
		return err
	}
	e.failures.Forget(workflowID)
	return nil
}

// ListWorkflows lists the ids of all persisted workflows.
func (e *Engine) ListWorkflows(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// GetFailureMetrics returns per-node failure metrics for a workflow.
func (e *Engine) GetFailureMetrics(ctx context.Context, workflowID string) (map[string]*models.FailureMetrics, error) {
	metrics := e.failures.Metrics(workflowID)
	if len(metrics) > 0 {
		return metrics, nil
	}
	state, err := e.store.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, models.ErrWorkflowNotFound) {
			return metrics, nil
		}
		return nil, err
	}
	return state.FailureMetrics, nil
}

// GetDeadLetterQueue returns the parked items for a workflow.
func (e *Engine) GetDeadLetterQueue(ctx context.Context, workflowID string) ([]*models.DeadLetterItem, error) {
	items := e.failures.DeadLetterQueue(workflowID)
	if len(items) > 0 {
		return items, nil
	}
	state, err := e.store.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, models.ErrWorkflowNotFound) {
			return items, nil
		}
		return nil, err
	}
	return state.DeadLetterQueue, nil
}

// RetryDeadLetterItem removes a parked item, resets its node to PENDING,
// and marks the workflow resumable. The caller then resumes the
// workflow to re-execute the node.
func (e *Engine) RetryDeadLetterItem(ctx context.Context, workflowID, itemID string) error {
	if e.runs.isRunning(workflowID) {
		return fmt.Errorf("%w: %s", models.ErrWorkflowRunning, workflowID)
	}

	state, err := e.store.Load(ctx, workflowID)
	if err != nil {
		return err
	}

	item, err := e.failures.RetryDeadLetterItem(workflowID, itemID)
	if errors.Is(err, models.ErrDeadLetterNotFound) {
		// Fresh process: seed the manager from persisted state and retry.
		e.failures.Restore(state)
		item, err = e.failures.RetryDeadLetterItem(workflowID, itemID)
	}
	if err != nil {
		return err
	}

	node := state.Node(item.NodeID)
	if node != nil {
		node.Status = models.NodeStatusPending
		node.DeadLettered = false
		node.Error = ""
		node.FailureType = ""
		node.NextRetryAt = nil
	}
	state.Status = models.WorkflowStatusWaiting
	state.CompletedAt = nil

	exec := newExecution(state)
	return e.persist(ctx, exec)
}
