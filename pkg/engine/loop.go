package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stateflow/stateflow/pkg/failure"
	"github.com/stateflow/stateflow/pkg/models"
)

// readiness is the outcome of one ready-set computation.
type readiness struct {
	ready          []*models.Node
	waitingCount   int
	circuitBlocked int
	skippedNow     int
	retryWait      time.Duration
}

// runToCompletion drives the execution loop and shapes the result.
func (e *Engine) runToCompletion(ctx context.Context, exec *execution) (*models.ExecutionResult, error) {
	runStart := e.clk.Now()
	runErr := e.runLoop(ctx, exec)

	state := exec.snapshot()
	result := &models.ExecutionResult{
		WorkflowID:      exec.workflowID(),
		Status:          state.Status,
		Duration:        e.clk.Now().Sub(runStart),
		NodeResults:     exec.nodeResults(),
		FailureMetrics:  e.failures.Metrics(exec.workflowID()),
		DeadLetterItems: e.failures.DeadLetterQueue(exec.workflowID()),
	}
	if runErr != nil {
		result.Error = runErr.Error()
		return result, runErr
	}
	return result, nil
}

// runLoop executes scheduler rounds until the workflow reaches a
// stopping point. State is persisted after every round; a persisted
// state is always a valid restart point.
func (e *Engine) runLoop(ctx context.Context, exec *execution) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution cancelled: %w", err)
		}

		info := e.computeReadySet(exec)

		if len(info.ready) == 0 {
			if info.skippedNow > 0 {
				// Cascaded skips changed the graph; re-evaluate.
				continue
			}
			if info.retryWait > 0 {
				if err := e.clk.Sleep(ctx, info.retryWait); err != nil {
					return fmt.Errorf("execution cancelled during retry delay: %w", err)
				}
				continue
			}
			if info.waitingCount > 0 || info.circuitBlocked > 0 {
				exec.setWorkflowStatus(models.WorkflowStatusWaiting)
				e.recordEvent(exec, models.EventTypeWorkflowWaiting, "", nil)
				return e.persist(ctx, exec)
			}
			return e.finish(ctx, exec)
		}

		dispatchErr := e.dispatchRound(ctx, exec, info.ready)

		if dispatchErr != nil {
			now := e.clk.Now()
			exec.setWorkflowStatus(models.WorkflowStatusFailed)
			exec.snapshot().CompletedAt = &now
			e.recordEvent(exec, models.EventTypeWorkflowFailed, "", map[string]interface{}{
				"error": dispatchErr.Error(),
			})
			if err := e.persist(ctx, exec); err != nil {
				return err
			}
			return dispatchErr
		}

		if err := e.persist(ctx, exec); err != nil {
			return err
		}
	}
}

// finish resolves the terminal workflow status once no node is ready,
// waiting, or retry-pending.
func (e *Engine) finish(ctx context.Context, exec *execution) error {
	state := exec.snapshot()

	allTerminal := true
	anyFailed := false
	var stalledNode string
	for id, ns := range state.Nodes {
		if !ns.Status.IsTerminal() {
			allTerminal = false
			stalledNode = id
		}
		if ns.Status == models.NodeStatusFailed {
			anyFailed = true
		}
	}

	now := e.clk.Now()
	if !allTerminal {
		exec.setWorkflowStatus(models.WorkflowStatusFailed)
		state.CompletedAt = &now
		e.recordEvent(exec, models.EventTypeWorkflowFailed, "", nil)
		if err := e.persist(ctx, exec); err != nil {
			return err
		}
		return fmt.Errorf("%w: node %s cannot make progress", models.ErrWorkflowStalled, stalledNode)
	}

	if anyFailed {
		exec.setWorkflowStatus(models.WorkflowStatusFailed)
		state.CompletedAt = &now
		e.recordEvent(exec, models.EventTypeWorkflowFailed, "", nil)
		if err := e.persist(ctx, exec); err != nil {
			return err
		}
		return fmt.Errorf("workflow %s failed", exec.workflowID())
	}

	exec.setWorkflowStatus(models.WorkflowStatusCompleted)
	state.CompletedAt = &now
	e.recordEvent(exec, models.EventTypeWorkflowCompleted, "", nil)
	return e.persist(ctx, exec)
}

// computeReadySet walks the definition and classifies each live node:
// ready now, gated on events, blocked on an open circuit, delayed for a
// retry, or skipped because a dependency can never supply results.
func (e *Engine) computeReadySet(exec *execution) readiness {
	var info readiness
	now := e.clk.Now()
	state := exec.snapshot()

	for _, node := range exec.definition().Nodes {
		ns := state.Nodes[node.ID]

		switch ns.Status {
		case models.NodeStatusPending, models.NodeStatusWaiting:
		case models.NodeStatusCircuitOpen:
			info.circuitBlocked++
			continue
		default:
			continue
		}

		depsSatisfied := true
		depUnrecoverable := false
		for _, dep := range node.Dependencies {
			depStatus := state.Nodes[dep].Status
			if depStatus == models.NodeStatusFailed || depStatus == models.NodeStatusDeadLettered {
				depUnrecoverable = true
				break
			}
			if !depStatus.SatisfiesDependency() {
				depsSatisfied = false
				break
			}
		}
		if depUnrecoverable {
			exec.setNodeStatus(node.ID, models.NodeStatusSkipped)
			info.skippedNow++
			e.recordEvent(exec, models.EventTypeNodeSkipped, node.ID, map[string]interface{}{
				"reason": "dependency cannot supply results",
			})
			continue
		}
		if !depsSatisfied {
			continue
		}

		if ns.NextRetryAt != nil && now.Before(*ns.NextRetryAt) {
			wait := ns.NextRetryAt.Sub(now)
			if info.retryWait == 0 || wait < info.retryWait {
				info.retryWait = wait
			}
			continue
		}

		if missing := e.unsatisfiedEvents(state, node, ns); len(missing) > 0 {
			wasWaiting := ns.Status == models.NodeStatusWaiting
			exec.markWaiting(node.ID, missing)
			if !wasWaiting {
				e.recordEvent(exec, models.EventTypeNodeWaiting, node.ID, map[string]interface{}{
					"events": missing,
				})
			}
			info.waitingCount++
			continue
		}

		info.ready = append(info.ready, node)
	}

	return info
}

// unsatisfiedEvents returns the waitForEvents types not yet observed on
// the bus since the node's last start (workflow start if never started).
func (e *Engine) unsatisfiedEvents(state *models.WorkflowState, node *models.Node, ns *models.NodeState) []string {
	if len(node.WaitForEvents) == 0 {
		return nil
	}

	since := state.StartedAt
	if ns.StartedAt != nil {
		since = *ns.StartedAt
	}

	var missing []string
	for _, eventType := range node.WaitForEvents {
		if e.bus.HasEventOccurred(eventType, nil, &since) == nil {
			missing = append(missing, eventType)
		}
	}
	return missing
}

// dispatchRound runs all ready nodes concurrently, bounded by the
// engine's concurrency limit, and waits for every dispatch to settle.
func (e *Engine) dispatchRound(ctx context.Context, exec *execution, ready []*models.Node) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(ready))
	semaphore := make(chan struct{}, e.maxConcurrency)

	for _, node := range ready {
		wg.Add(1)
		go func(n *models.Node) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := e.dispatchNode(ctx, exec, n); err != nil {
				errChan <- err
			}
		}(node)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}
	return nil
}

type handlerOutcome struct {
	result interface{}
	err    error
}

// dispatchNode runs one node through the failure gate, the handler with
// its timeout, and the failure-policy verdict.
func (e *Engine) dispatchNode(ctx context.Context, exec *execution, node *models.Node) error {
	def := exec.definition()

	allowed, blockStatus, reason := e.failures.ShouldExecute(def, node)
	if !allowed {
		switch blockStatus {
		case models.NodeStatusCircuitOpen:
			exec.setNodeStatus(node.ID, models.NodeStatusCircuitOpen)
			e.recordEvent(exec, models.EventTypeNodeCircuitOpen, node.ID, map[string]interface{}{
				"reason": reason,
			})
		default:
			// Poisoned: terminally failed without invoking the handler.
			now := e.clk.Now()
			exec.markFailureObserved(node.ID, fmt.Errorf("%w: %s", models.ErrNodePoisoned, reason), models.FailureTypePoison, now)
			exec.markTerminalFailure(node.ID, models.NodeStatusFailed)
			e.recordEvent(exec, models.EventTypeNodeFailed, node.ID, map[string]interface{}{
				"reason": reason,
			})
		}
		return nil
	}

	now := e.clk.Now()
	attempts := exec.markRunning(node.ID, now)
	e.recordEvent(exec, models.EventTypeNodeStarted, node.ID, map[string]interface{}{
		"attempt": attempts,
	})

	result, execErr := e.invokeHandler(ctx, exec, node)
	if execErr == nil {
		exec.markCompleted(node.ID, result, e.clk.Now())
		e.failures.RecordSuccess(def, node)
		e.recordEvent(exec, models.EventTypeNodeCompleted, node.ID, nil)
		return nil
	}
	if ctx.Err() != nil {
		// Cancellation is not a node failure; leave it re-runnable.
		exec.setNodeStatus(node.ID, models.NodeStatusPending)
		return fmt.Errorf("execution cancelled: %w", ctx.Err())
	}

	return e.handleNodeFailure(exec, node, attempts, execErr)
}

// invokeHandler races the node handler against the effective timeout.
// A result arriving after the timeout fires is discarded.
func (e *Engine) invokeHandler(ctx context.Context, exec *execution, node *models.Node) (interface{}, error) {
	handler, err := e.handlers.Get(node.Type)
	if err != nil {
		return nil, err
	}

	timeout := node.TimeoutDuration()
	if timeout <= 0 {
		timeout = e.nodeTimeout
	}
	if e.maxExecutionTime > 0 && (timeout <= 0 || timeout > e.maxExecutionTime) {
		timeout = e.maxExecutionTime
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputs := e.effectiveInputs(exec, node)
	workflowContext := exec.snapshot().Context

	outcome := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- handlerOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler.Execute(nodeCtx, node, workflowContext, inputs)
		outcome <- handlerOutcome{result: result, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = e.clk.After(timeout)
	}

	select {
	case out := <-outcome:
		return out.result, out.err
	case <-timeoutCh:
		cancel()
		return nil, fmt.Errorf("%w: node %s exceeded %s", models.ErrNodeTimeout, node.ID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleNodeFailure applies the failure manager's decision to the node.
func (e *Engine) handleNodeFailure(exec *execution, node *models.Node, attempts int, execErr error) error {
	def := exec.definition()
	now := e.clk.Now()

	decision := e.failures.HandleFailure(def, node, attempts, execErr)
	exec.markFailureObserved(node.ID, execErr, decision.FailureType, now)

	if decision.ShouldRetry {
		retryAt := now.Add(decision.RetryDelay)
		exec.scheduleRetry(node.ID, retryAt)
		e.recordEvent(exec, models.EventTypeNodeRetrying, node.ID, map[string]interface{}{
			"attempt":     attempts,
			"retryDelay":  decision.RetryDelay.String(),
			"failureType": string(decision.FailureType),
		})
		return nil
	}

	switch decision.Action {
	case failure.ActionDeadLetter:
		exec.markTerminalFailure(node.ID, models.NodeStatusDeadLettered)
		e.recordEvent(exec, models.EventTypeNodeDeadLettered, node.ID, map[string]interface{}{
			"error": execErr.Error(),
		})
		return nil

	case failure.ActionSkip:
		exec.markTerminalFailure(node.ID, models.NodeStatusSkipped)
		e.recordEvent(exec, models.EventTypeNodeSkipped, node.ID, map[string]interface{}{
			"reason": decision.Reason,
		})
		if decision.SkipDependents {
			for _, skipped := range exec.skipDependents(node.ID) {
				e.recordEvent(exec, models.EventTypeNodeSkipped, skipped, map[string]interface{}{
					"reason": fmt.Sprintf("dependency %s was skipped", node.ID),
				})
			}
		}
		return nil

	case failure.ActionFallback:
		exec.markCompleted(node.ID, decision.FallbackResult, now)
		e.recordEvent(exec, models.EventTypeNodeCompleted, node.ID, map[string]interface{}{
			"fallback": true,
		})
		return nil

	case failure.ActionCircuitOpen:
		exec.setNodeStatus(node.ID, models.NodeStatusCircuitOpen)
		e.recordEvent(exec, models.EventTypeNodeCircuitOpen, node.ID, nil)
		return nil

	default:
		exec.markTerminalFailure(node.ID, models.NodeStatusFailed)
		e.recordEvent(exec, models.EventTypeNodeFailed, node.ID, map[string]interface{}{
			"error": execErr.Error(),
		})
		return &models.ExecutionError{
			WorkflowID: def.ID,
			NodeID:     node.ID,
			Err:        execErr,
		}
	}
}

// effectiveInputs merges the node's declared inputs with the results of
// its dependencies. Declared inputs win; each dependency's result is
// exposed under the dependency's node id.
func (e *Engine) effectiveInputs(exec *execution, node *models.Node) map[string]interface{} {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	inputs := make(map[string]interface{}, len(node.Inputs)+len(node.Dependencies))
	for k, v := range node.Inputs {
		inputs[k] = v
	}
	for _, dep := range node.Dependencies {
		ns := exec.state.Nodes[dep]
		if ns == nil || ns.Status != models.NodeStatusCompleted {
			continue
		}
		if _, taken := inputs[dep]; !taken {
			inputs[dep] = ns.Result
		}
	}
	return inputs
}

// recordEvent publishes an engine lifecycle event to the bus and appends
// it to the workflow's bounded event log.
func (e *Engine) recordEvent(exec *execution, eventType, nodeID string, data map[string]interface{}) {
	event := &models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: e.clk.Now(),
		NodeID:    nodeID,
		Data:      data,
	}
	exec.appendEvent(event, e.eventHistoryLimit)
	e.bus.Emit(event)
}

// persist snapshots the failure-manager sections into the state and
// saves it. A failed save stops the round; the previously persisted
// state remains the restart point.
func (e *Engine) persist(ctx context.Context, exec *execution) error {
	state := exec.snapshot()
	e.failures.Snapshot(state)
	if err := e.store.Save(ctx, exec.workflowID(), state); err != nil {
		return fmt.Errorf("persist workflow %s: %w", exec.workflowID(), err)
	}
	return nil
}
