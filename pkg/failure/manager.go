// Package failure implements per-node failure handling for workflow
// execution: classification, retry policy, circuit breaking, dead
// lettering, poison detection, and failure metrics.
package failure

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stateflow/stateflow/internal/infrastructure/logger"
	"github.com/stateflow/stateflow/pkg/clock"
	"github.com/stateflow/stateflow/pkg/models"
)

// Defaults applied when no configuration level specifies a value.
const (
	DefaultPoisonThreshold      = 10
	DefaultFailureRateThreshold = 50.0
	DefaultMonitorInterval      = 60 * time.Second
	DefaultMetricsRetention     = 24 * time.Hour
	DefaultDeadLetterMaxRetries = 3
)

// Key identifies the unit the manager tracks state for.
type Key struct {
	WorkflowID string
	NodeID     string
}

// Action describes what the engine should do with a failed node once
// retries are off the table.
type Action string

const (
	ActionRetry       Action = "RETRY"
	ActionFail        Action = "FAIL"
	ActionSkip        Action = "SKIP"
	ActionDeadLetter  Action = "DEAD_LETTER"
	ActionFallback    Action = "FALLBACK"
	ActionCircuitOpen Action = "CIRCUIT_OPEN"
)

// Decision is the failure manager's verdict on a node failure.
type Decision struct {
	ShouldRetry    bool
	ShouldContinue bool
	Action         Action
	RetryDelay     time.Duration
	FailureType    models.FailureType
	FallbackResult interface{}
	HasFallback    bool
	SkipDependents bool
	Reason         string
}

// AlertHandler receives failure-manager alerts. Panics and errors inside
// the handler are logged and swallowed.
type AlertHandler func(alert models.Alert)

// Manager owns circuit state, failure metrics, and dead-letter queues
// keyed by (workflowID, nodeID), plus the process-level poison set.
type Manager struct {
	mu sync.Mutex

	global     *models.FailureHandlingConfig
	classifier Classifier
	clk        clock.Clock
	log        *logger.Logger
	jitter     func() float64
	alert      AlertHandler

	breakers map[Key]*models.CircuitBreakerState
	metrics  map[Key]*models.FailureMetrics
	dlq      map[string][]*models.DeadLetterItem
	poison   map[Key]bool

	monitor *monitor
}

// Option configures a Manager.
type Option func(*Manager)

// WithGlobalConfig sets the engine-wide failure-handling defaults.
func WithGlobalConfig(cfg *models.FailureHandlingConfig) Option {
	return func(m *Manager) { m.global = cfg }
}

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithAlertHandler sets the alert sink.
func WithAlertHandler(h AlertHandler) Option {
	return func(m *Manager) { m.alert = h }
}

// WithJitterSource replaces the jitter randomness, for deterministic tests.
// The source must yield values in [0, 1).
func WithJitterSource(src func() float64) Option {
	return func(m *Manager) { m.jitter = src }
}

// NewManager creates a failure manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		classifier: KeywordClassifier{},
		clk:        clock.System(),
		log:        logger.Default(),
		jitter:     rand.Float64,
		breakers:   make(map[Key]*models.CircuitBreakerState),
		metrics:    make(map[Key]*models.FailureMetrics),
		dlq:        make(map[string][]*models.DeadLetterItem),
		poison:     make(map[Key]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// effectiveConfig merges failure handling per section: node level wins,
// then workflow level, then the global defaults.
func (m *Manager) effectiveConfig(def *models.WorkflowDefinition, node *models.Node) models.FailureHandlingConfig {
	var merged models.FailureHandlingConfig
	layers := []*models.FailureHandlingConfig{m.global, def.FailureHandling, node.FailureHandling}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.Strategy != "" {
			merged.Strategy = layer.Strategy
		}
		if layer.CircuitBreaker != nil {
			merged.CircuitBreaker = layer.CircuitBreaker
		}
		if layer.DeadLetter != nil {
			merged.DeadLetter = layer.DeadLetter
		}
		if layer.Monitoring != nil {
			merged.Monitoring = layer.Monitoring
		}
		if layer.PoisonMessageThreshold > 0 {
			merged.PoisonMessageThreshold = layer.PoisonMessageThreshold
		}
		if layer.GracefulDegradation != nil {
			merged.GracefulDegradation = layer.GracefulDegradation
		}
	}
	if merged.Strategy == "" {
		merged.Strategy = models.StrategyRetryAndFail
	}
	if merged.PoisonMessageThreshold <= 0 {
		merged.PoisonMessageThreshold = DefaultPoisonThreshold
	}
	return merged
}

// ShouldExecute reports whether a node may be dispatched. When it may
// not, the returned status tells the engine what to record on the node.
func (m *Manager) ShouldExecute(def *models.WorkflowDefinition, node *models.Node) (bool, models.NodeStatus, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{WorkflowID: def.ID, NodeID: node.ID}
	if m.poison[key] {
		return false, models.NodeStatusFailed, "node is marked as a poison message"
	}

	cfg := m.effectiveConfig(def, node)
	if cfg.Strategy != models.StrategyCircuitBreaker {
		return true, "", ""
	}

	cb := m.breakers[key]
	if cb == nil || cb.State != models.CircuitOpen {
		return true, "", ""
	}

	now := m.clk.Now()
	if cb.NextAttemptTime != nil && now.Before(*cb.NextAttemptTime) {
		return false, models.NodeStatusCircuitOpen, "circuit breaker is open"
	}

	// Recovery timeout elapsed: probe with a half-open attempt.
	cb.State = models.CircuitHalfOpen
	cb.SuccessCount = 0
	return true, "", ""
}

// RecordSuccess updates metrics and breaker state after a successful
// node execution.
func (m *Manager) RecordSuccess(def *models.WorkflowDefinition, node *models.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{WorkflowID: def.ID, NodeID: node.ID}
	metrics := m.metricsFor(key)
	metrics.TotalExecutions++
	metrics.FailureRate = rate(metrics.TotalFailures, metrics.TotalExecutions)

	cfg := m.effectiveConfig(def, node)
	if cfg.Strategy != models.StrategyCircuitBreaker {
		return
	}

	cbCfg := cfg.CircuitBreaker
	if cbCfg == nil {
		cbCfg = models.DefaultCircuitBreakerConfig()
	}
	cb := m.breakerFor(key)
	switch cb.State {
	case models.CircuitClosed:
		if cb.FailureCount > 0 {
			cb.FailureCount--
		}
	case models.CircuitHalfOpen:
		cb.SuccessCount++
		if cb.SuccessCount >= cbCfg.SuccessThreshold {
			cb.State = models.CircuitClosed
			cb.FailureCount = 0
			cb.SuccessCount = 0
			cb.NextAttemptTime = nil
		}
	}
}

// HandleFailure classifies a node failure, updates metrics, breaker, and
// poison state, and decides what the engine does next.
func (m *Manager) HandleFailure(def *models.WorkflowDefinition, node *models.Node, attempts int, err error) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{WorkflowID: def.ID, NodeID: node.ID}
	cfg := m.effectiveConfig(def, node)
	now := m.clk.Now()

	failureType := m.classifier.Classify(err)

	metrics := m.metricsFor(key)
	metrics.TotalExecutions++
	metrics.TotalFailures++
	metrics.FailureRate = rate(metrics.TotalFailures, metrics.TotalExecutions)
	if metrics.FailuresByType == nil {
		metrics.FailuresByType = make(map[models.FailureType]int)
	}
	metrics.FailuresByType[failureType]++
	metrics.LastFailureTime = &now

	circuitOpened := false
	if cfg.Strategy == models.StrategyCircuitBreaker {
		circuitOpened = m.recordBreakerFailure(key, cfg.CircuitBreaker, now)
	}

	poisoned := attempts >= cfg.PoisonMessageThreshold
	if poisoned {
		m.poison[key] = true
		failureType = models.FailureTypePoison
		metrics.PoisonCount++
		m.log.Warn("node crossed poison threshold",
			"workflow_id", def.ID,
			"node_id", node.ID,
			"attempts", attempts,
		)
	}

	rc := node.RetryConfig
	if rc == nil {
		rc = models.DefaultRetryConfig()
	}

	canRetry := !poisoned &&
		!circuitOpened &&
		cfg.Strategy != models.StrategyFailFast &&
		attempts < rc.MaxAttempts &&
		isRetryable(rc, failureType, err.Error())

	if canRetry {
		return Decision{
			ShouldRetry: true,
			Action:      ActionRetry,
			RetryDelay:  retryDelay(rc, attempts, m.jitter),
			FailureType: failureType,
		}
	}

	if circuitOpened {
		return Decision{
			ShouldContinue: true,
			Action:         ActionCircuitOpen,
			FailureType:    failureType,
			Reason:         "circuit breaker opened",
		}
	}

	return m.exhaustedLocked(key, cfg, def, node, attempts, err, failureType, now)
}

// exhaustedLocked applies the strategy once retries are exhausted.
func (m *Manager) exhaustedLocked(
	key Key,
	cfg models.FailureHandlingConfig,
	def *models.WorkflowDefinition,
	node *models.Node,
	attempts int,
	err error,
	failureType models.FailureType,
	now time.Time,
) Decision {
	switch cfg.Strategy {
	case models.StrategyRetryAndDLQ:
		maxRetries := DefaultDeadLetterMaxRetries
		if cfg.DeadLetter != nil && cfg.DeadLetter.MaxRetries > 0 {
			maxRetries = cfg.DeadLetter.MaxRetries
		}
		item := &models.DeadLetterItem{
			ID:           uuid.NewString(),
			WorkflowID:   def.ID,
			NodeID:       node.ID,
			OriginalNode: node,
			Error:        err.Error(),
			FailureType:  failureType,
			Attempts:     attempts,
			Timestamp:    now,
			CanRetry:     maxRetries > 0,
		}
		m.dlq[def.ID] = append(m.dlq[def.ID], item)
		metrics := m.metricsFor(key)
		metrics.DeadLetterCount++
		return Decision{
			ShouldContinue: true,
			Action:         ActionDeadLetter,
			FailureType:    failureType,
			Reason:         "retries exhausted, node dead-lettered",
		}

	case models.StrategyRetryAndSkip:
		return Decision{
			ShouldContinue: true,
			Action:         ActionSkip,
			FailureType:    failureType,
			Reason:         "retries exhausted, node skipped",
		}

	case models.StrategyGracefulDegradation:
		gd := cfg.GracefulDegradation
		if gd == nil {
			return Decision{
				ShouldContinue: true,
				Action:         ActionSkip,
				FailureType:    failureType,
				Reason:         "retries exhausted, node skipped (no fallback configured)",
			}
		}
		if !gd.ContinueOnNodeFailure {
			return Decision{
				Action:      ActionFail,
				FailureType: failureType,
				Reason:      "retries exhausted, degradation disabled continuation",
			}
		}
		if fallback, ok := gd.FallbackResults[node.ID]; ok {
			return Decision{
				ShouldContinue: true,
				Action:         ActionFallback,
				FailureType:    failureType,
				FallbackResult: fallback,
				HasFallback:    true,
				SkipDependents: gd.SkipDependentNodes,
				Reason:         "retries exhausted, fallback result substituted",
			}
		}
		return Decision{
			ShouldContinue: true,
			Action:         ActionSkip,
			FailureType:    failureType,
			SkipDependents: gd.SkipDependentNodes,
			Reason:         "retries exhausted, node skipped",
		}

	default:
		// FAIL_FAST, RETRY_AND_FAIL, and CIRCUIT_BREAKER exhaustion all
		// abort the workflow.
		return Decision{
			Action:      ActionFail,
			FailureType: failureType,
			Reason:      "failure is fatal for the workflow",
		}
	}
}

// recordBreakerFailure updates breaker state for a failure and reports
// whether the circuit transitioned to OPEN.
func (m *Manager) recordBreakerFailure(key Key, cbCfg *models.CircuitBreakerConfig, now time.Time) bool {
	if cbCfg == nil {
		cbCfg = models.DefaultCircuitBreakerConfig()
	}
	cb := m.breakerFor(key)
	cb.LastFailureTime = &now

	switch cb.State {
	case models.CircuitHalfOpen:
		next := now.Add(cbCfg.RecoveryTimeoutDuration())
		cb.State = models.CircuitOpen
		cb.SuccessCount = 0
		cb.NextAttemptTime = &next
		return true

	default: // CLOSED
		cb.FailureCount++
		if cb.FailureCount < cbCfg.FailureThreshold {
			return false
		}
		next := now.Add(cbCfg.RecoveryTimeoutDuration())
		cb.State = models.CircuitOpen
		cb.NextAttemptTime = &next

		metrics := m.metricsFor(key)
		metrics.CircuitOpenCount++

		m.emitAlertLocked(models.Alert{
			Type:       models.AlertCircuitOpen,
			WorkflowID: key.WorkflowID,
			NodeID:     key.NodeID,
			Message:    fmt.Sprintf("circuit opened after %d failures", cb.FailureCount),
			Timestamp:  now,
		})
		return true
	}
}

// RetryDeadLetterItem removes a parked item and increments its retry
// count so the caller can resume the workflow. A second call with the
// same id returns ErrDeadLetterNotFound.
func (m *Manager) RetryDeadLetterItem(workflowID, itemID string) (*models.DeadLetterItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.dlq[workflowID]
	for i, item := range items {
		if item.ID != itemID {
			continue
		}
		if !item.CanRetry {
			return nil, fmt.Errorf("dead letter item %s cannot be retried", itemID)
		}
		m.dlq[workflowID] = append(items[:i], items[i+1:]...)
		item.RetryCount++
		// A replayed node gets a fresh shot at execution.
		delete(m.poison, Key{WorkflowID: workflowID, NodeID: item.NodeID})
		return item, nil
	}
	return nil, models.ErrDeadLetterNotFound
}

// DeadLetterQueue returns a copy of the parked items for a workflow.
func (m *Manager) DeadLetterQueue(workflowID string) []*models.DeadLetterItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.dlq[workflowID]
	out := make([]*models.DeadLetterItem, len(items))
	copy(out, items)
	return out
}

// Metrics returns the failure metrics for a workflow, keyed by node ID.
func (m *Manager) Metrics(workflowID string) map[string]*models.FailureMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*models.FailureMetrics)
	for key, metric := range m.metrics {
		if key.WorkflowID == workflowID {
			cp := *metric
			out[key.NodeID] = &cp
		}
	}
	return out
}

// Snapshot copies the manager's sections for a workflow into its
// persistable state form.
func (m *Manager) Snapshot(state *models.WorkflowState) {
	workflowID := state.Definition.ID
	state.CircuitBreakers = m.breakerSnapshot(workflowID)
	state.FailureMetrics = m.Metrics(workflowID)
	state.DeadLetterQueue = m.DeadLetterQueue(workflowID)
}

func (m *Manager) breakerSnapshot(workflowID string) map[string]*models.CircuitBreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*models.CircuitBreakerState)
	for key, cb := range m.breakers {
		if key.WorkflowID == workflowID {
			cp := *cb
			out[key.NodeID] = &cp
		}
	}
	return out
}

// Restore seeds the manager from a persisted workflow state so a resumed
// execution continues with its breaker, metrics, and DLQ intact.
func (m *Manager) Restore(state *models.WorkflowState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workflowID := state.Definition.ID
	for nodeID, cb := range state.CircuitBreakers {
		cp := *cb
		m.breakers[Key{WorkflowID: workflowID, NodeID: nodeID}] = &cp
	}
	for nodeID, metric := range state.FailureMetrics {
		cp := *metric
		m.metrics[Key{WorkflowID: workflowID, NodeID: nodeID}] = &cp
	}
	if len(state.DeadLetterQueue) > 0 {
		items := make([]*models.DeadLetterItem, len(state.DeadLetterQueue))
		copy(items, state.DeadLetterQueue)
		m.dlq[workflowID] = items
	}
	for nodeID, node := range state.Nodes {
		if node.IsPoisonMessage {
			m.poison[Key{WorkflowID: workflowID, NodeID: nodeID}] = true
		}
	}
}

// Forget drops all manager state for a workflow.
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.breakers {
		if key.WorkflowID == workflowID {
			delete(m.breakers, key)
		}
	}
	for key := range m.metrics {
		if key.WorkflowID == workflowID {
			delete(m.metrics, key)
		}
	}
	for key := range m.poison {
		if key.WorkflowID == workflowID {
			delete(m.poison, key)
		}
	}
	delete(m.dlq, workflowID)
}

// BreakerState returns a copy of the breaker for a node, nil when absent.
func (m *Manager) BreakerState(workflowID, nodeID string) *models.CircuitBreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb := m.breakers[Key{WorkflowID: workflowID, NodeID: nodeID}]
	if cb == nil {
		return nil
	}
	cp := *cb
	return &cp
}

// IsPoisoned reports whether a node is in the poison set.
func (m *Manager) IsPoisoned(workflowID, nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poison[Key{WorkflowID: workflowID, NodeID: nodeID}]
}

func (m *Manager) metricsFor(key Key) *models.FailureMetrics {
	metric, ok := m.metrics[key]
	if !ok {
		metric = &models.FailureMetrics{
			WorkflowID: key.WorkflowID,
			NodeID:     key.NodeID,
		}
		m.metrics[key] = metric
	}
	return metric
}

func (m *Manager) breakerFor(key Key) *models.CircuitBreakerState {
	cb, ok := m.breakers[key]
	if !ok {
		cb = &models.CircuitBreakerState{State: models.CircuitClosed}
		m.breakers[key] = cb
	}
	return cb
}

// emitAlertLocked delivers an alert without letting handler failures
// escape. Called with the manager lock held; the handler runs on its own
// goroutine so it cannot deadlock against manager state.
func (m *Manager) emitAlertLocked(alert models.Alert) {
	if m.alert == nil {
		return
	}
	handler := m.alert
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("alert handler panic recovered",
					"alert_type", string(alert.Type),
					"panic", r,
				)
			}
		}()
		handler(alert)
	}()
}

func rate(failures, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total) * 100
}
