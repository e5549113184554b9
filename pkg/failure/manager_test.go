package failure

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateflow/stateflow/pkg/clock"
	"github.com/stateflow/stateflow/pkg/models"
)

func testDef(nodes ...*models.Node) *models.WorkflowDefinition {
	if len(nodes) == 0 {
		nodes = []*models.Node{{ID: "n1", Type: "data"}}
	}
	return &models.WorkflowDefinition{ID: "wf-1", Name: "test", Nodes: nodes}
}

func cbNode(cfg *models.CircuitBreakerConfig, rc *models.RetryConfig) *models.Node {
	return &models.Node{
		ID:          "n1",
		Type:        "data",
		RetryConfig: rc,
		FailureHandling: &models.FailureHandlingConfig{
			Strategy:       models.StrategyCircuitBreaker,
			CircuitBreaker: cfg,
		},
	}
}

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		msg  string
		want models.FailureType
	}{
		{"request unauthorized: bad token", models.FailureTypeSecurity},
		{"permission denied on resource", models.FailureTypeSecurity},
		{"rate limit exceeded", models.FailureTypeResource},
		{"disk full", models.FailureTypeResource},
		{"connection refused", models.FailureTypeTransient},
		{"dial tcp: dns lookup failed", models.FailureTypeTransient},
		{"upstream returned 503", models.FailureTypeDependency},
		{"bad gateway", models.FailureTypeDependency},
		{"schema validation failed", models.FailureTypePermanent},
		{"malformed payload", models.FailureTypePermanent},
		{"something inexplicable", models.FailureTypeTransient},
	}

	c := KeywordClassifier{}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(errors.New(tt.msg)))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	rc := &models.RetryConfig{MaxAttempts: 3}

	assert.True(t, isRetryable(rc, models.FailureTypeTransient, "connection reset"))
	assert.True(t, isRetryable(rc, models.FailureTypeDependency, "upstream 503"))
	assert.False(t, isRetryable(rc, models.FailureTypePermanent, "schema invalid"))
	assert.False(t, isRetryable(rc, models.FailureTypeSecurity, "forbidden"))

	// Non-retryable patterns always win.
	rcNon := &models.RetryConfig{MaxAttempts: 3, NonRetryableErrors: []string{"fatal"}}
	assert.False(t, isRetryable(rcNon, models.FailureTypeTransient, "fatal: connection reset"))

	// Explicit retryable list replaces the classification rule.
	rcList := &models.RetryConfig{MaxAttempts: 3, RetryableErrors: []string{"flaky"}}
	assert.True(t, isRetryable(rcList, models.FailureTypePermanent, "flaky backend"))
	assert.False(t, isRetryable(rcList, models.FailureTypeTransient, "connection reset"))
}

func TestRetryDelay_Backoff(t *testing.T) {
	rc := &models.RetryConfig{MaxAttempts: 5, Delay: 1000, BackoffMultiplier: 2, MaxDelay: 30000}

	assert.Equal(t, time.Second, retryDelay(rc, 1, nil))
	assert.Equal(t, 2*time.Second, retryDelay(rc, 2, nil))
	assert.Equal(t, 4*time.Second, retryDelay(rc, 3, nil))

	// Capped at maxDelay.
	assert.Equal(t, 30*time.Second, retryDelay(rc, 10, nil))
}

func TestRetryDelay_Jitter(t *testing.T) {
	rc := &models.RetryConfig{MaxAttempts: 3, Delay: 1000, BackoffMultiplier: 2, MaxDelay: 30000, Jitter: true}

	// jitterSource 0 maps to -25%, 0.999... maps to just under +25%.
	low := retryDelay(rc, 1, func() float64 { return 0 })
	assert.Equal(t, 750*time.Millisecond, low)

	high := retryDelay(rc, 1, func() float64 { return 0.9999999 })
	assert.InDelta(t, float64(1250*time.Millisecond), float64(high), float64(time.Millisecond))

	mid := retryDelay(rc, 1, func() float64 { return 0.5 })
	assert.Equal(t, time.Second, mid)
}

func TestHandleFailure_RetryDecision(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 3, Delay: 10, BackoffMultiplier: 2, MaxDelay: 1000},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("connection timeout"))
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 10*time.Millisecond, d.RetryDelay)

	d = m.HandleFailure(def, def.Nodes[0], 2, errors.New("connection timeout"))
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, 20*time.Millisecond, d.RetryDelay)

	// Attempt budget exhausted.
	d = m.HandleFailure(def, def.Nodes[0], 3, errors.New("connection timeout"))
	assert.False(t, d.ShouldRetry)
	assert.False(t, d.ShouldContinue)
	assert.Equal(t, ActionFail, d.Action)
}

func TestHandleFailure_MaxAttemptsOne_NeverRetries(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 1, Delay: 10},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("network glitch"))
	assert.False(t, d.ShouldRetry)
}

func TestHandleFailure_FailFast(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig:     &models.RetryConfig{MaxAttempts: 5, Delay: 10},
		FailureHandling: &models.FailureHandlingConfig{Strategy: models.StrategyFailFast},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("connection timeout"))
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, ActionFail, d.Action)
}

func TestHandleFailure_DLQOnExhaustion(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig:     &models.RetryConfig{MaxAttempts: 2, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{Strategy: models.StrategyRetryAndDLQ},
	})

	d := m.HandleFailure(def, def.Nodes[0], 2, errors.New("network down"))
	assert.False(t, d.ShouldRetry)
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, ActionDeadLetter, d.Action)

	items := m.DeadLetterQueue("wf-1")
	require.Len(t, items, 1)
	assert.Equal(t, "n1", items[0].NodeID)
	assert.Equal(t, 2, items[0].Attempts)
	assert.True(t, items[0].CanRetry)
	assert.Equal(t, models.FailureTypeTransient, items[0].FailureType)
}

func TestRetryDeadLetterItem_Idempotent(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig:     &models.RetryConfig{MaxAttempts: 1, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{Strategy: models.StrategyRetryAndDLQ},
	})

	m.HandleFailure(def, def.Nodes[0], 1, errors.New("network down"))
	items := m.DeadLetterQueue("wf-1")
	require.Len(t, items, 1)

	item, err := m.RetryDeadLetterItem("wf-1", items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RetryCount)
	assert.Empty(t, m.DeadLetterQueue("wf-1"))

	_, err = m.RetryDeadLetterItem("wf-1", items[0].ID)
	assert.ErrorIs(t, err, models.ErrDeadLetterNotFound)
}

func TestHandleFailure_SkipOnExhaustion(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig:     &models.RetryConfig{MaxAttempts: 1, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{Strategy: models.StrategyRetryAndSkip},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("network down"))
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, ActionSkip, d.Action)
}

func TestHandleFailure_GracefulDegradation(t *testing.T) {
	gd := &models.GracefulDegradationConfig{
		FallbackResults:       map[string]interface{}{"n1": "fallback-value"},
		ContinueOnNodeFailure: true,
		SkipDependentNodes:    true,
	}
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 1, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{
			Strategy:            models.StrategyGracefulDegradation,
			GracefulDegradation: gd,
		},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("network down"))
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, ActionFallback, d.Action)
	assert.Equal(t, "fallback-value", d.FallbackResult)
	assert.True(t, d.SkipDependents)
}

func TestHandleFailure_GracefulDegradation_SkipWithoutFallback(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n2", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 1, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{
			Strategy: models.StrategyGracefulDegradation,
			GracefulDegradation: &models.GracefulDegradationConfig{
				ContinueOnNodeFailure: true,
			},
		},
	})

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("network down"))
	assert.Equal(t, ActionSkip, d.Action)
	assert.False(t, d.HasFallback)
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	var alerts []models.Alert
	alertCh := make(chan models.Alert, 1)
	m := NewManager(
		WithClock(fake),
		WithAlertHandler(func(a models.Alert) { alertCh <- a }),
	)

	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	// Two failures stay closed.
	for i := 1; i <= 2; i++ {
		d := m.HandleFailure(def, node, i, errors.New("connection refused"))
		assert.True(t, d.ShouldRetry, "attempt %d should retry", i)
		cb := m.BreakerState("wf-1", "n1")
		assert.Equal(t, models.CircuitClosed, cb.State)
		assert.Equal(t, i, cb.FailureCount)
	}

	// Third failure opens the circuit exactly at the threshold.
	d := m.HandleFailure(def, node, 3, errors.New("connection refused"))
	assert.False(t, d.ShouldRetry)
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, ActionCircuitOpen, d.Action)

	cb := m.BreakerState("wf-1", "n1")
	assert.Equal(t, models.CircuitOpen, cb.State)
	require.NotNil(t, cb.NextAttemptTime)
	assert.True(t, cb.NextAttemptTime.Equal(fake.Now().Add(50*time.Millisecond)))

	select {
	case a := <-alertCh:
		alerts = append(alerts, a)
	case <-time.After(time.Second):
		t.Fatal("expected CIRCUIT_OPEN alert")
	}
	assert.Equal(t, models.AlertCircuitOpen, alerts[0].Type)
}

func TestCircuitBreaker_ThresholdOne_OpensOnFirstFailure(t *testing.T) {
	m := NewManager()
	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 1},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	d := m.HandleFailure(def, node, 1, errors.New("connection refused"))
	assert.Equal(t, ActionCircuitOpen, d.Action)
	assert.Equal(t, models.CircuitOpen, m.BreakerState("wf-1", "n1").State)
}

func TestCircuitBreaker_BlocksWhileOpen_ThenHalfOpen(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(fake))

	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	m.HandleFailure(def, node, 1, errors.New("connection refused"))

	ok, status, _ := m.ShouldExecute(def, node)
	assert.False(t, ok)
	assert.Equal(t, models.NodeStatusCircuitOpen, status)

	// Recovery timeout elapses; the breaker probes half-open.
	fake.Advance(51 * time.Millisecond)
	ok, _, _ = m.ShouldExecute(def, node)
	assert.True(t, ok)
	assert.Equal(t, models.CircuitHalfOpen, m.BreakerState("wf-1", "n1").State)
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(fake))

	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	m.HandleFailure(def, node, 1, errors.New("connection refused"))
	fake.Advance(51 * time.Millisecond)
	m.ShouldExecute(def, node) // half-open

	m.RecordSuccess(def, node)
	assert.Equal(t, models.CircuitHalfOpen, m.BreakerState("wf-1", "n1").State)

	m.RecordSuccess(def, node)
	cb := m.BreakerState("wf-1", "n1")
	assert.Equal(t, models.CircuitClosed, cb.State)
	assert.Zero(t, cb.FailureCount)
	assert.Nil(t, cb.NextAttemptTime)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(fake))

	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	m.HandleFailure(def, node, 1, errors.New("connection refused"))
	fake.Advance(51 * time.Millisecond)
	m.ShouldExecute(def, node) // half-open

	m.HandleFailure(def, node, 2, errors.New("connection refused"))
	cb := m.BreakerState("wf-1", "n1")
	assert.Equal(t, models.CircuitOpen, cb.State)
	assert.True(t, cb.NextAttemptTime.Equal(fake.Now().Add(50*time.Millisecond)))
}

func TestCircuitBreaker_ClosedSuccessDecrementsFailures(t *testing.T) {
	m := NewManager()
	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	m.HandleFailure(def, node, 1, errors.New("connection refused"))
	m.HandleFailure(def, node, 2, errors.New("connection refused"))
	assert.Equal(t, 2, m.BreakerState("wf-1", "n1").FailureCount)

	m.RecordSuccess(def, node)
	assert.Equal(t, 1, m.BreakerState("wf-1", "n1").FailureCount)

	// Floor at zero.
	m.RecordSuccess(def, node)
	m.RecordSuccess(def, node)
	assert.Equal(t, 0, m.BreakerState("wf-1", "n1").FailureCount)
}

func TestPoisonDetection(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 100, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{
			Strategy:               models.StrategyRetryAndFail,
			PoisonMessageThreshold: 3,
		},
	})
	node := def.Nodes[0]

	d := m.HandleFailure(def, node, 2, errors.New("connection timeout"))
	assert.True(t, d.ShouldRetry)
	assert.False(t, m.IsPoisoned("wf-1", "n1"))

	d = m.HandleFailure(def, node, 3, errors.New("connection timeout"))
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, models.FailureTypePoison, d.FailureType)
	assert.True(t, m.IsPoisoned("wf-1", "n1"))

	ok, _, reason := m.ShouldExecute(def, node)
	assert.False(t, ok)
	assert.Contains(t, reason, "poison")
}

func TestMetrics(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 10, Delay: 1},
	})
	node := def.Nodes[0]

	m.RecordSuccess(def, node)
	m.HandleFailure(def, node, 1, errors.New("connection timeout"))
	m.HandleFailure(def, node, 2, errors.New("schema invalid"))
	m.RecordSuccess(def, node)

	metrics := m.Metrics("wf-1")
	require.Contains(t, metrics, "n1")
	nm := metrics["n1"]
	assert.Equal(t, 4, nm.TotalExecutions)
	assert.Equal(t, 2, nm.TotalFailures)
	assert.Equal(t, 50.0, nm.FailureRate)
	assert.Equal(t, 1, nm.FailuresByType[models.FailureTypeTransient])
	assert.Equal(t, 1, nm.FailuresByType[models.FailureTypePermanent])
	assert.NotNil(t, nm.LastFailureTime)
}

func TestSnapshotRestore(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(fake))

	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 2},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)
	m.HandleFailure(def, node, 1, errors.New("connection refused"))

	state := models.NewWorkflowState(def, nil, fake.Now())
	m.Snapshot(state)

	require.Contains(t, state.CircuitBreakers, "n1")
	assert.Equal(t, models.CircuitOpen, state.CircuitBreakers["n1"].State)
	require.Contains(t, state.FailureMetrics, "n1")

	// A fresh manager restored from the snapshot keeps blocking.
	m2 := NewManager(WithClock(fake))
	m2.Restore(state)

	ok, status, _ := m2.ShouldExecute(def, node)
	assert.False(t, ok)
	assert.Equal(t, models.NodeStatusCircuitOpen, status)
	assert.Equal(t, 1, m2.Metrics("wf-1")["n1"].TotalFailures)
}

func TestAlertHandlerPanicSwallowed(t *testing.T) {
	m := NewManager(WithAlertHandler(func(models.Alert) { panic("handler bug") }))
	node := cbNode(
		&models.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 50, SuccessThreshold: 1},
		&models.RetryConfig{MaxAttempts: 10, Delay: 1},
	)
	def := testDef(node)

	require.NotPanics(t, func() {
		m.HandleFailure(def, node, 1, errors.New("connection refused"))
	})
	// Give the handler goroutine a moment to run its recovery path.
	time.Sleep(10 * time.Millisecond)
}

func TestForget(t *testing.T) {
	m := NewManager()
	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig:     &models.RetryConfig{MaxAttempts: 1, Delay: 1},
		FailureHandling: &models.FailureHandlingConfig{Strategy: models.StrategyRetryAndDLQ},
	})
	m.HandleFailure(def, def.Nodes[0], 1, errors.New("network down"))

	require.NotEmpty(t, m.DeadLetterQueue("wf-1"))
	m.Forget("wf-1")
	assert.Empty(t, m.DeadLetterQueue("wf-1"))
	assert.Empty(t, m.Metrics("wf-1"))
}

func TestMonitor_HighFailureRateAlert(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	alertCh := make(chan models.Alert, 4)
	m := NewManager(
		WithClock(fake),
		WithAlertHandler(func(a models.Alert) { alertCh <- a }),
	)

	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 10, Delay: 1},
	})
	node := def.Nodes[0]

	m.HandleFailure(def, node, 1, errors.New("connection timeout"))
	m.HandleFailure(def, node, 2, errors.New("connection timeout"))

	m.sweep(50, time.Hour, true)

	select {
	case a := <-alertCh:
		assert.Equal(t, models.AlertHighFailureRate, a.Type)
		assert.Equal(t, "n1", a.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected HIGH_FAILURE_RATE alert")
	}
}

func TestMonitor_PrunesOldMetrics(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(fake))

	def := testDef(&models.Node{
		ID: "n1", Type: "data",
		RetryConfig: &models.RetryConfig{MaxAttempts: 10, Delay: 1},
	})
	m.HandleFailure(def, def.Nodes[0], 1, errors.New("connection timeout"))

	fake.Advance(2 * time.Hour)
	m.sweep(50, time.Hour, false)

	assert.Empty(t, m.Metrics("wf-1"))
}

func TestStartMonitor_DisabledIsNoop(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.StartMonitor(nil))
	require.NoError(t, m.StartMonitor(&models.MonitoringConfig{Enabled: false}))
	m.StopMonitor()
}

func TestStartMonitor_StartsAndStops(t *testing.T) {
	m := NewManager()
	err := m.StartMonitor(&models.MonitoringConfig{
		Enabled:                   true,
		MetricsCollectionInterval: (10 * time.Second).Milliseconds(),
		AlertingEnabled:           true,
	})
	require.NoError(t, err)
	m.StopMonitor()
}

func TestEffectiveConfig_LayerPrecedence(t *testing.T) {
	m := NewManager(WithGlobalConfig(&models.FailureHandlingConfig{
		Strategy:               models.StrategyRetryAndSkip,
		PoisonMessageThreshold: 7,
	}))

	node := &models.Node{ID: "n1", Type: "data"}
	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []*models.Node{node},
		FailureHandling: &models.FailureHandlingConfig{
			Strategy: models.StrategyRetryAndDLQ,
		},
	}

	// Workflow level overrides global.
	cfg := m.effectiveConfig(def, node)
	assert.Equal(t, models.StrategyRetryAndDLQ, cfg.Strategy)
	assert.Equal(t, 7, cfg.PoisonMessageThreshold)

	// Node level overrides workflow.
	node.FailureHandling = &models.FailureHandlingConfig{Strategy: models.StrategyFailFast}
	cfg = m.effectiveConfig(def, node)
	assert.Equal(t, models.StrategyFailFast, cfg.Strategy)
}

func TestEffectiveConfig_Defaults(t *testing.T) {
	m := NewManager()
	def := testDef()

	cfg := m.effectiveConfig(def, def.Nodes[0])
	assert.Equal(t, models.StrategyRetryAndFail, cfg.Strategy)
	assert.Equal(t, DefaultPoisonThreshold, cfg.PoisonMessageThreshold)
}

func ExampleManager_HandleFailure() {
	m := NewManager()
	def := &models.WorkflowDefinition{
		ID: "orders",
		Nodes: []*models.Node{{
			ID: "charge", Type: "payment",
			RetryConfig: &models.RetryConfig{MaxAttempts: 3, Delay: 100, BackoffMultiplier: 2},
		}},
	}

	d := m.HandleFailure(def, def.Nodes[0], 1, errors.New("gateway timeout"))
	fmt.Println(d.ShouldRetry, d.Action)
	// Output: true RETRY
}
