package models

import "time"

// FailureStrategy selects how the engine reacts to node failures.
type FailureStrategy string

const (
	// StrategyFailFast aborts the workflow on the first failure.
	StrategyFailFast FailureStrategy = "FAIL_FAST"

	// StrategyRetryAndFail retries per RetryConfig; exhaustion aborts the workflow.
	StrategyRetryAndFail FailureStrategy = "RETRY_AND_FAIL"

	// StrategyRetryAndDLQ retries; exhaustion parks the node in the dead-letter queue.
	StrategyRetryAndDLQ FailureStrategy = "RETRY_AND_DLQ"

	// StrategyRetryAndSkip retries; exhaustion marks the node SKIPPED.
	StrategyRetryAndSkip FailureStrategy = "RETRY_AND_SKIP"

	// StrategyCircuitBreaker retries behind a three-state circuit breaker.
	StrategyCircuitBreaker FailureStrategy = "CIRCUIT_BREAKER"

	// StrategyGracefulDegradation retries; exhaustion substitutes a
	// fallback result or skips, optionally cascading the skip.
	StrategyGracefulDegradation FailureStrategy = "GRACEFUL_DEGRADATION"
)

// FailureType classifies a node failure.
type FailureType string

const (
	FailureTypeSecurity   FailureType = "SECURITY"
	FailureTypeResource   FailureType = "RESOURCE"
	FailureTypeTransient  FailureType = "TRANSIENT"
	FailureTypeDependency FailureType = "DEPENDENCY"
	FailureTypePermanent  FailureType = "PERMANENT"
	FailureTypePoison     FailureType = "POISON"
)

// CircuitState is the state of a per-node circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// FailureHandlingConfig configures failure handling. It applies at three
// levels: per node, per workflow, and engine-global; the most specific
// level wins.
type FailureHandlingConfig struct {
	Strategy               FailureStrategy            `json:"strategy,omitempty"`
	CircuitBreaker         *CircuitBreakerConfig      `json:"circuitBreaker,omitempty"`
	DeadLetter             *DeadLetterConfig          `json:"deadLetter,omitempty"`
	Monitoring             *MonitoringConfig          `json:"monitoring,omitempty"`
	PoisonMessageThreshold int                        `json:"poisonMessageThreshold,omitempty"`
	GracefulDegradation    *GracefulDegradationConfig `json:"gracefulDegradationConfig,omitempty"`
}

// CircuitBreakerConfig tunes the three-state breaker.
// TimeWindow and RecoveryTimeout are in milliseconds.
type CircuitBreakerConfig struct {
	FailureThreshold int   `json:"failureThreshold"`
	TimeWindow       int64 `json:"timeWindow,omitempty"`
	RecoveryTimeout  int64 `json:"recoveryTimeout"`
	SuccessThreshold int   `json:"successThreshold"`
}

// RecoveryTimeoutDuration returns the open-state recovery timeout.
func (c *CircuitBreakerConfig) RecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}

// DefaultCircuitBreakerConfig returns the breaker defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		TimeWindow:       60000,
		RecoveryTimeout:  30000,
		SuccessThreshold: 2,
	}
}

// DeadLetterConfig tunes the dead-letter queue.
type DeadLetterConfig struct {
	Enabled         bool  `json:"enabled"`
	MaxRetries      int   `json:"maxRetries,omitempty"`
	RetentionPeriod int64 `json:"retentionPeriod,omitempty"`
}

// MonitoringConfig tunes the failure monitor.
type MonitoringConfig struct {
	Enabled                   bool    `json:"enabled"`
	MetricsCollectionInterval int64   `json:"metricsCollectionInterval,omitempty"`
	FailureRateThreshold      float64 `json:"failureRateThreshold,omitempty"`
	AlertingEnabled           bool    `json:"alertingEnabled,omitempty"`
	RetentionPeriod           int64   `json:"retentionPeriod,omitempty"`
}

// GracefulDegradationConfig tunes the GRACEFUL_DEGRADATION strategy.
// FallbackResults maps node IDs to the result substituted on exhaustion;
// a node without an entry is skipped instead.
type GracefulDegradationConfig struct {
	FallbackResults       map[string]interface{} `json:"fallbackResults,omitempty"`
	ContinueOnNodeFailure bool                   `json:"continueOnNodeFailure,omitempty"`
	SkipDependentNodes    bool                   `json:"skipDependentNodes,omitempty"`
}

// CircuitBreakerState is the persisted state of one breaker.
type CircuitBreakerState struct {
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	SuccessCount    int          `json:"successCount"`
	NextAttemptTime *time.Time   `json:"nextAttemptTime,omitempty"`
	LastFailureTime *time.Time   `json:"lastFailureTime,omitempty"`
}

// DeadLetterItem is a node parked after exhausting its retries.
type DeadLetterItem struct {
	ID           string      `json:"id"`
	WorkflowID   string      `json:"workflowId"`
	NodeID       string      `json:"nodeId"`
	OriginalNode *Node       `json:"originalNode,omitempty"`
	Error        string      `json:"error"`
	FailureType  FailureType `json:"failureType"`
	Attempts     int         `json:"attempts"`
	Timestamp    time.Time   `json:"timestamp"`
	RetryCount   int         `json:"retryCount"`
	CanRetry     bool        `json:"canRetry"`
}

// FailureMetrics aggregates execution outcomes per (workflow, node) pair.
type FailureMetrics struct {
	WorkflowID       string              `json:"workflowId"`
	NodeID           string              `json:"nodeId"`
	TotalExecutions  int                 `json:"totalExecutions"`
	TotalFailures    int                 `json:"totalFailures"`
	FailureRate      float64             `json:"failureRate"`
	FailuresByType   map[FailureType]int `json:"failuresByType,omitempty"`
	PoisonCount      int                 `json:"poisonCount,omitempty"`
	CircuitOpenCount int                 `json:"circuitOpenCount,omitempty"`
	DeadLetterCount  int                 `json:"deadLetterCount,omitempty"`
	LastFailureTime  *time.Time          `json:"lastFailureTime,omitempty"`
}

// AlertType identifies a failure-manager alert.
type AlertType string

const (
	AlertCircuitOpen     AlertType = "CIRCUIT_OPEN"
	AlertHighFailureRate AlertType = "HIGH_FAILURE_RATE"
)

// Alert is delivered to the caller-supplied alert handler.
type Alert struct {
	Type       AlertType              `json:"type"`
	WorkflowID string                 `json:"workflowId"`
	NodeID     string                 `json:"nodeId,omitempty"`
	Message    string                 `json:"message"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
