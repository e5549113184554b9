package failure

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stateflow/stateflow/pkg/models"
)

// monitor periodically sweeps failure metrics, alerting on high failure
// rates and pruning entries past the retention period.
type monitor struct {
	cron *cron.Cron
}

// StartMonitor begins the periodic metrics sweep. The interval, rate
// threshold, and retention come from cfg; zero values fall back to the
// package defaults. Calling StartMonitor on a manager that is already
// monitoring is a no-op.
func (m *Manager) StartMonitor(cfg *models.MonitoringConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitor != nil {
		return nil
	}
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	interval := DefaultMonitorInterval
	if cfg.MetricsCollectionInterval > 0 {
		interval = time.Duration(cfg.MetricsCollectionInterval) * time.Millisecond
	}
	threshold := DefaultFailureRateThreshold
	if cfg.FailureRateThreshold > 0 {
		threshold = cfg.FailureRateThreshold
	}
	retention := DefaultMetricsRetention
	if cfg.RetentionPeriod > 0 {
		retention = time.Duration(cfg.RetentionPeriod) * time.Millisecond
	}
	alerting := cfg.AlertingEnabled

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		m.sweep(threshold, retention, alerting)
	})
	if err != nil {
		return fmt.Errorf("schedule failure monitor: %w", err)
	}
	c.Start()
	m.monitor = &monitor{cron: c}
	return nil
}

// StopMonitor stops the periodic sweep.
func (m *Manager) StopMonitor() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitor == nil {
		return
	}
	m.monitor.cron.Stop()
	m.monitor = nil
}

// sweep walks all metrics once.
func (m *Manager) sweep(rateThreshold float64, retention time.Duration, alerting bool) {
	m.mu.Lock()

	now := m.clk.Now()
	var alerts []models.Alert
	for key, metric := range m.metrics {
		if metric.LastFailureTime != nil && now.Sub(*metric.LastFailureTime) > retention {
			delete(m.metrics, key)
			continue
		}
		if alerting && metric.TotalExecutions > 0 && metric.FailureRate >= rateThreshold {
			alerts = append(alerts, models.Alert{
				Type:       models.AlertHighFailureRate,
				WorkflowID: key.WorkflowID,
				NodeID:     key.NodeID,
				Message:    fmt.Sprintf("failure rate %.1f%% exceeds threshold %.1f%%", metric.FailureRate, rateThreshold),
				Timestamp:  now,
				Data: map[string]interface{}{
					"totalExecutions": metric.TotalExecutions,
					"totalFailures":   metric.TotalFailures,
				},
			})
		}
	}

	for _, alert := range alerts {
		m.emitAlertLocked(alert)
	}
	m.mu.Unlock()
}
