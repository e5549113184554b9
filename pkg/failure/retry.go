package failure

import (
	"math"
	"strings"
	"time"

	"github.com/stateflow/stateflow/pkg/models"
)

// isRetryable applies the retry decision rules: the message must not
// match a non-retryable pattern, and must either match a retryable
// pattern or (with no patterns configured) carry a TRANSIENT or
// DEPENDENCY classification. The attempt budget is checked separately.
func isRetryable(rc *models.RetryConfig, failureType models.FailureType, errMsg string) bool {
	msg := strings.ToLower(errMsg)

	for _, pattern := range rc.NonRetryableErrors {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return false
		}
	}

	if len(rc.RetryableErrors) > 0 {
		for _, pattern := range rc.RetryableErrors {
			if strings.Contains(msg, strings.ToLower(pattern)) {
				return true
			}
		}
		return false
	}

	return failureType == models.FailureTypeTransient || failureType == models.FailureTypeDependency
}

// retryDelay computes the backoff before attempt+1: base delay scaled by
// backoffMultiplier^(attempt-1), capped at maxDelay, with optional
// uniform jitter in +/-25% clamped at zero.
func retryDelay(rc *models.RetryConfig, attempt int, jitterSource func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(rc.DelayDuration())
	multiplier := rc.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := base * math.Pow(multiplier, float64(attempt-1))

	if maxDelay := float64(rc.MaxDelayDuration()); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if rc.Jitter && jitterSource != nil {
		// jitterSource yields [0,1); map to [-0.25, +0.25).
		delay += delay * (jitterSource()*0.5 - 0.25)
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
