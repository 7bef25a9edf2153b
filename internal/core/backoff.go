package core

import (
	"math"
	"time"
)

// Backoff policy kinds.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// DefaultBackoff is applied when a job type declares no policy.
var DefaultBackoff = BackoffPolicy{Kind: BackoffExponential, BaseDelayMs: 1000}

// maxBackoff caps any computed delay so a runaway exponential policy cannot
// push a retry into the distant future.
const maxBackoff = time.Hour

// BackoffPolicy computes the delay before a failed job's next attempt.
// BaseDelayMs is stored in milliseconds so the policy serializes cleanly on
// the job record.
type BackoffPolicy struct {
	Kind        string `json:"kind"`
	BaseDelayMs int64  `json:"base_delay_ms"`
}

// BaseDelay returns the base delay as a duration.
func (p BackoffPolicy) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMs) * time.Millisecond
}

// Delay returns the wait before attempt n (1-indexed: attempt 1 is the first
// retry after the initial failure). Fixed policies always return the base
// delay; exponential policies double it per attempt, capped at one hour.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay()
	if base <= 0 {
		base = DefaultBackoff.BaseDelay()
	}

	var d time.Duration
	switch p.Kind {
	case BackoffFixed:
		d = base
	case BackoffExponential:
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	default:
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	}

	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}
