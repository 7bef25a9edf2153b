package core

import (
	"testing"
	"time"
)

func TestBackoffDelay_Fixed(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffFixed, BaseDelayMs: 2000}

	for attempt := 1; attempt <= 5; attempt++ {
		got := policy.Delay(attempt)
		if got != 2*time.Second {
			t.Errorf("Delay(fixed, attempt=%d) = %v, want %v", attempt, got, 2*time.Second)
		}
	}
}

func TestBackoffDelay_Exponential(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, BaseDelayMs: 1000}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}

	for _, tt := range tests {
		got := policy.Delay(tt.attempt)
		if got != tt.want {
			t.Errorf("Delay(exponential, attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelay_ExponentialNonDecreasing(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, BaseDelayMs: 250}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		d := policy.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(attempt=%d) = %v, decreased from %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffDelay_Cap(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, BaseDelayMs: 1000}

	// attempt 60 would overflow without the cap
	got := policy.Delay(60)
	if got != time.Hour {
		t.Errorf("Delay(attempt=60) = %v, want cap %v", got, time.Hour)
	}
}

func TestBackoffDelay_ZeroBaseUsesDefault(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffFixed}

	got := policy.Delay(1)
	if got != DefaultBackoff.BaseDelay() {
		t.Errorf("Delay with zero base = %v, want default %v", got, DefaultBackoff.BaseDelay())
	}
}

func TestBackoffDelay_UnknownKindFallsBackToExponential(t *testing.T) {
	policy := BackoffPolicy{Kind: "polynomial", BaseDelayMs: 1000}

	if got := policy.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(unknown kind, attempt=3) = %v, want %v", got, 4*time.Second)
	}
}
