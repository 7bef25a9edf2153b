package core

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 6, 15, 12, 30, 45, 123000000, time.UTC)
	got := FormatTime(ts)
	want := "2024-06-15T12:30:45.123Z"
	if got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}
}

func TestFormatTime_NonUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)
	got := FormatTime(ts)
	// Converted to UTC: 17:00
	want := "2024-06-15T17:00:00.000Z"
	if got != want {
		t.Errorf("FormatTime(non-UTC) = %q, want %q", got, want)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	now := NowFormatted()
	parsed, err := ParseTime(now)
	if err != nil {
		t.Fatalf("ParseTime(%q) error: %v", now, err)
	}
	if FormatTime(parsed) != now {
		t.Errorf("round trip = %q, want %q", FormatTime(parsed), now)
	}
}

func TestQueueClass_Valid(t *testing.T) {
	for _, c := range QueueClasses {
		if !c.Valid() {
			t.Errorf("QueueClass(%q).Valid() = false, want true", c)
		}
	}
	if QueueClass("urgent").Valid() {
		t.Error(`QueueClass("urgent").Valid() = true, want false`)
	}
}

func TestQueueClass_DefaultConcurrency(t *testing.T) {
	tests := []struct {
		class QueueClass
		want  int
	}{
		{QueueCritical, 10},
		{QueueHigh, 5},
		{QueueMedium, 3},
		{QueueLow, 1},
	}
	for _, tt := range tests {
		if got := tt.class.DefaultConcurrency(); got != tt.want {
			t.Errorf("DefaultConcurrency(%s) = %d, want %d", tt.class, got, tt.want)
		}
	}
}

func TestIsTerminalState(t *testing.T) {
	terminal := map[string]bool{
		StateWaiting:   false,
		StateActive:    false,
		StateStalled:   false,
		StateCompleted: true,
		StateFailed:    true,
	}
	for state, want := range terminal {
		if got := IsTerminalState(state); got != want {
			t.Errorf("IsTerminalState(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestJobRecordError_Bounded(t *testing.T) {
	j := &Job{}
	for i := 0; i < MaxErrorHistory+4; i++ {
		j.RecordError("boom")
	}
	if len(j.Errors) != MaxErrorHistory {
		t.Errorf("len(Errors) = %d, want %d", len(j.Errors), MaxErrorHistory)
	}
	if j.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", j.LastError, "boom")
	}
}

func TestNewJobID_Ordered(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	if a == "" || b == "" {
		t.Fatal("NewJobID returned empty string")
	}
	if a == b {
		t.Fatal("NewJobID returned duplicate IDs")
	}
	// UUIDv7 is time-ordered, so later IDs sort after earlier ones.
	if !(a < b) {
		t.Errorf("expected %q < %q for time-ordered IDs", a, b)
	}
}
