// Package events is the observability boundary of the scheduler: a listener
// interface fed with job lifecycle transitions, with sinks for structured
// logging and Prometheus metrics. Sinks are pure side effects; nothing in the
// scheduler reads them back.
package events

import (
	"log/slog"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	KindScheduled      Kind = "scheduled"
	KindStarted        Kind = "started"
	KindCompleted      Kind = "completed"
	KindRetrying       Kind = "retrying"
	KindFailed         Kind = "failed"
	KindStalled        Kind = "stalled"
	KindPollExhausted  Kind = "poll_exhausted"
	KindDegraded       Kind = "degraded"
	KindReconnected    Kind = "reconnected"
	KindForcedShutdown Kind = "forced_shutdown"
)

// Event is one lifecycle transition. Job fields are empty for system-level
// events (degraded, reconnected, forced_shutdown). Count carries how many
// jobs a sweep-level event covers (stalled-claim reaping); it is zero on
// per-job events.
type Event struct {
	Kind     Kind
	JobID    string
	Type     string
	Queue    core.QueueClass
	Attempt  int
	Count    int
	Duration time.Duration
	Err      error
	At       time.Time
}

// Sink consumes lifecycle events. Implementations must be safe for concurrent
// use and must not block: workers emit inline.
type Sink interface {
	Emit(Event)
}

// Multi fans one event out to several sinks.
type Multi []Sink

// Emit forwards the event to every sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Discard drops every event. Useful as a default in tests.
type Discard struct{}

func (Discard) Emit(Event) {}

// SlogSink logs every event with structured fields.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink creates a sink on the given logger, defaulting to slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

// Emit logs the event. Failures and forced shutdowns log at warn, the rest at
// info.
func (s *SlogSink) Emit(e Event) {
	attrs := []any{"event", string(e.Kind)}
	if e.JobID != "" {
		attrs = append(attrs, "job_id", e.JobID, "job_type", e.Type, "queue", string(e.Queue), "attempt", e.Attempt)
	}
	if e.Count > 0 {
		attrs = append(attrs, "count", e.Count)
	}
	if e.Duration > 0 {
		attrs = append(attrs, "duration_ms", e.Duration.Milliseconds())
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err.Error())
	}

	switch e.Kind {
	case KindFailed, KindStalled, KindForcedShutdown, KindDegraded:
		s.Logger.Warn("job lifecycle", attrs...)
	default:
		s.Logger.Info("job lifecycle", attrs...)
	}
}
