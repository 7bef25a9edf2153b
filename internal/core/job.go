// Package core defines the job model, queue classes, error taxonomy, and
// backoff policies shared by the scheduler and its job stores.
package core

import "encoding/json"

// QueueClass is one of the four fixed priority lanes. Every job type maps to
// exactly one class, and each class owns its own worker pool.
type QueueClass string

const (
	QueueCritical QueueClass = "critical"
	QueueHigh     QueueClass = "high"
	QueueMedium   QueueClass = "medium"
	QueueLow      QueueClass = "low"
)

// QueueClasses lists all classes in descending business priority.
var QueueClasses = []QueueClass{QueueCritical, QueueHigh, QueueMedium, QueueLow}

// DefaultConcurrency returns the default worker slot count for a class.
func (c QueueClass) DefaultConcurrency() int {
	switch c {
	case QueueCritical:
		return 10
	case QueueHigh:
		return 5
	case QueueMedium:
		return 3
	case QueueLow:
		return 1
	}
	return 1
}

// Valid reports whether c is one of the four fixed classes.
func (c QueueClass) Valid() bool {
	switch c {
	case QueueCritical, QueueHigh, QueueMedium, QueueLow:
		return true
	}
	return false
}

// Job lifecycle states.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateStalled   = "stalled"
)

// IsTerminalState reports whether a job in the given state will never run again.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateFailed
}

// MaxErrorHistory bounds the per-job error list kept on the record.
const MaxErrorHistory = 5

// DefaultMaxStalls bounds how often a stalled job is requeued before it is
// failed outright. Guards against poison jobs that kill their workers.
const DefaultMaxStalls = 3

// Job is one unit of deferred work. The job store owns the record; only the
// store mutates it once enqueued.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Queue       QueueClass      `json:"queue"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	State       string          `json:"state"`
	Stalls      int             `json:"stalls,omitempty"`

	EnqueuedAt  string `json:"enqueued_at,omitempty"`
	AvailableAt string `json:"available_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`

	LastError string   `json:"last_error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// RecordError appends err to the bounded error history and sets LastError.
func (j *Job) RecordError(msg string) {
	j.LastError = msg
	j.Errors = append(j.Errors, msg)
	if len(j.Errors) > MaxErrorHistory {
		j.Errors = j.Errors[len(j.Errors)-MaxErrorHistory:]
	}
}

// Stats holds per-class job counts.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// QueueStats pairs a queue class with its counts and paused flag.
type QueueStats struct {
	Queue  QueueClass `json:"queue"`
	Paused bool       `json:"paused,omitempty"`
	Stats  Stats      `json:"stats"`
}

// RecurringJob is a registered cron-style schedule that fires copies of a job
// template. Overlap policy "skip" drops a firing while the previous instance
// is still non-terminal; "allow" (default) fires regardless.
type RecurringJob struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Expression    string          `json:"expression"`
	OverlapPolicy string          `json:"overlap_policy,omitempty"`
	Enabled       bool            `json:"enabled"`
	CreatedAt     string          `json:"created_at,omitempty"`
	LastRunAt     string          `json:"last_run_at,omitempty"`
	NextRunAt     string          `json:"next_run_at,omitempty"`
	LastJobID     string          `json:"last_job_id,omitempty"`
}
