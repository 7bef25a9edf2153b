package scheduler

import (
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

type scheduleOptions struct {
	delay         time.Duration
	priority      *int
	maxAttempts   *int
	backoff       *core.BackoffPolicy
	recurringName string
	overlapPolicy string
}

// Option customizes one Schedule or ScheduleRecurring call.
type Option func(*scheduleOptions)

// WithDelay defers the job's visibility by d. The delay lives in the store as
// the job's AvailableAt; no worker slot is held while waiting.
func WithDelay(d time.Duration) Option {
	return func(o *scheduleOptions) { o.delay = d }
}

// WithPriority overrides the job type's registered priority for this job.
func WithPriority(p int) Option {
	return func(o *scheduleOptions) { o.priority = &p }
}

// WithMaxAttempts overrides the registered attempt budget for this job.
func WithMaxAttempts(n int) Option {
	return func(o *scheduleOptions) { o.maxAttempts = &n }
}

// WithBackoff overrides the registered backoff policy for this job.
func WithBackoff(p core.BackoffPolicy) Option {
	return func(o *scheduleOptions) { o.backoff = &p }
}

// WithRecurringName names a recurring registration. Defaults to the job type
// name, which allows only one recurrence per type.
func WithRecurringName(name string) Option {
	return func(o *scheduleOptions) { o.recurringName = name }
}

// WithOverlapSkip makes a recurring job skip a firing while the previous
// instance is still running.
func WithOverlapSkip() Option {
	return func(o *scheduleOptions) { o.overlapPolicy = overlapSkip }
}

func applyOptions(opts []Option) scheduleOptions {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
