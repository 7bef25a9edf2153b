package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/registry"
	"github.com/omriozer/ludora-scheduler/internal/store"
)

// dispatch routes one claimed job to its handler and reports the outcome to
// the store. Handler errors and panics never escape to the worker slot: they
// become nacks, which drive store-level retry/backoff.
func (s *Scheduler) dispatch(ctx context.Context, st store.Store, job *core.Job) {
	start := time.Now()
	s.sink.Emit(events.Event{
		Kind:    events.KindStarted,
		JobID:   job.ID,
		Type:    job.Type,
		Queue:   job.Queue,
		Attempt: job.Attempt + 1,
		At:      start,
	})

	handler, err := s.reg.Handler(job.Type)
	if err != nil {
		// A job of an unregistered type must not be dropped silently, and
		// retrying cannot fix it: fail it outright.
		s.logger.Error("no handler for dequeued job",
			"job_id", job.ID, "job_type", job.Type, "queue", string(job.Queue))
		s.nack(ctx, st, job, err, time.Since(start))
		return
	}

	result, handlerErr := runHandler(ctx, handler, job)
	elapsed := time.Since(start)

	if handlerErr != nil {
		s.nack(ctx, st, job, core.NewHandlerFailedError(job.Type, handlerErr), elapsed)
		return
	}

	if err := st.Ack(ctx, job.ID); err != nil {
		s.logger.Error("ack failed",
			"job_id", job.ID, "job_type", job.Type, "error", err.Error())
		return
	}

	s.sink.Emit(events.Event{
		Kind:     events.KindCompleted,
		JobID:    job.ID,
		Type:     job.Type,
		Queue:    job.Queue,
		Attempt:  job.Attempt + 1,
		Duration: elapsed,
		At:       time.Now(),
	})

	if result.Status == registry.StatusExhausted {
		// A polling chain that ran out of attempts: terminal, distinguishable
		// from success, and not an error.
		s.logger.Warn("polling chain exhausted",
			"job_id", job.ID, "job_type", job.Type)
		s.sink.Emit(events.Event{
			Kind:  events.KindPollExhausted,
			JobID: job.ID,
			Type:  job.Type,
			Queue: job.Queue,
			At:    time.Now(),
		})
	}
}

// runHandler invokes the handler with panic recovery.
func runHandler(ctx context.Context, handler registry.HandlerFunc, job *core.Job) (result registry.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, job.Payload)
}

// nack reports the failed attempt and emits retrying or failed depending on
// whether the job has attempts left.
func (s *Scheduler) nack(ctx context.Context, st store.Store, job *core.Job, cause error, elapsed time.Duration) {
	if err := st.Nack(ctx, job.ID, cause); err != nil {
		s.logger.Error("nack failed",
			"job_id", job.ID, "job_type", job.Type, "error", err.Error())
		return
	}

	attempt := job.Attempt + 1
	terminal := attempt >= job.MaxAttempts
	if schedErr, ok := cause.(*core.SchedError); ok && !schedErr.Retryable {
		terminal = true
	}

	if terminal {
		s.logger.Warn("job failed",
			"job_id", job.ID, "job_type", job.Type, "queue", string(job.Queue),
			"attempts", attempt, "error", cause.Error())
		s.sink.Emit(events.Event{
			Kind:     events.KindFailed,
			JobID:    job.ID,
			Type:     job.Type,
			Queue:    job.Queue,
			Attempt:  attempt,
			Duration: elapsed,
			Err:      core.NewAttemptsExhaustedError(job.ID, attempt),
			At:       time.Now(),
		})
		return
	}

	s.logger.Info("job attempt failed, retrying",
		"job_id", job.ID, "job_type", job.Type, "queue", string(job.Queue),
		"attempt", attempt, "max_attempts", job.MaxAttempts,
		"backoff", job.Backoff.Delay(attempt).String(), "error", cause.Error())
	s.sink.Emit(events.Event{
		Kind:     events.KindRetrying,
		JobID:    job.ID,
		Type:     job.Type,
		Queue:    job.Queue,
		Attempt:  attempt,
		Duration: elapsed,
		Err:      cause,
		At:       time.Now(),
	})
}
