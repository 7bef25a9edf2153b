package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/store"
)

// Overlap policies for recurring jobs.
const (
	overlapAllow = "allow"
	overlapSkip  = "skip"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseCron(expression string) (cron.Schedule, error) {
	return cronParser.Parse(expression)
}

// fireRecurring enqueues a job for every recurring registration whose next
// run is due, then advances its schedule. Runs inside the maintenance loop.
func (s *Scheduler) fireRecurring(ctx context.Context, st store.Store) {
	recs, err := st.ListRecurring(ctx)
	if err != nil {
		s.logger.Warn("listing recurring jobs", "error", err.Error())
		return
	}

	now := time.Now()
	for _, rec := range recs {
		if !rec.Enabled || rec.NextRunAt == "" {
			continue
		}
		nextRun, err := core.ParseTime(rec.NextRunAt)
		if err != nil || now.Before(nextRun) {
			continue
		}

		schedule, err := parseCron(rec.Expression)
		if err != nil {
			s.logger.Error("recurring job has unparseable expression, disabling",
				"name", rec.Name, "expression", rec.Expression, "error", err.Error())
			rec.Enabled = false
			if err := st.RegisterRecurring(ctx, rec); err != nil {
				s.logger.Warn("disabling recurring job", "name", rec.Name, "error", err.Error())
			}
			continue
		}

		if rec.OverlapPolicy == overlapSkip && s.recurringInstanceRunning(ctx, st, rec) {
			s.logger.Info("skipping recurring firing, previous instance still running",
				"name", rec.Name, "job_id", rec.LastJobID)
			s.advanceRecurring(ctx, st, rec, schedule, now, rec.LastJobID)
			continue
		}

		def, err := s.reg.Resolve(rec.Type)
		if err != nil {
			s.logger.Error("recurring job references unknown type, disabling",
				"name", rec.Name, "job_type", rec.Type)
			rec.Enabled = false
			if err := st.RegisterRecurring(ctx, rec); err != nil {
				s.logger.Warn("disabling recurring job", "name", rec.Name, "error", err.Error())
			}
			continue
		}

		job := &core.Job{
			ID:          core.NewJobID(),
			Type:        def.Name,
			Queue:       def.Queue,
			Payload:     append(json.RawMessage(nil), rec.Payload...),
			Priority:    def.Priority,
			MaxAttempts: def.MaxAttempts,
			Backoff:     def.Backoff,
		}
		if err := st.Enqueue(ctx, job); err != nil {
			s.logger.Warn("firing recurring job", "name", rec.Name, "error", err.Error())
			continue
		}

		s.sink.Emit(events.Event{
			Kind:  events.KindScheduled,
			JobID: job.ID,
			Type:  job.Type,
			Queue: job.Queue,
			At:    now,
		})
		s.advanceRecurring(ctx, st, rec, schedule, now, job.ID)
	}
}

func (s *Scheduler) advanceRecurring(ctx context.Context, st store.Store, rec *core.RecurringJob, schedule cron.Schedule, now time.Time, lastJobID string) {
	rec.LastRunAt = core.FormatTime(now)
	rec.NextRunAt = core.FormatTime(schedule.Next(now))
	rec.LastJobID = lastJobID
	if err := st.RegisterRecurring(ctx, rec); err != nil {
		s.logger.Warn("advancing recurring schedule", "name", rec.Name, "error", err.Error())
	}
}

func (s *Scheduler) recurringInstanceRunning(ctx context.Context, st store.Store, rec *core.RecurringJob) bool {
	if rec.LastJobID == "" {
		return false
	}
	job, err := st.Info(ctx, rec.LastJobID)
	if err != nil {
		return false
	}
	return !core.IsTerminalState(job.State)
}
