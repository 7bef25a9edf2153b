package natsstore

import (
	"context"
	"fmt"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// PromoteDelayed republishes delayed jobs whose AvailableAt has arrived.
func (s *Store) PromoteDelayed(ctx context.Context) error {
	return s.promoteIndex(ctx, s.delayed)
}

// PromoteRetries republishes nacked jobs whose backoff has elapsed.
func (s *Store) PromoteRetries(ctx context.Context) error {
	return s.promoteIndex(ctx, s.retry)
}

type timeIndex interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Delete(ctx context.Context, key string) error
}

// promoteIndex walks a jobID -> due-time index and republishes due jobs that
// are still waiting. Entries for missing or non-waiting jobs are dropped.
func (s *Store) promoteIndex(ctx context.Context, index timeIndex) error {
	keys, err := index.Keys(ctx)
	if err != nil {
		return core.NewStoreUnavailableError(err)
	}

	now := time.Now()
	var firstErr error

	for _, jobID := range keys {
		data, _, err := index.Get(ctx, jobID)
		if err != nil {
			continue
		}
		dueAt, err := core.ParseTime(string(data))
		if err != nil {
			index.Delete(ctx, jobID)
			continue
		}
		if now.Before(dueAt) {
			continue
		}

		job, err := s.getJob(ctx, jobID)
		if err != nil {
			index.Delete(ctx, jobID)
			continue
		}
		if job.State != core.StateWaiting {
			index.Delete(ctx, jobID)
			continue
		}

		if err := s.publishJob(ctx, job); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("republish due job %s: %w", jobID, err)
			}
			continue
		}
		if err := index.Delete(ctx, jobID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete index entry for %s: %w", jobID, err)
		}
	}
	return firstErr
}

// RequeueStalled reclaims jobs whose visibility deadline lapsed without an
// Extend. Each reaped job is requeued until it exceeds the stall bound, after
// which it fails outright. Returns how many claims were reaped.
func (s *Store) RequeueStalled(ctx context.Context) (int, error) {
	keys, err := s.active.Keys(ctx)
	if err != nil {
		return 0, core.NewStoreUnavailableError(err)
	}

	now := time.Now()
	reaped := 0
	var firstErr error

	for _, jobID := range keys {
		var claim activeClaim
		if _, err := s.active.GetJSON(ctx, jobID, &claim); err != nil {
			continue
		}
		deadline, err := core.ParseTime(claim.Deadline)
		if err != nil {
			s.active.Delete(ctx, jobID)
			continue
		}
		if now.Before(deadline) {
			continue
		}

		job, err := s.getJob(ctx, jobID)
		if err != nil {
			s.active.Delete(ctx, jobID)
			continue
		}
		if job.State != core.StateActive {
			s.active.Delete(ctx, jobID)
			continue
		}

		// Drop the stale message; the requeue publishes a fresh one.
		s.consumers.ack(jobID)

		job.Stalls++
		job.StartedAt = ""

		if job.Stalls > s.maxStalls {
			job.State = core.StateFailed
			job.CompletedAt = core.FormatTime(now)
			job.RecordError(fmt.Sprintf("stall retries exhausted after %d claims lost", job.Stalls))
			if err := s.putJob(ctx, job); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("fail stalled job %s: %w", jobID, err)
				}
				continue
			}
			s.active.Delete(ctx, jobID)
			reaped++
			continue
		}

		job.State = core.StateWaiting
		if err := s.putJob(ctx, job); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("requeue stalled job %s: %w", jobID, err)
			}
			continue
		}
		if err := s.active.Delete(ctx, jobID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete stale claim for %s: %w", jobID, err)
			}
			continue
		}
		if err := s.publishJob(ctx, job); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("republish stalled job %s: %w", jobID, err)
		}
		reaped++
	}
	return reaped, firstErr
}
