package scheduler

import (
	"context"
	"fmt"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/store"
)

// Operational passthroughs for the ops HTTP surface. Each requires a live
// store; in degraded mode they fail with store_unavailable instead of
// silently no-opping, because an operator asked for them explicitly.

func (s *Scheduler) opsStore() (store.Store, error) {
	st := s.activeStore()
	if st == nil {
		return nil, core.NewStoreUnavailableError(fmt.Errorf("scheduler state %s", s.State()))
	}
	return st, nil
}

// JobInfo returns one job record.
func (s *Scheduler) JobInfo(ctx context.Context, jobID string) (*core.Job, error) {
	st, err := s.opsStore()
	if err != nil {
		return nil, err
	}
	return st.Info(ctx, jobID)
}

// PauseQueue stops workers from claiming jobs of a class. Scheduling into the
// class keeps working; jobs accumulate until resume.
func (s *Scheduler) PauseQueue(ctx context.Context, class core.QueueClass) error {
	if !class.Valid() {
		return core.NewNotFoundError("Queue", string(class))
	}
	st, err := s.opsStore()
	if err != nil {
		return err
	}
	if err := st.PauseQueue(ctx, class); err != nil {
		return err
	}
	s.logger.Info("queue paused", "queue", string(class))
	return nil
}

// ResumeQueue re-enables claiming for a class.
func (s *Scheduler) ResumeQueue(ctx context.Context, class core.QueueClass) error {
	if !class.Valid() {
		return core.NewNotFoundError("Queue", string(class))
	}
	st, err := s.opsStore()
	if err != nil {
		return err
	}
	if err := st.ResumeQueue(ctx, class); err != nil {
		return err
	}
	s.logger.Info("queue resumed", "queue", string(class))
	return nil
}

// ListRecurring returns every recurring registration.
func (s *Scheduler) ListRecurring(ctx context.Context) ([]*core.RecurringJob, error) {
	st, err := s.opsStore()
	if err != nil {
		return nil, err
	}
	return st.ListRecurring(ctx)
}

// DeleteRecurring removes a recurring registration by name.
func (s *Scheduler) DeleteRecurring(ctx context.Context, name string) error {
	st, err := s.opsStore()
	if err != nil {
		return err
	}
	if err := st.DeleteRecurring(ctx, name); err != nil {
		return err
	}
	s.logger.Info("recurring job deleted", "name", name)
	return nil
}
