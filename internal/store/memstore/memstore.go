// Package memstore is an in-memory job store. It backs the scheduler's test
// suite and local tooling; it satisfies the full store contract within one
// process but survives nothing.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// DefaultVisibility is the claim deadline applied on Dequeue when the caller
// never extends.
const DefaultVisibility = 30 * time.Second

type claim struct {
	deadline time.Time
}

// Store is an in-process job store. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*core.Job
	seq       map[string]uint64 // job ID -> enqueue sequence, FIFO tie-breaker
	active    map[string]claim
	paused    map[core.QueueClass]bool
	recurring map[string]*core.RecurringJob

	nextSeq    uint64
	visibility time.Duration
	maxStalls  int
	closed     bool

	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithVisibility overrides the default claim deadline.
func WithVisibility(d time.Duration) Option {
	return func(s *Store) { s.visibility = d }
}

// WithMaxStalls overrides the bounded stall-retry count.
func WithMaxStalls(n int) Option {
	return func(s *Store) { s.maxStalls = n }
}

// WithClock overrides the store clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:       make(map[string]*core.Job),
		seq:        make(map[string]uint64),
		active:     make(map[string]claim),
		paused:     make(map[core.QueueClass]bool),
		recurring:  make(map[string]*core.RecurringJob),
		visibility: DefaultVisibility,
		maxStalls:  core.DefaultMaxStalls,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue stores a waiting job. Assigns an ID when the job carries none.
func (s *Store) Enqueue(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewStoreUnavailableError(core.NewInternalError("store closed"))
	}

	now := s.clock()
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if _, dup := s.jobs[job.ID]; dup {
		return core.NewConflictError("job already enqueued", map[string]any{"job_id": job.ID})
	}

	cp := *job
	cp.State = core.StateWaiting
	cp.EnqueuedAt = core.FormatTime(now)
	if cp.AvailableAt == "" {
		cp.AvailableAt = cp.EnqueuedAt
	}

	s.nextSeq++
	s.jobs[cp.ID] = &cp
	s.seq[cp.ID] = s.nextSeq
	return nil
}

// Dequeue claims up to max due jobs from a class, priority-then-FIFO.
func (s *Store) Dequeue(ctx context.Context, class core.QueueClass, max int) ([]*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, core.NewStoreUnavailableError(core.NewInternalError("store closed"))
	}
	if s.paused[class] || max <= 0 {
		return nil, nil
	}

	now := s.clock()
	var due []*core.Job
	for _, j := range s.jobs {
		if j.Queue != class || j.State != core.StateWaiting {
			continue
		}
		at, err := core.ParseTime(j.AvailableAt)
		if err == nil && at.After(now) {
			continue
		}
		due = append(due, j)
	}

	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return s.seq[due[i].ID] < s.seq[due[k].ID]
	})

	if len(due) > max {
		due = due[:max]
	}

	claimed := make([]*core.Job, 0, len(due))
	for _, j := range due {
		j.State = core.StateActive
		j.StartedAt = core.FormatTime(now)
		s.active[j.ID] = claim{deadline: now.Add(s.visibility)}
		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// Ack marks an active job completed.
func (s *Store) Ack(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return core.NewNotFoundError("Job", jobID)
	}
	if j.State != core.StateActive {
		return core.NewConflictError("cannot ack job not in 'active' state", map[string]any{
			"job_id":        jobID,
			"current_state": j.State,
		})
	}

	j.State = core.StateCompleted
	j.CompletedAt = core.FormatTime(s.clock())
	delete(s.active, jobID)
	return nil
}

// Nack reports a failed attempt. Under the attempt cap the job returns to
// waiting with AvailableAt pushed out by its backoff policy; at the cap, or
// when the cause is marked non-retryable, it fails terminally.
func (s *Store) Nack(ctx context.Context, jobID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return core.NewNotFoundError("Job", jobID)
	}
	if j.State != core.StateActive {
		return core.NewConflictError("cannot nack job not in 'active' state", map[string]any{
			"job_id":        jobID,
			"current_state": j.State,
		})
	}

	now := s.clock()
	j.Attempt++
	if cause != nil {
		j.RecordError(cause.Error())
	}
	delete(s.active, jobID)

	var schedErr *core.SchedError
	nonRetryable := errors.As(cause, &schedErr) && !schedErr.Retryable

	if nonRetryable || j.Attempt >= j.MaxAttempts {
		j.State = core.StateFailed
		j.CompletedAt = core.FormatTime(now)
		return nil
	}

	j.State = core.StateWaiting
	j.StartedAt = ""
	j.AvailableAt = core.FormatTime(now.Add(j.Backoff.Delay(j.Attempt)))
	return nil
}

// Extend pushes out the visibility deadline of an active claim.
func (s *Store) Extend(ctx context.Context, jobID string, visibility time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[jobID]; !ok {
		return core.NewNotFoundError("Active job", jobID)
	}
	if visibility <= 0 {
		visibility = s.visibility
	}
	s.active[jobID] = claim{deadline: s.clock().Add(visibility)}
	return nil
}

// Info returns a copy of the job record.
func (s *Store) Info(ctx context.Context, jobID string) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	cp := *j
	return &cp, nil
}

// Stats counts jobs by state for a class.
func (s *Store) Stats(ctx context.Context, class core.QueueClass) (core.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := core.QueueStats{Queue: class, Paused: s.paused[class]}
	for _, j := range s.jobs {
		if j.Queue != class {
			continue
		}
		switch j.State {
		case core.StateWaiting, core.StateStalled:
			qs.Stats.Waiting++
		case core.StateActive:
			qs.Stats.Active++
		case core.StateCompleted:
			qs.Stats.Completed++
		case core.StateFailed:
			qs.Stats.Failed++
		}
	}
	return qs, nil
}

// PauseQueue stops Dequeue from serving a class.
func (s *Store) PauseQueue(ctx context.Context, class core.QueueClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[class] = true
	return nil
}

// ResumeQueue re-enables a paused class.
func (s *Store) ResumeQueue(ctx context.Context, class core.QueueClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[class] = false
	return nil
}

// RegisterRecurring upserts a recurring job registration.
func (s *Store) RegisterRecurring(ctx context.Context, rec *core.RecurringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recurring[rec.Name] = &cp
	return nil
}

// ListRecurring returns all recurring registrations.
func (s *Store) ListRecurring(ctx context.Context) ([]*core.RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.RecurringJob, 0, len(s.recurring))
	for _, rec := range s.recurring {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// DeleteRecurring removes a recurring registration.
func (s *Store) DeleteRecurring(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recurring[name]; !ok {
		return core.NewNotFoundError("Recurring job", name)
	}
	delete(s.recurring, name)
	return nil
}

// PromoteDelayed is a no-op: Dequeue already filters on AvailableAt directly.
func (s *Store) PromoteDelayed(ctx context.Context) error { return nil }

// PromoteRetries is a no-op for the same reason as PromoteDelayed.
func (s *Store) PromoteRetries(ctx context.Context) error { return nil }

// RequeueStalled requeues active jobs whose claim deadline lapsed, returning
// the number of reaped claims. A job past the bounded stall count is failed
// instead of looping forever.
func (s *Store) RequeueStalled(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	reaped := 0
	for jobID, c := range s.active {
		if !now.After(c.deadline) {
			continue
		}
		j, ok := s.jobs[jobID]
		if !ok || j.State != core.StateActive {
			delete(s.active, jobID)
			continue
		}

		delete(s.active, jobID)
		reaped++
		j.Stalls++
		if j.Stalls > s.maxStalls {
			j.State = core.StateFailed
			j.CompletedAt = core.FormatTime(now)
			j.RecordError("stall retries exhausted")
			continue
		}
		j.State = core.StateWaiting
		j.StartedAt = ""
		j.AvailableAt = core.FormatTime(now)
	}
	return reaped, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.NewStoreUnavailableError(core.NewInternalError("store closed"))
	}
	return nil
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
