// Package natsstore implements the job store on NATS JetStream: one
// work-queue stream carries job IDs on priority-segmented subjects, and KV
// buckets hold the job records, queue metadata, recurring registrations, and
// the delayed/retry/active indexes the maintenance sweeps run over.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/kv"
)

// DefaultVisibility is the claim deadline granted on dequeue when no override
// is configured.
const DefaultVisibility = 30 * time.Second

// activeClaim is the KV record kept per claimed job while a worker runs it.
type activeClaim struct {
	Queue    core.QueueClass `json:"queue"`
	Deadline string          `json:"deadline"`
}

// queueMeta is the KV record kept per queue class. Levels is the sorted set
// of priority levels that have ever seen a job in this class; Dequeue walks
// it in order, which is what makes claims strictly priority-ordered.
type queueMeta struct {
	Name   core.QueueClass `json:"name"`
	Paused bool            `json:"paused"`
	Levels []int           `json:"levels,omitempty"`
}

// Option tunes the store.
type Option func(*Store)

// WithVisibility sets the claim deadline granted on dequeue.
func WithVisibility(d time.Duration) Option {
	return func(s *Store) { s.visibility = d }
}

// WithMaxStalls bounds how often a stalled job is requeued before failing.
func WithMaxStalls(n int) Option {
	return func(s *Store) { s.maxStalls = n }
}

// Store is the JetStream-backed job store.
type Store struct {
	nc *nats.Conn
	js jetstream.JetStream

	jobs      *kv.Store
	queues    *kv.Store
	delayed   *kv.Store
	retry     *kv.Store
	active    *kv.Store
	recurring *kv.RecurringStore

	consumers *consumerManager

	// knownLevels caches which (class, level) pairs this process already
	// registered in the queues bucket, so Enqueue skips the CAS once a level
	// is known. Levels only ever grow.
	levelsMu    sync.Mutex
	knownLevels map[core.QueueClass]map[int]bool

	visibility time.Duration
	maxStalls  int
}

// New connects to NATS, provisions the stream and KV buckets, and returns a
// ready store.
func New(natsURL string, opts ...Option) (*Store, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := setupJetStream(ctx, js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	openKV := func(name string) (jetstream.KeyValue, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return bucket, nil
	}

	jobsKV, err := openKV(BucketJobs)
	if err != nil {
		nc.Close()
		return nil, err
	}
	queuesKV, err := openKV(BucketQueues)
	if err != nil {
		nc.Close()
		return nil, err
	}
	delayedKV, err := openKV(BucketDelayed)
	if err != nil {
		nc.Close()
		return nil, err
	}
	retryKV, err := openKV(BucketRetry)
	if err != nil {
		nc.Close()
		return nil, err
	}
	activeKV, err := openKV(BucketActive)
	if err != nil {
		nc.Close()
		return nil, err
	}
	recurringKV, err := openKV(BucketRecurring)
	if err != nil {
		nc.Close()
		return nil, err
	}

	s := &Store{
		nc:          nc,
		js:          js,
		jobs:        kv.NewStore(jobsKV),
		queues:      kv.NewStore(queuesKV),
		delayed:     kv.NewStore(delayedKV),
		retry:       kv.NewStore(retryKV),
		active:      kv.NewStore(activeKV),
		recurring:   kv.NewRecurringStore(recurringKV),
		consumers:   newConsumerManager(js),
		knownLevels: make(map[core.QueueClass]map[int]bool),
		visibility:  DefaultVisibility,
		maxStalls:   core.DefaultMaxStalls,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// setupJetStream creates the work-queue stream and the KV buckets.
func setupJetStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{QueueAllSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	buckets := []string{
		BucketJobs,
		BucketQueues,
		BucketDelayed,
		BucketRetry,
		BucketActive,
		BucketRecurring,
	}
	for _, name := range buckets {
		cfg := jetstream.KeyValueConfig{
			Bucket:  name,
			Storage: jetstream.FileStorage,
		}
		if _, err := js.CreateOrUpdateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) getJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	if _, err := s.jobs.GetJSON(ctx, jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) putJob(ctx context.Context, job *core.Job) error {
	_, err := s.jobs.PutJSON(ctx, job.ID, job)
	return err
}

// publishJob puts a job ID on its class's priority-level subject.
func (s *Store) publishJob(ctx context.Context, job *core.Job) error {
	subject := QueueSubject(job.Queue, PriorityLevel(job.Priority))
	if _, err := s.js.Publish(ctx, subject, []byte(job.ID)); err != nil {
		return fmt.Errorf("publish job %s to %s: %w", job.ID, subject, err)
	}
	return nil
}

// ensureLevel records a priority level on the class record so Dequeue knows
// to serve its subject. Registration is write-once per (class, level); the
// local cache keeps repeat enqueues off the KV bucket.
func (s *Store) ensureLevel(ctx context.Context, class core.QueueClass, level int) error {
	s.levelsMu.Lock()
	if s.knownLevels[class][level] {
		s.levelsMu.Unlock()
		return nil
	}
	s.levelsMu.Unlock()

	var meta queueMeta
	err := s.queues.UpdateJSON(ctx, string(class), &meta, func() {
		meta.Name = class
		meta.Levels = insertLevel(meta.Levels, level)
	})
	if err != nil {
		return fmt.Errorf("registering priority level %d for %s: %w", level, class, err)
	}

	s.levelsMu.Lock()
	if s.knownLevels[class] == nil {
		s.knownLevels[class] = make(map[int]bool)
	}
	s.knownLevels[class][level] = true
	s.levelsMu.Unlock()
	return nil
}

// Enqueue persists the job record and either publishes it for immediate
// consumption or files it in the delayed index when its AvailableAt is in the
// future.
func (s *Store) Enqueue(ctx context.Context, job *core.Job) error {
	if !job.Queue.Valid() {
		return core.NewInternalError(fmt.Sprintf("unknown queue class %q", job.Queue))
	}

	now := time.Now()
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	job.Attempt = 0
	job.State = core.StateWaiting
	job.EnqueuedAt = core.FormatTime(now)

	if err := s.ensureLevel(ctx, job.Queue, PriorityLevel(job.Priority)); err != nil {
		return core.NewStoreUnavailableError(err)
	}

	if job.AvailableAt != "" {
		availableAt, err := core.ParseTime(job.AvailableAt)
		if err == nil && availableAt.After(now) {
			if err := s.putJob(ctx, job); err != nil {
				return core.NewStoreUnavailableError(err)
			}
			if _, err := s.delayed.Put(ctx, job.ID, []byte(job.AvailableAt)); err != nil {
				return core.NewStoreUnavailableError(err)
			}
			return nil
		}
	}

	if err := s.putJob(ctx, job); err != nil {
		return core.NewStoreUnavailableError(err)
	}
	if err := s.publishJob(ctx, job); err != nil {
		return core.NewStoreUnavailableError(err)
	}
	return nil
}

// Dequeue claims up to max waiting jobs of one class. Levels are drained in
// order, and the level mapping is injective, so a lower-priority job is never
// claimed while a higher-priority one waits.
func (s *Store) Dequeue(ctx context.Context, class core.QueueClass, max int) ([]*core.Job, error) {
	if max <= 0 {
		return nil, nil
	}
	meta := s.classMeta(ctx, class)
	if meta.Paused {
		return nil, nil
	}

	now := time.Now()
	var claimed []*core.Job

	for _, level := range meta.Levels {
		if len(claimed) >= max {
			break
		}
		jobIDs, err := s.consumers.fetch(ctx, class, level, max-len(claimed))
		if err != nil {
			return claimed, core.NewStoreUnavailableError(err)
		}

		for _, jobID := range jobIDs {
			job, err := s.getJob(ctx, jobID)
			if err != nil {
				// Record gone; drop the orphaned message.
				s.consumers.ack(jobID)
				continue
			}
			if job.State != core.StateWaiting {
				s.consumers.ack(jobID)
				continue
			}

			claim := activeClaim{
				Queue:    class,
				Deadline: core.FormatTime(now.Add(s.visibility)),
			}
			if _, err := s.active.PutJSON(ctx, jobID, &claim); err != nil {
				s.consumers.ack(jobID)
				continue
			}

			job.State = core.StateActive
			job.StartedAt = core.FormatTime(now)
			if err := s.putJob(ctx, job); err != nil {
				s.active.Delete(ctx, jobID)
				s.consumers.ack(jobID)
				continue
			}

			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

// Ack marks a claimed job completed.
func (s *Store) Ack(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return core.NewNotFoundError("Job", jobID)
	}
	if job.State != core.StateActive {
		return core.NewConflictError(
			fmt.Sprintf("Cannot acknowledge job not in 'active' state. Current state: '%s'.", job.State),
			map[string]any{
				"job_id":         jobID,
				"current_state":  job.State,
				"expected_state": core.StateActive,
			},
		)
	}

	job.State = core.StateCompleted
	job.CompletedAt = core.NowFormatted()
	if err := s.putJob(ctx, job); err != nil {
		return core.NewInternalError(fmt.Sprintf("updating completed job state: %v", err))
	}
	if err := s.active.Delete(ctx, jobID); err != nil {
		return core.NewInternalError(fmt.Sprintf("removing active claim: %v", err))
	}
	if err := s.consumers.ack(jobID); err != nil {
		return core.NewInternalError(fmt.Sprintf("acking job message: %v", err))
	}
	return nil
}

// Nack records a failed attempt. The job is filed in the retry index with its
// backoff delay, or failed outright when attempts are exhausted or the cause
// is non-retryable.
func (s *Store) Nack(ctx context.Context, jobID string, cause error) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return core.NewNotFoundError("Job", jobID)
	}
	if job.State != core.StateActive {
		return core.NewConflictError(
			fmt.Sprintf("Cannot fail job not in 'active' state. Current state: '%s'.", job.State),
			map[string]any{
				"job_id":         jobID,
				"current_state":  job.State,
				"expected_state": core.StateActive,
			},
		)
	}

	now := time.Now()
	job.Attempt++
	if cause != nil {
		job.RecordError(cause.Error())
	}

	nonRetryable := false
	var schedErr *core.SchedError
	if errors.As(cause, &schedErr) && !schedErr.Retryable {
		nonRetryable = true
	}

	if nonRetryable || job.Attempt >= job.MaxAttempts {
		job.State = core.StateFailed
		job.CompletedAt = core.FormatTime(now)
		if err := s.putJob(ctx, job); err != nil {
			return core.NewInternalError(fmt.Sprintf("updating failed job state: %v", err))
		}
		if err := s.active.Delete(ctx, jobID); err != nil {
			return core.NewInternalError(fmt.Sprintf("removing active claim: %v", err))
		}
		if err := s.consumers.ack(jobID); err != nil {
			return core.NewInternalError(fmt.Sprintf("acking failed job message: %v", err))
		}
		return nil
	}

	nextAttemptAt := now.Add(job.Backoff.Delay(job.Attempt))
	job.State = core.StateWaiting
	job.StartedAt = ""
	job.AvailableAt = core.FormatTime(nextAttemptAt)

	if err := s.putJob(ctx, job); err != nil {
		return core.NewInternalError(fmt.Sprintf("updating retryable job state: %v", err))
	}
	if err := s.active.Delete(ctx, jobID); err != nil {
		return core.NewInternalError(fmt.Sprintf("removing active claim: %v", err))
	}
	if err := s.consumers.ack(jobID); err != nil {
		return core.NewInternalError(fmt.Sprintf("acking retryable job message: %v", err))
	}
	if _, err := s.retry.Put(ctx, jobID, []byte(job.AvailableAt)); err != nil {
		return core.NewInternalError(fmt.Sprintf("indexing retryable job: %v", err))
	}
	return nil
}

// Extend pushes out the visibility deadline of a claimed job.
func (s *Store) Extend(ctx context.Context, jobID string, visibility time.Duration) error {
	var claim activeClaim
	if _, err := s.active.GetJSON(ctx, jobID, &claim); err != nil {
		return core.NewNotFoundError("Active claim", jobID)
	}
	claim.Deadline = core.FormatTime(time.Now().Add(visibility))
	if _, err := s.active.PutJSON(ctx, jobID, &claim); err != nil {
		return core.NewInternalError(fmt.Sprintf("extending claim: %v", err))
	}
	// Keep the JetStream ack wait alive too; the message may be untracked
	// after a process restart, which is fine.
	s.consumers.inProgress(jobID)
	return nil
}

// Info retrieves one job record.
func (s *Store) Info(ctx context.Context, jobID string) (*core.Job, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	return job, nil
}

// Stats counts jobs of one class by state. Walks the jobs bucket; meant for
// the ops surface, not the hot path.
func (s *Store) Stats(ctx context.Context, class core.QueueClass) (core.QueueStats, error) {
	qs := core.QueueStats{Queue: class, Paused: s.classMeta(ctx, class).Paused}

	keys, err := s.jobs.Keys(ctx)
	if err != nil {
		return qs, core.NewStoreUnavailableError(err)
	}
	for _, key := range keys {
		job, err := s.getJob(ctx, key)
		if err != nil || job.Queue != class {
			continue
		}
		switch job.State {
		case core.StateWaiting:
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

func (s *Store) classMeta(ctx context.Context, class core.QueueClass) queueMeta {
	var meta queueMeta
	if _, err := s.queues.GetJSON(ctx, string(class), &meta); err != nil {
		return queueMeta{Name: class}
	}
	return meta
}

// PauseQueue stops Dequeue from claiming jobs of a class. Enqueued jobs keep
// accumulating.
func (s *Store) PauseQueue(ctx context.Context, class core.QueueClass) error {
	var meta queueMeta
	return s.queues.UpdateJSON(ctx, string(class), &meta, func() {
		meta.Name = class
		meta.Paused = true
	})
}

// ResumeQueue re-enables claiming for a class.
func (s *Store) ResumeQueue(ctx context.Context, class core.QueueClass) error {
	var meta queueMeta
	return s.queues.UpdateJSON(ctx, string(class), &meta, func() {
		meta.Name = class
		meta.Paused = false
	})
}

// RegisterRecurring stores a recurring registration, replacing any previous
// one with the same name.
func (s *Store) RegisterRecurring(ctx context.Context, rec *core.RecurringJob) error {
	if err := s.recurring.Register(ctx, rec); err != nil {
		return core.NewStoreUnavailableError(err)
	}
	return nil
}

// ListRecurring returns all recurring registrations.
func (s *Store) ListRecurring(ctx context.Context) ([]*core.RecurringJob, error) {
	recs, err := s.recurring.List(ctx)
	if err != nil {
		return nil, core.NewStoreUnavailableError(err)
	}
	return recs, nil
}

// DeleteRecurring removes a recurring registration.
func (s *Store) DeleteRecurring(ctx context.Context, name string) error {
	if err := s.recurring.Delete(ctx, name); err != nil {
		return core.NewNotFoundError("Recurring job", name)
	}
	return nil
}

// Ping verifies the NATS connection and does one KV round trip.
func (s *Store) Ping(ctx context.Context) error {
	if status := s.nc.Status(); status != nats.CONNECTED {
		return core.NewStoreUnavailableError(fmt.Errorf("NATS status: %v", status))
	}
	if _, _, err := s.queues.Get(ctx, "_ping"); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return core.NewStoreUnavailableError(err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *Store) Close() error {
	s.nc.Close()
	return nil
}
