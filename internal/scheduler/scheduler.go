// Package scheduler is the task-execution engine: per-class worker pools
// dequeue from the job store, a dispatcher routes jobs to registered handlers,
// and a lifecycle controller owns initialization, degraded operation, and
// orderly shutdown.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/registry"
	"github.com/omriozer/ludora-scheduler/internal/store"
)

// LifecycleState is the scheduler's coarse lifecycle position.
type LifecycleState string

const (
	StateUninitialized LifecycleState = "uninitialized"
	StateInitializing  LifecycleState = "initializing"
	StateReady         LifecycleState = "ready"
	// StateReadyDegraded means the store was unreachable in a deployment that
	// tolerates running without background jobs: Schedule returns nil handles
	// and no workers run, but the host process lives on.
	StateReadyDegraded LifecycleState = "ready-degraded"
	StateDraining      LifecycleState = "draining"
	StateClosed        LifecycleState = "closed"
)

// ConnectFunc dials the job store. The scheduler owns the returned store and
// closes it on shutdown.
type ConnectFunc func(ctx context.Context) (store.Store, error)

// Config tunes the scheduler. Zero values take the documented defaults.
type Config struct {
	// Concurrency overrides worker slots per queue class. Classes absent from
	// the map keep their business-priority defaults (10/5/3/1).
	Concurrency map[core.QueueClass]int

	// PollInterval is how long an idle worker slot waits between dequeues.
	PollInterval time.Duration
	// MaintenanceInterval drives the promote/reap/recurring sweeps.
	MaintenanceInterval time.Duration
	// Visibility is the claim deadline granted on dequeue; HeartbeatInterval
	// extends it while a handler runs. Heartbeat defaults to Visibility/3.
	Visibility        time.Duration
	HeartbeatInterval time.Duration

	// ConnectTimeout bounds the initial store dial.
	ConnectTimeout time.Duration
	// ReconnectAttempts caps mid-run reconnection tries after the store drops.
	ReconnectAttempts int

	// FailOnStoreUnavailable makes an unreachable store fatal at Initialize.
	// StoreConfigured marks that an explicit store address was supplied, which
	// also makes unavailability fatal: a configured store that cannot be
	// reached is an operator error, not an optional dependency.
	FailOnStoreUnavailable bool
	StoreConfigured        bool

	// DelayLadder paces self-rescheduling polling chains.
	DelayLadder DelayLadder
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Second
	}
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.Visibility / 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if len(c.DelayLadder) == 0 {
		c.DelayLadder = DefaultDelayLadder
	}
	return c
}

func (c Config) concurrency(class core.QueueClass) int {
	if n, ok := c.Concurrency[class]; ok && n > 0 {
		return n
	}
	return class.DefaultConcurrency()
}

// JobHandle identifies a scheduled job to its caller.
type JobHandle struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Queue core.QueueClass `json:"queue"`
}

// WorkerStats reports one pool's slot usage.
type WorkerStats struct {
	Slots  int `json:"slots"`
	Active int `json:"active"`
}

// StatsReport is the scheduler-wide statistics snapshot.
type StatsReport struct {
	State          LifecycleState                  `json:"state"`
	StoreConnected bool                            `json:"store_connected"`
	Queues         map[core.QueueClass]core.Stats  `json:"queues"`
	Workers        map[core.QueueClass]WorkerStats `json:"workers"`
}

// Scheduler is the background job engine. Construct it explicitly and pass it
// to the application parts that schedule work; it is not a package singleton.
type Scheduler struct {
	cfg     Config
	reg     *registry.Registry
	connect ConnectFunc
	sink    events.Sink
	logger  *slog.Logger

	mu    sync.Mutex
	state LifecycleState
	st    store.Store
	pools map[core.QueueClass]*pool

	maintStop chan struct{}
	maintDone chan struct{}
}

// New creates a scheduler. The registry must be fully populated before
// Initialize is called; the sink may be nil.
func New(reg *registry.Registry, connect ConnectFunc, sink events.Sink, logger *slog.Logger, cfg Config) *Scheduler {
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		connect: connect,
		sink:    sink,
		logger:  logger,
		state:   StateUninitialized,
	}
}

// Initialize validates the registry, connects to the job store, and starts
// the worker pools and maintenance loop.
//
// If the store is unreachable and neither FailOnStoreUnavailable nor an
// explicit store address is set, the scheduler enters ready-degraded instead
// of failing: Schedule becomes a logged no-op so the host application can
// still start.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return core.NewConflictError(
			fmt.Sprintf("Initialize called in state '%s'.", state), nil)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	if err := s.reg.Validate(); err != nil {
		s.setState(StateUninitialized)
		return fmt.Errorf("validating job type registry: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	st, err := s.connect(dialCtx)
	cancel()
	if err != nil {
		if s.cfg.FailOnStoreUnavailable || s.cfg.StoreConfigured {
			s.setState(StateUninitialized)
			return fmt.Errorf("connecting to job store: %w", core.NewStoreUnavailableError(err))
		}
		s.logger.Warn("job store unreachable, starting in degraded mode without background jobs",
			"error", err.Error())
		s.sink.Emit(events.Event{Kind: events.KindDegraded, Err: err, At: time.Now()})
		s.setState(StateReadyDegraded)
		return nil
	}

	s.mu.Lock()
	s.st = st
	s.pools = make(map[core.QueueClass]*pool, len(core.QueueClasses))
	for _, class := range core.QueueClasses {
		p := newPool(s, class, s.cfg.concurrency(class))
		s.pools[class] = p
		p.start()
	}
	s.maintStop = make(chan struct{})
	s.maintDone = make(chan struct{})
	s.state = StateReady
	s.mu.Unlock()

	go s.maintenanceLoop()

	s.logger.Info("scheduler ready",
		"critical_workers", s.cfg.concurrency(core.QueueCritical),
		"high_workers", s.cfg.concurrency(core.QueueHigh),
		"medium_workers", s.cfg.concurrency(core.QueueMedium),
		"low_workers", s.cfg.concurrency(core.QueueLow),
	)
	return nil
}

// Schedule enqueues one job of a registered type. It returns a nil handle
// with a nil error when the scheduler is degraded or draining, so callers can
// log and continue instead of handling an error path.
func (s *Scheduler) Schedule(ctx context.Context, typeName string, payload json.RawMessage, opts ...Option) (*JobHandle, error) {
	s.mu.Lock()
	state := s.state
	st := s.st
	s.mu.Unlock()

	switch state {
	case StateReadyDegraded, StateDraining, StateClosed:
		s.logger.Warn("dropping job, scheduler not accepting work",
			"job_type", typeName, "state", string(state))
		return nil, nil
	case StateReady:
	default:
		return nil, core.NewConflictError(
			fmt.Sprintf("Schedule called in state '%s'.", state), nil)
	}

	def, err := s.reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	job := &core.Job{
		ID:          core.NewJobID(),
		Type:        def.Name,
		Queue:       def.Queue,
		Payload:     append(json.RawMessage(nil), payload...),
		Priority:    def.Priority,
		MaxAttempts: def.MaxAttempts,
		Backoff:     def.Backoff,
	}
	if o.priority != nil {
		job.Priority = *o.priority
	}
	if o.maxAttempts != nil {
		job.MaxAttempts = *o.maxAttempts
	}
	if o.backoff != nil {
		job.Backoff = *o.backoff
	}
	if o.delay > 0 {
		job.AvailableAt = core.FormatTime(time.Now().Add(o.delay))
	}

	if err := st.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job type %s: %w", typeName, err)
	}

	s.sink.Emit(events.Event{
		Kind:  events.KindScheduled,
		JobID: job.ID,
		Type:  job.Type,
		Queue: job.Queue,
		At:    time.Now(),
	})
	return &JobHandle{ID: job.ID, Type: job.Type, Queue: job.Queue}, nil
}

// ScheduleRecurring registers a cron-style recurring job. The expression uses
// standard five-field cron syntax plus descriptors like @hourly. Returns a
// nil handle without error when degraded or draining.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, typeName string, payload json.RawMessage, expression string, opts ...Option) (*JobHandle, error) {
	s.mu.Lock()
	state := s.state
	st := s.st
	s.mu.Unlock()

	switch state {
	case StateReadyDegraded, StateDraining, StateClosed:
		s.logger.Warn("dropping recurring job, scheduler not accepting work",
			"job_type", typeName, "state", string(state))
		return nil, nil
	case StateReady:
	default:
		return nil, core.NewConflictError(
			fmt.Sprintf("ScheduleRecurring called in state '%s'.", state), nil)
	}

	def, err := s.reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}

	schedule, err := parseCron(expression)
	if err != nil {
		return nil, fmt.Errorf("parse schedule expression %q: %w", expression, err)
	}

	o := applyOptions(opts)
	name := o.recurringName
	if name == "" {
		name = def.Name
	}
	now := time.Now()
	rec := &core.RecurringJob{
		Name:          name,
		Type:          def.Name,
		Payload:       append(json.RawMessage(nil), payload...),
		Expression:    expression,
		OverlapPolicy: o.overlapPolicy,
		Enabled:       true,
		CreatedAt:     core.FormatTime(now),
		NextRunAt:     core.FormatTime(schedule.Next(now)),
	}
	if err := st.RegisterRecurring(ctx, rec); err != nil {
		return nil, fmt.Errorf("register recurring job %s: %w", name, err)
	}

	s.logger.Info("recurring job registered",
		"name", name, "job_type", typeName, "expression", expression, "next_run_at", rec.NextRunAt)
	return &JobHandle{ID: name, Type: def.Name, Queue: def.Queue}, nil
}

// GetStats snapshots per-class queue counts, worker usage, and store health.
func (s *Scheduler) GetStats(ctx context.Context) (StatsReport, error) {
	s.mu.Lock()
	state := s.state
	st := s.st
	pools := s.pools
	s.mu.Unlock()

	report := StatsReport{
		State:   state,
		Queues:  make(map[core.QueueClass]core.Stats, len(core.QueueClasses)),
		Workers: make(map[core.QueueClass]WorkerStats, len(core.QueueClasses)),
	}

	for _, class := range core.QueueClasses {
		if p, ok := pools[class]; ok {
			report.Workers[class] = WorkerStats{Slots: p.slots, Active: p.activeCount()}
		} else {
			report.Workers[class] = WorkerStats{Slots: s.cfg.concurrency(class)}
		}
	}

	if st == nil {
		return report, nil
	}
	report.StoreConnected = st.Ping(ctx) == nil

	for _, class := range core.QueueClasses {
		qs, err := st.Stats(ctx, class)
		if err != nil {
			return report, fmt.Errorf("stats for queue %s: %w", class, err)
		}
		report.Queues[class] = qs.Stats
	}
	return report, nil
}

// Shutdown drains the scheduler: new scheduling is rejected, worker pools
// stop dequeuing and finish in-flight jobs, and the store connection closes.
// If in-flight work outlives timeout the shutdown is forced and logged rather
// than hanging. Safe to call any number of times.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateDraining:
		s.mu.Unlock()
		return nil
	case StateUninitialized, StateInitializing:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	case StateReadyDegraded:
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Info("scheduler closed (was degraded)")
		return nil
	}
	s.state = StateDraining
	st := s.st
	pools := s.pools
	maintStop := s.maintStop
	maintDone := s.maintDone
	s.mu.Unlock()

	s.logger.Info("scheduler draining", "timeout_ms", timeout.Milliseconds())

	close(maintStop)
	<-maintDone

	deadline := time.Now().Add(timeout)
	forced := false
	for _, p := range pools {
		if !p.stop(time.Until(deadline)) {
			forced = true
		}
	}
	if forced {
		err := core.NewShutdownTimeoutError(timeout.Milliseconds())
		s.logger.Warn("forced shutdown, in-flight jobs abandoned to stall recovery", "timeout_ms", timeout.Milliseconds())
		s.sink.Emit(events.Event{Kind: events.KindForcedShutdown, Err: err, At: time.Now()})
	}

	if st != nil {
		if err := st.Close(); err != nil {
			s.logger.Warn("closing job store", "error", err.Error())
		}
	}

	s.setState(StateClosed)
	s.logger.Info("scheduler stopped", "forced", forced)
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draining reports whether shutdown has begun. Long-running handlers may poll
// this cooperatively; the drain step waits but never interrupts.
func (s *Scheduler) Draining() bool {
	return s.State() == StateDraining
}

func (s *Scheduler) setState(state LifecycleState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// activeStore returns the store while the scheduler accepts work, or nil.
func (s *Scheduler) activeStore() store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady && s.state != StateDraining {
		return nil
	}
	return s.st
}
