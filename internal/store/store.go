// Package store defines the job store contract: the durable, atomic queue the
// scheduler runs on. Production deployments use the NATS JetStream
// implementation in store/natsstore; tests and local tooling use
// store/memstore. Both satisfy the same at-least-once contract.
package store

import (
	"context"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// Store is the durable queue behind the scheduler.
//
// Guarantees required of every implementation:
//   - Enqueue is atomic and the job is durable before return.
//   - Dequeue claims exclusively: no two callers receive the same job while
//     its claim is live. Claimed jobs become active with a visibility
//     deadline; Extend pushes the deadline out.
//   - Dequeue respects priority-then-FIFO within a class and never returns a
//     job before its AvailableAt.
//   - Ack marks completed. Nack increments the attempt counter and either
//     re-inserts the job with AvailableAt advanced by its backoff policy, or
//     fails it when attempts are exhausted. A cause that is a *core.SchedError
//     with Retryable=false fails the job immediately regardless of remaining
//     attempts.
//   - A claim whose deadline lapses without Extend is eventually requeued by
//     RequeueStalled, up to a bounded stall count, after which the job fails.
type Store interface {
	Enqueue(ctx context.Context, job *core.Job) error
	Dequeue(ctx context.Context, class core.QueueClass, max int) ([]*core.Job, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, cause error) error
	Extend(ctx context.Context, jobID string, visibility time.Duration) error
	Info(ctx context.Context, jobID string) (*core.Job, error)
	Stats(ctx context.Context, class core.QueueClass) (core.QueueStats, error)

	PauseQueue(ctx context.Context, class core.QueueClass) error
	ResumeQueue(ctx context.Context, class core.QueueClass) error

	RegisterRecurring(ctx context.Context, rec *core.RecurringJob) error
	ListRecurring(ctx context.Context) ([]*core.RecurringJob, error)
	DeleteRecurring(ctx context.Context, name string) error

	// Maintenance sweeps, driven periodically by the scheduler: move due
	// delayed jobs and due retries back to waiting, and requeue (or fail)
	// jobs whose visibility deadline lapsed. RequeueStalled reports how many
	// claims it reaped.
	PromoteDelayed(ctx context.Context) error
	PromoteRetries(ctx context.Context) error
	RequeueStalled(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
