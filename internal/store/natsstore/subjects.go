package natsstore

import (
	"fmt"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// Subject hierarchy.
//
//	ludora.queue.{class}.pri.{level}  -- job IDs, one subject per priority level
//
// One work-queue stream carries every class. Every distinct priority value
// maps to its own level subject (level 000 = priority 100, level 200 =
// priority -100), and each (class, level) pair that has seen a job gets its
// own filtered pull consumer; the live level set per class is kept on the
// class record in the queues KV bucket. Dequeue drains the lowest level
// first, and JetStream preserves publish order inside a level, which yields
// exact priority-then-FIFO without any sorting on the hot path.
const (
	StreamName    = "LUDORA_JOBS"
	SubjectPrefix = "ludora"

	// KV bucket names
	BucketJobs      = "ludora-jobs"
	BucketQueues    = "ludora-queues"
	BucketDelayed   = "ludora-delayed"
	BucketRetry     = "ludora-retry"
	BucketActive    = "ludora-active"
	BucketRecurring = "ludora-recurring"
)

// Priority bounds. Values outside the range clamp to the nearest end.
const (
	MinPriority = -100
	MaxPriority = 100
)

// QueueSubject returns the subject for one class and priority level.
// Example: ludora.queue.critical.pri.010
func QueueSubject(class core.QueueClass, level int) string {
	return fmt.Sprintf("%s.queue.%s.pri.%03d", SubjectPrefix, class, level)
}

// QueueAllSubject returns the wildcard covering every queue subject. Used as
// the stream's subject filter.
func QueueAllSubject() string {
	return fmt.Sprintf("%s.queue.>", SubjectPrefix)
}

// ConsumerName returns the durable consumer name for one class and level.
func ConsumerName(class core.QueueClass, level int) string {
	return fmt.Sprintf("ludora-%s-pri-%03d", class, level)
}

// PriorityLevel maps a job priority to its subject level. The mapping is
// injective over the priority range, so jobs with distinct priorities never
// share a subject: a lower level always means a strictly higher priority.
func PriorityLevel(priority int) int {
	if priority > MaxPriority {
		priority = MaxPriority
	}
	if priority < MinPriority {
		priority = MinPriority
	}
	return MaxPriority - priority
}

// insertLevel adds a level to a sorted level set, keeping it sorted and
// duplicate-free.
func insertLevel(levels []int, level int) []int {
	for i, l := range levels {
		if l == level {
			return levels
		}
		if l > level {
			levels = append(levels, 0)
			copy(levels[i+1:], levels[i:])
			levels[i] = level
			return levels
		}
	}
	return append(levels, level)
}
