package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// pool runs one queue class's worker slots. Slots block only while waiting
// for work or while a handler executes; delays are always store-side, never
// in-process sleeps holding a slot.
type pool struct {
	sched *Scheduler
	class core.QueueClass
	slots int

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

func newPool(s *Scheduler, class core.QueueClass, slots int) *pool {
	return &pool{
		sched:  s,
		class:  class,
		slots:  slots,
		stopCh: make(chan struct{}),
		active: make(map[string]struct{}),
	}
}

func (p *pool) start() {
	for i := 0; i < p.slots; i++ {
		p.wg.Add(1)
		go p.runSlot()
	}
	p.wg.Add(1)
	go p.heartbeatLoop()
}

// stop signals the slots to cease dequeuing and waits up to timeout for
// in-flight handlers to finish. Returns false if the wait timed out.
func (p *pool) stop(timeout time.Duration) bool {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *pool) track(jobID string) {
	p.mu.Lock()
	p.active[jobID] = struct{}{}
	p.mu.Unlock()
}

func (p *pool) untrack(jobID string) {
	p.mu.Lock()
	delete(p.active, jobID)
	p.mu.Unlock()
}

func (p *pool) activeJobIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

func (p *pool) runSlot() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		st := p.sched.activeStore()
		if st == nil {
			p.sleep()
			continue
		}

		jobs, err := st.Dequeue(context.Background(), p.class, 1)
		if err != nil {
			p.sched.logger.Error("dequeue failed",
				"queue", string(p.class), "error", err.Error())
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		job := jobs[0]
		p.track(job.ID)
		p.sched.dispatch(context.Background(), st, job)
		p.untrack(job.ID)
	}
}

// heartbeatLoop extends the visibility deadline of every job this pool is
// executing, so slow handlers are not reaped as stalled.
func (p *pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sched.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			st := p.sched.activeStore()
			if st == nil {
				continue
			}
			for _, jobID := range p.activeJobIDs() {
				if err := st.Extend(context.Background(), jobID, p.sched.cfg.Visibility); err != nil {
					p.sched.logger.Warn("heartbeat extend failed",
						"job_id", jobID, "queue", string(p.class), "error", err.Error())
				}
			}
		}
	}
}

func (p *pool) sleep() {
	select {
	case <-p.stopCh:
	case <-time.After(p.sched.cfg.PollInterval):
	}
}
