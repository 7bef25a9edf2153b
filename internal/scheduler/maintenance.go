package scheduler

import (
	"context"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/events"
)

// maintenanceLoop runs the periodic sweeps: store health checking with capped
// reconnection, promotion of due delayed and retryable jobs, stalled-claim
// recovery, and recurring-job firing.
func (s *Scheduler) maintenanceLoop() {
	defer close(s.maintDone)

	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	reconnectsLeft := s.cfg.ReconnectAttempts
	healthy := true

	for {
		select {
		case <-s.maintStop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MaintenanceInterval)
		st := s.activeStore()
		if st == nil {
			cancel()
			continue
		}

		if err := st.Ping(ctx); err != nil {
			if healthy {
				// First sight of the outage. In-flight jobs fail locally via
				// their nack paths; the host process is not taken down.
				s.logger.Error("job store unreachable", "error", err.Error())
				s.sink.Emit(events.Event{Kind: events.KindDegraded, Err: err, At: time.Now()})
				healthy = false
			}
			if reconnectsLeft > 0 {
				reconnectsLeft--
				s.tryReconnect(ctx)
			}
			cancel()
			continue
		}

		if !healthy {
			s.logger.Info("job store connection recovered")
			s.sink.Emit(events.Event{Kind: events.KindReconnected, At: time.Now()})
			healthy = true
			reconnectsLeft = s.cfg.ReconnectAttempts
		}

		if err := st.PromoteDelayed(ctx); err != nil {
			s.logger.Warn("promoting delayed jobs", "error", err.Error())
		}
		if err := st.PromoteRetries(ctx); err != nil {
			s.logger.Warn("promoting retryable jobs", "error", err.Error())
		}
		if reaped, err := st.RequeueStalled(ctx); err != nil {
			s.logger.Warn("requeueing stalled jobs", "error", err.Error())
		} else if reaped > 0 {
			s.logger.Warn("requeued stalled jobs", "count", reaped)
			s.sink.Emit(events.Event{Kind: events.KindStalled, Count: reaped, At: time.Now()})
		}
		s.fireRecurring(ctx, st)
		cancel()
	}
}

// tryReconnect dials a fresh store and swaps it in. The old connection is
// closed; worker pools pick the new store up on their next dequeue.
func (s *Scheduler) tryReconnect(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	fresh, err := s.connect(dialCtx)
	if err != nil {
		s.logger.Warn("job store reconnect failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	old := s.st
	s.st = fresh
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.logger.Info("job store reconnected")
}
