package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/registry"
)

// Polling chains replace in-process wait loops: a polling handler performs
// one check, and when the awaited condition is not yet met it schedules a
// brand-new delayed job of the same type carrying an incremented chain
// attempt counter. The chain survives restarts because each step is a durable
// job, and no worker slot is held during the wait.
//
// The chain counter is independent of the store's attempt counter: store
// attempts handle handler crashes, chain attempts handle business conditions
// that are not yet true. The two are never conflated.

// DefaultDelayLadder spaces consecutive polling checks. The last entry is
// reused for every attempt beyond the ladder's length.
var DefaultDelayLadder = DelayLadder{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// DelayLadder is an ordered, non-decreasing list of polling wait durations.
type DelayLadder []time.Duration

// Delay returns the wait after chain attempt n (1-indexed): ladder[n-1],
// clamped to the last entry.
func (l DelayLadder) Delay(attempt int) time.Duration {
	if len(l) == 0 {
		return DefaultDelayLadder.Delay(attempt)
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l) {
		idx = len(l) - 1
	}
	return l[idx]
}

// PollState is the chain position carried inside a polling job's payload.
type PollState struct {
	AttemptNumber int `json:"poll_attempt_number"`
	MaxAttempts   int `json:"poll_max_attempts"`
}

// ReadPollState extracts the chain position from a payload. A payload without
// chain fields is attempt 1 of a single-check chain.
func ReadPollState(payload json.RawMessage) PollState {
	state := PollState{AttemptNumber: 1, MaxAttempts: 1}
	if len(payload) == 0 {
		return state
	}
	var decoded PollState
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return state
	}
	if decoded.AttemptNumber > 0 {
		state.AttemptNumber = decoded.AttemptNumber
	}
	if decoded.MaxAttempts > 0 {
		state.MaxAttempts = decoded.MaxAttempts
	}
	return state
}

// ContinuePolling is called by a polling handler whose condition did not hold
// yet. While chain attempts remain it schedules the next check of the same
// job type — same payload, attempt counter incremented, delayed by the ladder
// entry for the current attempt — and reports StatusContinued. With attempts
// exhausted it reports StatusExhausted: a deliberate terminal outcome the
// caller and alerting can tell apart from success.
func (s *Scheduler) ContinuePolling(ctx context.Context, typeName string, payload json.RawMessage) (registry.Result, error) {
	state := ReadPollState(payload)
	if state.AttemptNumber >= state.MaxAttempts {
		return registry.Result{Status: registry.StatusExhausted}, nil
	}

	next, err := nextChainPayload(payload, state.AttemptNumber+1, state.MaxAttempts)
	if err != nil {
		return registry.Result{}, fmt.Errorf("advance polling payload for %s: %w", typeName, err)
	}

	delay := s.cfg.DelayLadder.Delay(state.AttemptNumber)
	handle, err := s.Schedule(ctx, typeName, next, WithDelay(delay))
	if err != nil {
		return registry.Result{}, fmt.Errorf("schedule polling follow-up for %s: %w", typeName, err)
	}
	if handle == nil {
		// Draining or degraded: the chain cannot continue. Ending it beats
		// pretending a follow-up exists.
		s.logger.Warn("polling chain interrupted, scheduler not accepting work",
			"job_type", typeName, "attempt", state.AttemptNumber)
		return registry.Result{Status: registry.StatusExhausted}, nil
	}
	return registry.Result{Status: registry.StatusContinued}, nil
}

// nextChainPayload rewrites the chain counters inside the payload, keeping
// every other field intact.
func nextChainPayload(payload json.RawMessage, attempt, maxAttempts int) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}
	fields["poll_attempt_number"] = json.RawMessage(fmt.Sprintf("%d", attempt))
	fields["poll_max_attempts"] = json.RawMessage(fmt.Sprintf("%d", maxAttempts))
	return json.Marshal(fields)
}
