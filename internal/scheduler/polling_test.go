package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/registry"
)

func TestDelayLadder_Delay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, 5 * time.Second},
		{"second attempt", 2, 10 * time.Second},
		{"third attempt", 3, 15 * time.Second},
		{"fourth attempt", 4, 20 * time.Second},
		{"fifth attempt", 5, 30 * time.Second},
		{"sixth attempt", 6, 60 * time.Second},
		{"beyond ladder reuses last entry", 7, 60 * time.Second},
		{"far beyond ladder", 100, 60 * time.Second},
		{"zero attempt clamps to first entry", 0, 5 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DefaultDelayLadder.Delay(tc.attempt))
		})
	}
}

func TestDelayLadder_EmptyFallsBackToDefault(t *testing.T) {
	var empty DelayLadder
	require.Equal(t, 5*time.Second, empty.Delay(1))
	require.Equal(t, 60*time.Second, empty.Delay(9))
}

func TestReadPollState(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    PollState
	}{
		{"empty payload is a single-check chain", "", PollState{AttemptNumber: 1, MaxAttempts: 1}},
		{"payload without chain fields", `{"order_id":"o-1"}`, PollState{AttemptNumber: 1, MaxAttempts: 1}},
		{"chain fields present", `{"poll_attempt_number":3,"poll_max_attempts":8}`, PollState{AttemptNumber: 3, MaxAttempts: 8}},
		{"malformed payload defaults", `not json`, PollState{AttemptNumber: 1, MaxAttempts: 1}},
		{"zero counters keep defaults", `{"poll_attempt_number":0,"poll_max_attempts":0}`, PollState{AttemptNumber: 1, MaxAttempts: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReadPollState(json.RawMessage(tc.payload)))
		})
	}
}

func TestNextChainPayload_PreservesOtherFields(t *testing.T) {
	in := json.RawMessage(`{"order_id":"o-42","poll_attempt_number":3,"poll_max_attempts":10}`)
	out, err := nextChainPayload(in, 4, 10)
	require.NoError(t, err)

	var decoded struct {
		OrderID string `json:"order_id"`
		Attempt int    `json:"poll_attempt_number"`
		Max     int    `json:"poll_max_attempts"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "o-42", decoded.OrderID)
	require.Equal(t, 4, decoded.Attempt)
	require.Equal(t, 10, decoded.Max)
}

func TestContinuePolling_UsesLadderEntryForCurrentAttempt(t *testing.T) {
	reg := registry.New()
	delivered := make(chan json.RawMessage, 1)
	reg.Register(registry.JobTypeDefinition{Name: "payments.poll_status", Queue: core.QueueHigh, MaxAttempts: 1})
	reg.RegisterHandler("payments.poll_status", func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		delivered <- payload
		return registry.Completed(nil), nil
	})

	cfg := testConfig()
	// Only the third entry is short: the follow-up surfaces quickly only if
	// attempt 3 indexes ladder[2].
	cfg.DelayLadder = DelayLadder{time.Hour, time.Hour, 20 * time.Millisecond, time.Hour}
	s := startScheduler(t, reg, nil, cfg)

	payload := json.RawMessage(`{"order_id":"o-7","poll_attempt_number":3,"poll_max_attempts":8}`)
	result, err := s.ContinuePolling(context.Background(), "payments.poll_status", payload)
	require.NoError(t, err)
	require.Equal(t, registry.StatusContinued, result.Status)

	select {
	case next := <-delivered:
		state := ReadPollState(next)
		require.Equal(t, 4, state.AttemptNumber)
		require.Equal(t, 8, state.MaxAttempts)
		var fields struct {
			OrderID string `json:"order_id"`
		}
		require.NoError(t, json.Unmarshal(next, &fields))
		require.Equal(t, "o-7", fields.OrderID, "business fields survive the chain rewrite")
	case <-time.After(3 * time.Second):
		t.Fatal("follow-up never became visible; wrong ladder entry chosen")
	}
}

func TestContinuePolling_ExhaustsAtMaxAttempts(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.JobTypeDefinition{Name: "payments.poll_status", Queue: core.QueueHigh, MaxAttempts: 1})
	reg.RegisterHandler("payments.poll_status", func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		return registry.Completed(nil), nil
	})
	s := startScheduler(t, reg, nil, testConfig())

	payload := json.RawMessage(`{"poll_attempt_number":8,"poll_max_attempts":8}`)
	result, err := s.ContinuePolling(context.Background(), "payments.poll_status", payload)
	require.NoError(t, err)
	require.Equal(t, registry.StatusExhausted, result.Status)

	// No follow-up was enqueued.
	st := s.activeStore()
	stats, err := st.Stats(context.Background(), core.QueueHigh)
	require.NoError(t, err)
	require.Zero(t, stats.Stats.Waiting)
}

func TestPollingChain_EndToEnd(t *testing.T) {
	reg := registry.New()
	checks := make(chan int, 8)
	reg.Register(registry.JobTypeDefinition{Name: "shipping.poll_tracking", Queue: core.QueueMedium, MaxAttempts: 1})

	sink := &recordSink{}
	cfg := testConfig()
	// Millisecond ladder so the chain completes within the test.
	cfg.DelayLadder = DelayLadder{5 * time.Millisecond, 10 * time.Millisecond, 15 * time.Millisecond}
	var s *Scheduler
	reg.RegisterHandler("shipping.poll_tracking", func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		state := ReadPollState(payload)
		checks <- state.AttemptNumber
		// The tracked condition never becomes true: run the chain dry.
		return s.ContinuePolling(ctx, "shipping.poll_tracking", payload)
	})
	s = startScheduler(t, reg, sink, cfg)

	_, err := s.Schedule(context.Background(), "shipping.poll_tracking",
		json.RawMessage(`{"poll_attempt_number":1,"poll_max_attempts":3}`))
	require.NoError(t, err)

	var seen []int
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case n := <-checks:
			seen = append(seen, n)
		case <-deadline:
			t.Fatalf("chain stalled, saw attempts %v", seen)
		}
	}
	require.Equal(t, []int{1, 2, 3}, seen, "each chain step carries the next attempt number")

	require.Eventually(t, func() bool {
		return sink.count(events.KindPollExhausted) == 1
	}, 2*time.Second, 5*time.Millisecond, "a dry chain ends in a distinct exhausted outcome")
	require.Zero(t, sink.count(events.KindFailed), "exhaustion is not a job failure")
	require.Equal(t, 3, sink.count(events.KindCompleted))
}
