package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/events"
	"github.com/omriozer/ludora-scheduler/internal/registry"
	"github.com/omriozer/ludora-scheduler/internal/scheduler"
	"github.com/omriozer/ludora-scheduler/internal/store"
	"github.com/omriozer/ludora-scheduler/internal/store/memstore"
)

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	reg := registry.New()
	reg.Register(registry.JobTypeDefinition{Name: "emails.send", Queue: core.QueueHigh, MaxAttempts: 2})
	reg.RegisterHandler("emails.send", func(ctx context.Context, payload json.RawMessage) (registry.Result, error) {
		return registry.Completed(nil), nil
	})

	sched := scheduler.New(reg,
		func(ctx context.Context) (store.Store, error) { return memstore.New(), nil },
		events.Discard{}, nil,
		scheduler.Config{
			PollInterval:        2 * time.Millisecond,
			MaintenanceInterval: 5 * time.Millisecond,
		})
	require.NoError(t, sched.Initialize(context.Background()))
	t.Cleanup(func() { _ = sched.Shutdown(2 * time.Second) })
	return sched
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	rec := doRequest(t, router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status         string `json:"status"`
		State          string `json:"state"`
		StoreConnected bool   `json:"store_connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, string(scheduler.StateReady), body.State)
	require.True(t, body.StoreConnected)
}

func TestRouter_HealthzDegraded(t *testing.T) {
	reg := registry.New()
	sched := scheduler.New(reg,
		func(ctx context.Context) (store.Store, error) { return nil, errors.New("connection refused") },
		events.Discard{}, nil,
		scheduler.Config{ConnectTimeout: 50 * time.Millisecond})
	require.NoError(t, sched.Initialize(context.Background()))
	t.Cleanup(func() { _ = sched.Shutdown(time.Second) })

	router := NewRouter(sched, nil)
	rec := doRequest(t, router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string `json:"status"`
		State  string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, string(scheduler.StateReadyDegraded), body.State)
}

func TestRouter_Stats(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	rec := doRequest(t, router, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var report scheduler.StatsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, scheduler.StateReady, report.State)
	require.Equal(t, core.QueueHigh.DefaultConcurrency(), report.Workers[core.QueueHigh].Slots)
}

func TestRouter_JobInfo(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	handle, err := sched.Schedule(context.Background(), "emails.send", nil,
		scheduler.WithDelay(time.Hour))
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/jobs/"+handle.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var job core.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, handle.ID, job.ID)
	require.Equal(t, "emails.send", job.Type)
	require.Equal(t, core.StateWaiting, job.State)
}

func TestRouter_JobInfoNotFound(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	rec := doRequest(t, router, http.MethodGet, "/jobs/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, core.ErrCodeNotFound, body.Error.Code)
}

func TestRouter_PauseResumeQueue(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	rec := doRequest(t, router, http.MethodPost, "/queues/high/pause")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/stats")
	var report scheduler.StatsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))

	rec = doRequest(t, router, http.MethodPost, "/queues/high/resume")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_PauseUnknownQueue(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	rec := doRequest(t, router, http.MethodPost, "/queues/express/pause")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RecurringLifecycle(t *testing.T) {
	sched := newTestScheduler(t)
	router := NewRouter(sched, nil)

	_, err := sched.ScheduleRecurring(context.Background(), "emails.send", nil, "0 3 * * *",
		scheduler.WithRecurringName("nightly-digest"))
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/recurring")
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody struct {
		Recurring []core.RecurringJob `json:"recurring"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Recurring, 1)
	require.Equal(t, "nightly-digest", listBody.Recurring[0].Name)

	rec = doRequest(t, router, http.MethodDelete, "/recurring/nightly-digest")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/recurring")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	require.Empty(t, listBody.Recurring)
}

func TestRouter_Metrics(t *testing.T) {
	sched := newTestScheduler(t)
	promReg := prometheus.NewRegistry()
	events.NewPromSink(promReg)
	router := NewRouter(sched, promReg)

	rec := doRequest(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
