package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omriozer/ludora-scheduler/internal/core"
	"github.com/omriozer/ludora-scheduler/internal/scheduler"
)

// NewRouter builds the ops HTTP surface: health, stats, job inspection, queue
// pause/resume, recurring administration, and Prometheus metrics. promReg may
// be nil to omit /metrics.
func NewRouter(sched *scheduler.Scheduler, promReg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/healthz", handleHealth(sched))
	r.Get("/stats", handleStats(sched))
	r.Get("/jobs/{id}", handleJobInfo(sched))
	r.Post("/queues/{class}/pause", handlePauseQueue(sched))
	r.Post("/queues/{class}/resume", handleResumeQueue(sched))
	r.Get("/recurring", handleListRecurring(sched))
	r.Delete("/recurring/{name}", handleDeleteRecurring(sched))

	if promReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	return r
}

func handleHealth(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := sched.GetStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		body := map[string]any{
			"status":          "ok",
			"state":           report.State,
			"store_connected": report.StoreConnected,
		}
		status := http.StatusOK
		if report.State != scheduler.StateReady || !report.StoreConnected {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	}
}

func handleStats(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := sched.GetStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleJobInfo(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := sched.JobInfo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handlePauseQueue(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		class := core.QueueClass(chi.URLParam(r, "class"))
		if err := sched.PauseQueue(r.Context(), class); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"queue": class, "paused": true})
	}
}

func handleResumeQueue(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		class := core.QueueClass(chi.URLParam(r, "class"))
		if err := sched.ResumeQueue(r.Context(), class); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"queue": class, "paused": false})
	}
}

func handleListRecurring(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := sched.ListRecurring(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if recs == nil {
			recs = []*core.RecurringJob{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"recurring": recs})
	}
}

func handleDeleteRecurring(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sched.DeleteRecurring(r.Context(), chi.URLParam(r, "name")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP statuses and renders the
// canonical error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := core.ErrCodeInternal
	message := err.Error()
	var details map[string]any

	var schedErr *core.SchedError
	if errors.As(err, &schedErr) {
		code = schedErr.Code
		message = schedErr.Message
		details = schedErr.Details
	}

	status := http.StatusInternalServerError
	switch code {
	case core.ErrCodeNotFound, core.ErrCodeUnknownJobType:
		status = http.StatusNotFound
	case core.ErrCodeConflict:
		status = http.StatusConflict
	case core.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
