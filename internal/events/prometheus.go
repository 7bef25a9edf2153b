package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exports lifecycle events as Prometheus metrics.
type PromSink struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	activeJobs  *prometheus.GaugeVec
}

// NewPromSink creates a sink and registers its collectors with reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	s := &PromSink{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ludora",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Job lifecycle transitions by kind and queue class.",
		}, []string{"kind", "queue"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ludora",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Handler execution time by queue class.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"queue"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ludora",
			Subsystem: "scheduler",
			Name:      "active_jobs",
			Help:      "Jobs currently executing by queue class.",
		}, []string{"queue"}),
	}
	reg.MustRegister(s.jobsTotal, s.jobDuration, s.activeJobs)
	return s
}

// Emit records the event.
func (s *PromSink) Emit(e Event) {
	queue := string(e.Queue)
	n := 1.0
	if e.Count > 0 {
		n = float64(e.Count)
	}
	s.jobsTotal.WithLabelValues(string(e.Kind), queue).Add(n)

	switch e.Kind {
	case KindStarted:
		s.activeJobs.WithLabelValues(queue).Inc()
	case KindCompleted, KindRetrying, KindFailed:
		s.activeJobs.WithLabelValues(queue).Dec()
	case KindForcedShutdown:
		// Abandoned in-flight jobs never report a terminal event, so their
		// started increments would otherwise stick forever.
		s.activeJobs.Reset()
	}

	if e.Duration > 0 && (e.Kind == KindCompleted || e.Kind == KindFailed || e.Kind == KindRetrying) {
		s.jobDuration.WithLabelValues(queue).Observe(float64(e.Duration) / float64(time.Second))
	}
}
