package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CertificatesIssued = prometheus.NewCounter(prometheus.CounterOpts{Name: "certificates_issued_total", Help: "Records that completed the certificate pipeline"})
	RecordFailures     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "certificate_record_failures_total", Help: "Records that failed, by reason"}, []string{"reason"})
	IdentifiersIssued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "certificate_ids_allocated_total", Help: "Certificate identifiers newly allocated"})
	IdentifiersResumed = prometheus.NewCounter(prometheus.CounterOpts{Name: "certificate_ids_resumed_total", Help: "Existing identifiers reused for a retried record"})
	BatchDispatches    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_batch_dispatches_total", Help: "Batch update calls, by job and result"}, []string{"job", "result"})
	DueDatesAssigned   = prometheus.NewCounter(prometheus.CounterOpts{Name: "due_dates_assigned_total", Help: "Assignment due dates written"})
	RunDuration        = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "run_duration_seconds", Help: "Wall time of a run", Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)}, []string{"job"})
	RunsInFlight       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "runs_inflight", Help: "Runs currently executing"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CertificatesIssued,
			RecordFailures,
			IdentifiersIssued,
			IdentifiersResumed,
			BatchDispatches,
			DueDatesAssigned,
			RunDuration,
			RunsInFlight,
		)
	})
	return promhttp.Handler()
}
