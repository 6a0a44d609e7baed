package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the render queue and the HTTP layer.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
	jobsEnqueued  prometheus.Counter
	jobsReplaced  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	cueFailures   prometheus.Counter
	queueLength   prometheus.Gauge
	processing    prometheus.Gauge
	jobDuration   prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_jobs_enqueued_total",
			Help: "Render jobs accepted by the queue",
		}),
		jobsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_jobs_replaced_total",
			Help: "Queued render jobs replaced by a newer request for the same scenario",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_jobs_completed_total",
			Help: "Render jobs finished successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_jobs_failed_total",
			Help: "Render jobs that failed",
		}),
		cueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stopcast_cue_synthesis_failures_total",
			Help: "Narration clips that could not be synthesized and were omitted",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stopcast_queue_length",
			Help: "Render jobs waiting in the queue",
		}),
		processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stopcast_queue_processing",
			Help: "1 while the worker renders a job",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stopcast_job_duration_seconds",
			Help:    "Wall time of one render job",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.jobsEnqueued,
		m.jobsReplaced,
		m.jobsCompleted,
		m.jobsFailed,
		m.cueFailures,
		m.queueLength,
		m.processing,
		m.jobDuration,
	)
	return m
}

func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

func (m *Metrics) IncJobsEnqueued() {
	if m != nil {
		m.jobsEnqueued.Inc()
	}
}

func (m *Metrics) IncJobsReplaced() {
	if m != nil {
		m.jobsReplaced.Inc()
	}
}

func (m *Metrics) IncJobsCompleted() {
	if m != nil {
		m.jobsCompleted.Inc()
	}
}

func (m *Metrics) IncJobsFailed() {
	if m != nil {
		m.jobsFailed.Inc()
	}
}

func (m *Metrics) IncCueFailures() {
	if m != nil {
		m.cueFailures.Inc()
	}
}

func (m *Metrics) SetQueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}

func (m *Metrics) SetProcessing(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.processing.Set(1)
	} else {
		m.processing.Set(0)
	}
}

func (m *Metrics) ObserveJobDuration(d time.Duration) {
	if m != nil {
		m.jobDuration.Observe(d.Seconds())
	}
}

// Handler serves the registry. updateGauges is called before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
