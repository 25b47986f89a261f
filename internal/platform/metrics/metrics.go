package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the replay
// ingestion service.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	uploadsTotal      prometheus.Counter
	uploadBytesTotal  prometheus.Counter
	headerRejections  *prometheus.CounterVec
	duplicateUploads  prometheus.Counter
	netstreamJobs     *prometheus.CounterVec
	decodeIssues      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	runningJobs       prometheus.Gauge
	netstreamDuration prometheus.Histogram
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_uploads_total",
			Help: "Total number of uploads whose header tier succeeded",
		}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_upload_bytes_total",
			Help: "Total bytes of accepted uploads",
		}),
		headerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_header_rejections_total",
			Help: "Uploads rejected by the header tier, by decode error kind",
		}, []string{"kind"}),
		duplicateUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_duplicate_uploads_total",
			Help: "Uploads rejected because the match was already ingested",
		}),
		netstreamJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_netstream_jobs_total",
			Help: "Finished netstream jobs by outcome",
		}, []string{"outcome"}),
		decodeIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_decode_issues_total",
			Help: "Recoverable netstream issues that were skipped, by kind",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_netstream_queue_depth",
			Help: "Netstream jobs waiting for a worker",
		}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_netstream_running_jobs",
			Help: "Netstream jobs currently decoding",
		}),
		netstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_netstream_duration_seconds",
			Help:    "Wall-clock time of netstream jobs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.uploadsTotal,
		m.uploadBytesTotal,
		m.headerRejections,
		m.duplicateUploads,
		m.netstreamJobs,
		m.decodeIssues,
		m.queueDepth,
		m.runningJobs,
		m.netstreamDuration,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUploads counts an accepted upload of size bytes.
func (m *Metrics) IncUploads(size int) {
	m.uploadsTotal.Inc()
	m.uploadBytesTotal.Add(float64(size))
}

// IncHeaderRejected counts an upload rejected by the header tier.
func (m *Metrics) IncHeaderRejected(kind string) {
	m.headerRejections.WithLabelValues(kind).Inc()
}

// IncDuplicateUploads counts a duplicate upload.
func (m *Metrics) IncDuplicateUploads() {
	m.duplicateUploads.Inc()
}

// IncNetstreamJobs counts a finished netstream job. outcome is one of
// "parsed", "failed", "timeout" or "discarded".
func (m *Metrics) IncNetstreamJobs(outcome string) {
	m.netstreamJobs.WithLabelValues(outcome).Inc()
}

// AddDecodeIssues adds n recoverable issues of the given kind.
func (m *Metrics) AddDecodeIssues(kind string, n int) {
	if n > 0 {
		m.decodeIssues.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveNetstreamDuration records how long a netstream job took.
func (m *Metrics) ObserveNetstreamDuration(seconds float64) {
	m.netstreamDuration.Observe(seconds)
}

// SetQueueDepth sets the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetRunningJobs sets the running jobs gauge.
func (m *Metrics) SetRunningJobs(n int) {
	m.runningJobs.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
