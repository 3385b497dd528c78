package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes recording pipeline metrics
type Collector struct {
	registry          *prometheus.Registry
	chunksTotal       *prometheus.CounterVec
	bytesTotal        prometheus.Counter
	uploadDuration    prometheus.Histogram
	recordingSessions prometheus.Gauge
	credentialsIssued prometheus.Counter
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionreel_chunks_total",
				Help: "Total number of chunks processed by final status",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionreel_chunk_bytes_total",
				Help: "Total chunk bytes acknowledged as durably stored",
			},
		),
		uploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sessionreel_chunk_upload_duration_seconds",
				Help:    "Time from write credential issuance to chunk acknowledgement",
				Buckets: prometheus.DefBuckets,
			},
		),
		recordingSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessionreel_recording_sessions",
				Help: "Number of sessions currently in recording state",
			},
		),
		credentialsIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionreel_write_credentials_issued_total",
				Help: "Total number of write credentials issued",
			},
		),
	}

	c.registry.MustRegister(
		c.chunksTotal,
		c.bytesTotal,
		c.uploadDuration,
		c.recordingSessions,
		c.credentialsIssued,
	)

	return c
}

// IncUploaded increments the uploaded chunk counter and adds to the byte total
func (c *Collector) IncUploaded(bytes int64) {
	c.chunksTotal.WithLabelValues("uploaded").Inc()
	c.bytesTotal.Add(float64(bytes))
}

// IncFailed increments the failed chunk counter
func (c *Collector) IncFailed() {
	c.chunksTotal.WithLabelValues("failed").Inc()
}

// IncCredentialsIssued increments the issued write-credential counter
func (c *Collector) IncCredentialsIssued() {
	c.credentialsIssued.Inc()
}

// SetRecordingSessions sets the active recording sessions gauge
func (c *Collector) SetRecordingSessions(n int) {
	c.recordingSessions.Set(float64(n))
}

// ObserveUploadDuration observes a chunk upload duration
func (c *Collector) ObserveUploadDuration(d time.Duration) {
	c.uploadDuration.Observe(d.Seconds())
}

// Handler returns an http.Handler serving the collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
