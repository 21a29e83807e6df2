// Package metrics exports upload and queue telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/bitrise-io/redundinator/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redundinator"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	blocks        *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	blockDuration *prometheus.HistogramVec
	files         *prometheus.CounterVec
	resumes       *prometheus.CounterVec
	queuePending  prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		blocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "blocks_total",
				Help:      "Append requests by result",
			},
			[]string{"target", "result"}, // result: ok, retry, rate_limited, permanent, exhausted
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "bytes_total",
				Help:      "Bytes accepted by the remote",
			},
			[]string{"target"},
		),
		blockDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "block_duration_seconds",
				Help:      "Time to append one request worth of blocks",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"target"},
		),
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "files_total",
				Help:      "Files by upload outcome",
			},
			[]string{"target", "outcome"},
		),
		resumes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "resume_total",
				Help:      "Interrupted attempts resumed from a checkpoint",
			},
			[]string{"target", "kind"}, // kind: progress, stall
		),
		queuePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "pending",
				Help:      "Actions waiting to run",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// QueueLength implements queue.Observer.
func (m *Metrics) QueueLength(n int) {
	m.queuePending.Set(float64(n))
}

// Target returns an observer labelled with the target name.
func (m *Metrics) Target(name string) TargetObserver {
	return TargetObserver{metrics: m, target: name}
}

// TargetObserver implements chunkuploader.Observer and upload.Observer for one target.
type TargetObserver struct {
	metrics *Metrics
	target  string
}

// BlockUploaded ...
func (o TargetObserver) BlockUploaded(bytes int, took time.Duration) {
	o.metrics.blocks.WithLabelValues(o.target, "ok").Inc()
	o.metrics.bytes.WithLabelValues(o.target).Add(float64(bytes))
	o.metrics.blockDuration.WithLabelValues(o.target).Observe(took.Seconds())
}

// BlockFailed ...
func (o TargetObserver) BlockFailed(reason string) {
	o.metrics.blocks.WithLabelValues(o.target, reason).Inc()
}

// FileFinished ...
func (o TargetObserver) FileFinished(outcome upload.Outcome) {
	o.metrics.files.WithLabelValues(o.target, outcome.String()).Inc()
}

// AttemptResumed ...
func (o TargetObserver) AttemptResumed(stalled bool) {
	kind := "progress"
	if stalled {
		kind = "stall"
	}
	o.metrics.resumes.WithLabelValues(o.target, kind).Inc()
}
