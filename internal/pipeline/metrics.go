package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates pipeline observability. A nil *Metrics is valid and
// records nothing; one instance is shared by all workers of a process.
type Metrics struct {
	eventsProcessed *prometheus.CounterVec
	eventsSkipped   *prometheus.CounterVec
	offsetCommitted *prometheus.GaugeVec
	streamRestarts  *prometheus.CounterVec
	workerCrashes   *prometheus.CounterVec
	backoffDelay    *prometheus.GaugeVec
	workerState     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	labels := []string{"pipeline", "shard"}

	return &Metrics{
		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardpipe_events_processed_total",
			Help: "Events delivered to the sink and committed",
		}, labels),
		eventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardpipe_events_skipped_total",
			Help: "Events dropped by the stage (offset still committed)",
		}, labels),
		offsetCommitted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardpipe_offset_committed",
			Help: "Last committed offset per shard",
		}, labels),
		streamRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardpipe_stream_restarts_total",
			Help: "Streaming attempts restarted after a transient failure",
		}, labels),
		workerCrashes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardpipe_worker_crashes_total",
			Help: "Workers that hit a fatal error and crashed",
		}, labels),
		backoffDelay: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardpipe_backoff_delay_seconds",
			Help: "Delay applied before the most recent restart",
		}, labels),
		workerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardpipe_worker_state",
			Help: "Current worker state (see pipeline.State values)",
		}, labels),
	}
}

func (m *Metrics) processed(pipeline, shard string, off uint64) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(pipeline, shard).Inc()
	m.offsetCommitted.WithLabelValues(pipeline, shard).Set(float64(off))
}

func (m *Metrics) skipped(pipeline, shard string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(pipeline, shard).Inc()
}

func (m *Metrics) restarted(pipeline, shard string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.streamRestarts.WithLabelValues(pipeline, shard).Inc()
	m.backoffDelay.WithLabelValues(pipeline, shard).Set(delaySeconds)
}

func (m *Metrics) crashed(pipeline, shard string) {
	if m == nil {
		return
	}
	m.workerCrashes.WithLabelValues(pipeline, shard).Inc()
}

func (m *Metrics) state(pipeline, shard string, st State) {
	if m == nil {
		return
	}
	m.workerState.WithLabelValues(pipeline, shard).Set(float64(st))
}
