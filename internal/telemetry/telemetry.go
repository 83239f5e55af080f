// Package telemetry wraps the Prometheus collectors docsyncd exposes on
// its /metrics endpoint, grounded on the teacher's
// go-server/internal/metrics/metrics.go collector set, generalized from
// websocket_* connection/message counters to the document-sync domain
// (sessions, documents, patches, persistence saves).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the full collector set. All fields are safe for concurrent
// use (Prometheus collectors already are).
type Metrics struct {
	sessionsTotal  prometheus.Counter
	sessionsActive prometheus.Gauge

	documentsActive prometheus.Gauge
	documentTicks   prometheus.Counter
	tickDuration    prometheus.Histogram

	patchesBroadcast prometheus.Counter
	patchSize        prometheus.Histogram
	resyncsTotal     prometheus.Counter

	persistenceSaves     prometheus.Counter
	persistenceConflicts prometheus.Counter
	persistenceErrors    prometheus.Counter

	errorsByKind *prometheus.CounterVec

	sendQueueDepth prometheus.Histogram

	cpuPercent    prometheus.Gauge
	memoryBytes   prometheus.Gauge
	goroutines    prometheus.Gauge
}

// New registers every collector against the default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_sessions_total",
			Help: "Total number of sessions accepted",
		}),
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_sessions_active",
			Help: "Number of currently connected sessions",
		}),
		documentsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_documents_active",
			Help: "Number of documents currently resident in the registry",
		}),
		documentTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_document_ticks_total",
			Help: "Total number of scheduler ticks that produced a non-empty diff",
		}),
		tickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_tick_duration_seconds",
			Help:    "Duration of the Broker fan-out of a changed tick (onUpdate and diff time not included)",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		patchesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_patches_broadcast_total",
			Help: "Total number of PatchBatch messages enqueued to sessions",
		}),
		patchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_patch_operations_size",
			Help:    "Number of operations in a broadcast PatchBatch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		resyncsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_resyncs_total",
			Help: "Total number of send-queue-overflow resyncs triggered",
		}),
		persistenceSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_persistence_saves_total",
			Help: "Total number of successful persistence writes",
		}),
		persistenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_persistence_conflicts_total",
			Help: "Total number of optimistic version conflicts on save",
		}),
		persistenceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docsync_persistence_errors_total",
			Help: "Total number of non-conflict persistence errors",
		}),
		errorsByKind: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_errors_total",
			Help: "Total number of errors by ErrorKind",
		}, []string{"kind"}),
		sendQueueDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_send_queue_depth",
			Help:    "Observed session send-queue depth at enqueue time",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_host_cpu_percent",
			Help: "Host CPU usage percentage, sampled periodically",
		}),
		memoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_host_memory_bytes",
			Help: "Process heap memory usage in bytes",
		}),
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_goroutines",
			Help: "Number of live goroutines",
		}),
	}
}

func (m *Metrics) SessionConnected()    { m.sessionsTotal.Inc(); m.sessionsActive.Inc() }
func (m *Metrics) SessionDisconnected() { m.sessionsActive.Dec() }

func (m *Metrics) SetDocumentsActive(n int) { m.documentsActive.Set(float64(n)) }

func (m *Metrics) RecordTick(d time.Duration, opCount int) {
	m.documentTicks.Inc()
	m.tickDuration.Observe(d.Seconds())
	m.patchSize.Observe(float64(opCount))
}

func (m *Metrics) RecordBroadcast() { m.patchesBroadcast.Inc() }
func (m *Metrics) RecordResync()    { m.resyncsTotal.Inc() }

func (m *Metrics) RecordPersistenceSave()     { m.persistenceSaves.Inc() }
func (m *Metrics) RecordPersistenceConflict() { m.persistenceConflicts.Inc() }
func (m *Metrics) RecordPersistenceError()    { m.persistenceErrors.Inc() }

func (m *Metrics) RecordError(kind string) { m.errorsByKind.WithLabelValues(kind).Inc() }

func (m *Metrics) RecordSendQueueDepth(depth int) { m.sendQueueDepth.Observe(float64(depth)) }

func (m *Metrics) SetHostStats(cpuPercent float64, memBytes uint64, goroutines int) {
	m.cpuPercent.Set(cpuPercent)
	m.memoryBytes.Set(float64(memBytes))
	m.goroutines.Set(float64(goroutines))
}
