// Package plcmetrics holds the Prometheus instrumentation for a running
// plc-server process, grounded on internal/escrow/metrics.go's
// promauto-registration idiom.
package plcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector this process publishes.
type Metrics struct {
	WritesTotal      prometheus.Counter
	WriteDiffSize    prometheus.Histogram
	NoOpWritesTotal  prometheus.Counter
	MemoryKeys       prometheus.Gauge
	ObserverCount    prometheus.Gauge
	QueueDepth       *prometheus.GaugeVec
	ControllerUp     *prometheus.GaugeVec
	ServerRequests   *prometheus.CounterVec
	RelayPublished   prometheus.Counter
	RelayErrors      prometheus.Counter
}

// New constructs and registers all collectors against the default
// Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer constructs and registers all collectors against reg.
// Tests use this with a fresh prometheus.NewRegistry() per case, since
// the default registry is process-global and New() may only be called
// once against it.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plc_memory_writes_total",
			Help: "Total number of Memory.Write calls that produced at least one modification.",
		}),
		WriteDiffSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plc_memory_write_diff_size",
			Help:    "Number of keys modified per non-no-op write.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		NoOpWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plc_memory_noop_writes_total",
			Help: "Total number of Memory.Write calls suppressed because every key was already at the written value.",
		}),
		MemoryKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plc_memory_keys",
			Help: "Current number of keys stored in Memory.",
		}),
		ObserverCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plc_memory_observers",
			Help: "Current number of registered Memory observers.",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plc_controller_queue_depth",
			Help: "Number of undrained diffs queued in a Controller.",
		}, []string{"controller"}),
		ControllerUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plc_controller_connected",
			Help: "1 if the controller's IsConnected() currently holds, 0 otherwise.",
		}, []string{"controller"}),
		ServerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plc_server_requests_total",
			Help: "Total requests handled by the network endpoint, by command.",
		}, []string{"command"}),
		RelayPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "plc_relay_published_total",
			Help: "Total diffs published to the Redis relay channel.",
		}),
		RelayErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "plc_relay_errors_total",
			Help: "Total errors encountered publishing to the Redis relay channel.",
		}),
	}
}

// ObserveWrite records a Memory.Write outcome: a diff of size 0 is
// counted as a no-op write, otherwise the diff's key count is observed.
func (m *Metrics) ObserveWrite(diffSize int) {
	if diffSize == 0 {
		m.NoOpWritesTotal.Inc()
		return
	}
	m.WritesTotal.Inc()
	m.WriteDiffSize.Observe(float64(diffSize))
}

// SetMemoryStats publishes Memory's current key and observer counts.
func (m *Metrics) SetMemoryStats(keys, observers int) {
	m.MemoryKeys.Set(float64(keys))
	m.ObserverCount.Set(float64(observers))
}

// SetControllerStats publishes per-controller queue depth and connection
// state, labeled by name.
func (m *Metrics) SetControllerStats(name string, queueDepth int, connected bool) {
	m.QueueDepth.WithLabelValues(name).Set(float64(queueDepth))
	up := 0.0
	if connected {
		up = 1.0
	}
	m.ControllerUp.WithLabelValues(name).Set(up)
}

// ObserveServerRequest counts one dispatched request by command name.
func (m *Metrics) ObserveServerRequest(command string) {
	m.ServerRequests.WithLabelValues(command).Inc()
}
