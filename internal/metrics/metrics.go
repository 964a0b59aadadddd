// Package metrics holds the Prometheus collectors exported by emberd.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ember"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	connectionState   *prometheus.GaugeVec
	reconnectAttempts prometheus.Counter
	heartbeatMisses   prometheus.Counter
	queueDepth        prometheus.Gauge
	queueDropped      *prometheus.CounterVec
	messageStatus     *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	syncErrors        prometheus.Counter
	conflicts         prometheus.Gauge
	syncedConvs       prometheus.Gauge
	typingActive      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made after an unexpected disconnect.",
		}),
		heartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "heartbeat_misses_total",
			Help:      "Pongs not received within the timeout.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Events waiting in the offline queue.",
		}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dropped_total",
			Help:      "Events dropped from the offline queue by kind.",
		}, []string{"kind"}),
		messageStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receipts",
			Name:      "status_transitions_total",
			Help:      "Message status transitions by target status.",
		}, []string{"status"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conversation_duration_seconds",
			Help:      "Latency of a single conversation sync.",
			Buckets:   prometheus.DefBuckets,
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Conversation syncs that failed.",
		}),
		conflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conflicted_conversations",
			Help:      "Conversations with unresolved conflicts.",
		}),
		syncedConvs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "synced_conversations",
			Help:      "Conversations whose last sync succeeded.",
		}),
		typingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "typing",
			Name:      "remote_typists",
			Help:      "Remote users currently shown as typing.",
		}),
	}
	m.Registry.MustRegister(
		m.connectionState, m.reconnectAttempts, m.heartbeatMisses,
		m.queueDepth, m.queueDropped, m.messageStatus,
		m.syncDuration, m.syncErrors, m.conflicts, m.syncedConvs, m.typingActive,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) IncReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) IncHeartbeatMiss() {
	if m == nil {
		return
	}
	m.heartbeatMisses.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) IncQueueDropped(kind string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStatus(status string) {
	if m == nil {
		return
	}
	m.messageStatus.WithLabelValues(status).Inc()
}

// ObserveSync records one conversation sync and whether it failed.
func (m *Metrics) ObserveSync(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
	if err != nil {
		m.syncErrors.Inc()
	}
}

func (m *Metrics) SetSyncCounts(synced, conflicted int) {
	if m == nil {
		return
	}
	m.syncedConvs.Set(float64(synced))
	m.conflicts.Set(float64(conflicted))
}

func (m *Metrics) SetRemoteTypists(n int) {
	if m == nil {
		return
	}
	m.typingActive.Set(float64(n))
}
