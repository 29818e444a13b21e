// Package metrics contains the Prometheus instrumentation for syncd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and turns
// every recording method into a no-op, so tests can run unregistered.
type Metrics struct {
	Connected              prometheus.Gauge
	ReconnectAttemptsTotal prometheus.Counter
	HeartbeatTimeoutsTotal prometheus.Counter
	QueueDepth             prometheus.Gauge
	QueueDroppedTotal      prometheus.Counter
	InboundTotal           *prometheus.CounterVec
	ParseErrorsTotal       prometheus.Counter
	SnapshotFetchesTotal   prometheus.Counter
	SnapshotErrorsTotal    prometheus.Counter
	MergeAppliesTotal      *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncd_stream_connected",
			Help: "1 when the stream connection is open, 0 otherwise",
		}),
		ReconnectAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_reconnect_attempts_total",
			Help: "Total number of reconnection attempts",
		}),
		HeartbeatTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_heartbeat_timeouts_total",
			Help: "Total number of heartbeat timeouts forcing a connection reset",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncd_outbound_queue_depth",
			Help: "Current number of frames waiting in the outbound queue",
		}),
		QueueDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_outbound_queue_dropped_total",
			Help: "Total number of outbound frames dropped by the bounded queue",
		}),
		InboundTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncd_inbound_messages_total",
			Help: "Total number of inbound stream messages by type",
		}, []string{"type"}),
		ParseErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_inbound_parse_errors_total",
			Help: "Total number of inbound messages dropped because they failed to parse",
		}),
		SnapshotFetchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_snapshot_fetches_total",
			Help: "Total number of successful snapshot fetches",
		}),
		SnapshotErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncd_snapshot_errors_total",
			Help: "Total number of failed snapshot fetches",
		}),
		MergeAppliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncd_merge_applies_total",
			Help: "Total number of merge operations by source (snapshot, stream)",
		}, []string{"source"}),
	}
}

// SetConnected records whether the stream connection is open.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// RecordReconnectAttempt counts one reconnection attempt.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsTotal.Inc()
}

// RecordHeartbeatTimeout counts one heartbeat-forced reset.
func (m *Metrics) RecordHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.HeartbeatTimeoutsTotal.Inc()
}

// SetQueueDepth records the current outbound queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueDrop counts one dropped outbound frame.
func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDroppedTotal.Inc()
}

// RecordInbound counts one inbound stream message by type.
func (m *Metrics) RecordInbound(msgType string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(msgType).Inc()
}

// RecordParseError counts one dropped unparseable message.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrorsTotal.Inc()
}

// RecordSnapshotFetch counts one snapshot fetch outcome.
func (m *Metrics) RecordSnapshotFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SnapshotErrorsTotal.Inc()
		return
	}
	m.SnapshotFetchesTotal.Inc()
}

// RecordMergeApply counts one merge operation by source.
func (m *Metrics) RecordMergeApply(source string) {
	if m == nil {
		return
	}
	m.MergeAppliesTotal.WithLabelValues(source).Inc()
}
