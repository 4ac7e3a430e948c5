// Package observability exposes Prometheus metrics for the realtime subsystem.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks:
//   - live connections per channel kind
//   - envelopes in and out per channel kind and envelope type
//   - connection closes per reason, rejected upgrades per reason
//   - message store append latency
//   - sends dropped because a peer's buffer was full
type Metrics struct {
	// ActiveConnections. Labels: kind (chat|location)
	ActiveConnections *prometheus.GaugeVec

	// EnvelopesInbound. Labels: kind, type
	EnvelopesInbound *prometheus.CounterVec

	// EnvelopesOutbound. Labels: kind, type
	EnvelopesOutbound *prometheus.CounterVec

	// ConnectionCloses. Labels: kind, reason
	ConnectionCloses *prometheus.CounterVec

	// UpgradeRejections. Labels: kind, reason (unauthorized|not_in_progress|bad_request)
	UpgradeRejections *prometheus.CounterVec

	// StoreAppendDuration in seconds. Labels: status (success|error)
	StoreAppendDuration *prometheus.HistogramVec

	// SlowConsumerDrops. Labels: kind
	SlowConsumerDrops *prometheus.CounterVec
}

// NewMetrics registers every metric with reg. Pass prometheus.DefaultRegisterer in the
// binary and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dancehost_realtime_active_connections",
				Help: "Number of open realtime connections by channel kind",
			},
			[]string{"kind"},
		),
		EnvelopesInbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dancehost_realtime_envelopes_inbound_total",
				Help: "Inbound envelopes by channel kind and type",
			},
			[]string{"kind", "type"},
		),
		EnvelopesOutbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dancehost_realtime_envelopes_outbound_total",
				Help: "Outbound envelopes queued by channel kind and type",
			},
			[]string{"kind", "type"},
		),
		ConnectionCloses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dancehost_realtime_connection_closes_total",
				Help: "Closed realtime connections by channel kind and reason",
			},
			[]string{"kind", "reason"},
		),
		UpgradeRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dancehost_realtime_upgrade_rejections_total",
				Help: "Rejected connection attempts by channel kind and reason",
			},
			[]string{"kind", "reason"},
		),
		StoreAppendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dancehost_chat_store_append_duration_seconds",
				Help:    "Duration of message store append calls in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"status"},
		),
		SlowConsumerDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dancehost_realtime_slow_consumer_drops_total",
				Help: "Connections closed because their send buffer was full",
			},
			[]string{"kind"},
		),
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ConnectionOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionClosed(kind, reason string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(kind).Dec()
	m.ConnectionCloses.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) Inbound(kind, envelopeType string) {
	if m == nil {
		return
	}
	m.EnvelopesInbound.WithLabelValues(kind, envelopeType).Inc()
}

func (m *Metrics) Outbound(kind, envelopeType string) {
	if m == nil {
		return
	}
	m.EnvelopesOutbound.WithLabelValues(kind, envelopeType).Inc()
}

func (m *Metrics) UpgradeRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.UpgradeRejections.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) StoreAppend(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreAppendDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SlowConsumer(kind string) {
	if m == nil {
		return
	}
	m.SlowConsumerDrops.WithLabelValues(kind).Inc()
}
