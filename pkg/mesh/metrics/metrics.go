// Package metrics instruments the mesh engine with Prometheus counters
// and gauges, replacing the teacher's log-shim use of
// github.com/prometheus/common (which it only used for its logrus-style
// leveled logger) with real instrumentation via
// github.com/prometheus/client_golang, since this module's logging is
// already carried by zap and prometheus/common's logging facade has
// nothing left to do.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Metrics holds every Prometheus collector the mesh engine updates.
type Metrics struct {
	SeenSetOccupancy    prometheus.Gauge
	TransportReliability *prometheus.GaugeVec
	RelayCount          prometheus.Counter
	RetryCount          prometheus.Counter
	MessagesDelivered   prometheus.Counter
	MessagesFailed      prometheus.Counter
	DuplicatesDropped   prometheus.Counter
	MalformedPackets    prometheus.Counter
}

// New registers every collector against reg and returns the bound
// Metrics. Callers typically pass prometheus.NewRegistry() so multiple
// nodes in the same process (as in meshtest) don't collide on the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SeenSetOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshreach",
			Name:      "seen_set_occupancy",
			Help:      "Current number of packet ids held in the duplicate-suppression cache.",
		}),
		TransportReliability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshreach",
			Name:      "transport_reliability",
			Help:      "Current reliability score (0-100) per transport.",
		}, []string{"transport"}),
		RelayCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "relay_packets_total",
			Help:      "Total packets relayed onward by this node.",
		}),
		RetryCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "delivery_retries_total",
			Help:      "Total delivery retry attempts fired by the backoff timer.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "messages_delivered_total",
			Help:      "Total messages delivered to this node's application layer.",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "messages_failed_total",
			Help:      "Total outgoing messages that exhausted their retry budget.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "duplicate_packets_dropped_total",
			Help:      "Total packets dropped by the seen-set as duplicates.",
		}),
		MalformedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshreach",
			Name:      "malformed_packets_total",
			Help:      "Total packets dropped for failing integrity verification.",
		}),
	}
	reg.MustRegister(
		m.SeenSetOccupancy,
		m.TransportReliability,
		m.RelayCount,
		m.RetryCount,
		m.MessagesDelivered,
		m.MessagesFailed,
		m.DuplicatesDropped,
		m.MalformedPackets,
	)
	return m
}

// SetTransportReliability records a transport's current reliability score.
func (m *Metrics) SetTransportReliability(t types.Transport, score float64) {
	m.TransportReliability.WithLabelValues(string(t)).Set(score)
}
