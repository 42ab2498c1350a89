package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires Prometheus gauges/counters observing the consensus engine:
// peer count, pairing status, penalty events, and mined-round count. Each
// Node owns its own registry rather than registering onto the global
// default, so multiple Node instances (one process running several local
// test nodes) never collide on metric registration.
type Metrics struct {
	registry     *prometheus.Registry
	peerCount    prometheus.Gauge
	paired       prometheus.Gauge
	penaltyTotal *prometheus.CounterVec
	minedTotal   prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entangled_node_peer_count",
			Help: "Number of peers known to this node.",
		}),
		paired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entangled_node_paired",
			Help: "1 if this node has an entangled partner, 0 otherwise.",
		}),
		penaltyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entangled_node_penalty_events_total",
			Help: "Penalty events recorded against a peer, by peer id.",
		}, []string{"peer_id"}),
		minedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entangled_node_mined_rounds_total",
			Help: "Consensus rounds this node has won and mined.",
		}),
	}
	m.registry.MustRegister(m.peerCount, m.paired, m.penaltyTotal, m.minedTotal)
	return m
}

func (m *Metrics) setPeerCount(n int) {
	m.peerCount.Set(float64(n))
}

func (m *Metrics) setPaired(paired bool) {
	if paired {
		m.paired.Set(1)
	} else {
		m.paired.Set(0)
	}
}

func (m *Metrics) recordPenalty(peerID string) {
	m.penaltyTotal.WithLabelValues(peerID).Inc()
}

func (m *Metrics) recordMined() {
	m.minedTotal.Inc()
}

// Registry exposes the node's metrics registry so the HTTP transport can
// serve it on a /metrics endpoint.
func (n *Node) Registry() *prometheus.Registry {
	return n.metrics.registry
}
