// Package pnmetrics wraps the Prometheus client library behind a small
// Registry type exposing exactly the counters and gauges the transport
// needs, so the rest of the codebase never imports prometheus directly.
package pnmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric the transport publishes. Construct one
// with New and register it with whatever prometheus.Registerer the
// host application uses (prometheus.DefaultRegisterer if nil).
type Registry struct {
	PacketsSent          *prometheus.CounterVec
	PacketsReceived      *prometheus.CounterVec
	PacketsDropped       *prometheus.CounterVec
	Retransmits          *prometheus.CounterVec
	SendErrors           prometheus.Counter
	RecvErrors           prometheus.Counter
	SendPoolExhausted    prometheus.Counter
	ReceivePoolExhausted prometheus.Counter
	OutstandingGauge     *prometheus.GaugeVec
	PeerRTT              *prometheus.GaugeVec
	PeersByState         *prometheus.GaugeVec
}

// New builds a Registry and registers every metric against reg. Pass
// nil to use prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Registry{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "packets_sent_total",
			Help:      "Datagrams handed to the OS socket, by channel type.",
		}, []string{"type"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "packets_received_total",
			Help:      "Datagrams successfully parsed off the wire, by channel type.",
		}, []string{"type"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "packets_dropped_total",
			Help:      "Datagrams discarded before delivery, by reason.",
		}, []string{"reason"}),
		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "retransmits_total",
			Help:      "Reliable or ordered packets resent, by channel type.",
		}, []string{"type"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "send_errors_total",
			Help:      "WriteToUDP failures.",
		}),
		RecvErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "recv_errors_total",
			Help:      "ReadFromUDP failures.",
		}),
		SendPoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "send_pool_exhausted_total",
			Help:      "Times submit() found the send pool full and had to re-queue rather than enqueue immediately.",
		}),
		ReceivePoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peernet",
			Name:      "receive_pool_exhausted_total",
			Help:      "Times a receive worker found the dispatch pool full and had to re-queue rather than enqueue immediately.",
		}),
		OutstandingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peernet",
			Name:      "outstanding_packets",
			Help:      "Sent-but-unacknowledged packets currently tracked, by channel type.",
		}, []string{"type"}),
		PeerRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peernet",
			Name:      "peer_rtt_seconds",
			Help:      "Smoothed round-trip-time estimate per peer.",
		}, []string{"peer"}),
		PeersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peernet",
			Name:      "peers_by_state",
			Help:      "Number of peers currently in each lifecycle state.",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		r.PacketsSent, r.PacketsReceived, r.PacketsDropped, r.Retransmits,
		r.SendErrors, r.RecvErrors, r.SendPoolExhausted, r.ReceivePoolExhausted,
		r.OutstandingGauge, r.PeerRTT, r.PeersByState,
	} {
		reg.MustRegister(c)
	}
	return r
}
