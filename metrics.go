package peernet

import "github.com/peernet-go/peernet/pnmetrics"

// socketMetrics is a thin, nil-safe adapter from a Socket's call sites
// onto the shared pnmetrics.Registry, so a Socket built without a
// Transport (as in unit tests) can pass a nil *socketMetrics and every
// call becomes a no-op.
type socketMetrics struct {
	reg *pnmetrics.Registry
}

func newSocketMetrics(reg *pnmetrics.Registry) *socketMetrics {
	return &socketMetrics{reg: reg}
}

func (m *socketMetrics) packetSent(t PacketType) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.PacketsSent.WithLabelValues(t.String()).Inc()
}

func (m *socketMetrics) packetRecv(t PacketType) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.PacketsReceived.WithLabelValues(t.String()).Inc()
}

func (m *socketMetrics) dropDecompressFail() { m.drop("decompress_fail") }
func (m *socketMetrics) dropBadHeader()      { m.drop("bad_header") }
func (m *socketMetrics) dropBadChannelID()   { m.drop("bad_channel_id") }

// sendPoolExhausted and recvPoolExhausted count backpressure events, not
// drops: the packet they describe is still re-queued and eventually
// sent or dispatched, never discarded.
func (m *socketMetrics) sendPoolExhausted() {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.SendPoolExhausted.Inc()
}

func (m *socketMetrics) recvPoolExhausted() {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.ReceivePoolExhausted.Inc()
}

func (m *socketMetrics) drop(reason string) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.PacketsDropped.WithLabelValues(reason).Inc()
}

func (m *socketMetrics) sendError() {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.SendErrors.Inc()
}

func (m *socketMetrics) recvError() {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.RecvErrors.Inc()
}

// peerMetrics mirrors socketMetrics for the per-peer gauges the
// retransmission sweep and peer table maintain.
type peerMetrics struct {
	reg *pnmetrics.Registry
}

func newPeerMetrics(reg *pnmetrics.Registry) *peerMetrics {
	return &peerMetrics{reg: reg}
}

func (m *peerMetrics) retransmit(t PacketType) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.Retransmits.WithLabelValues(t.String()).Inc()
}

func (m *peerMetrics) outstanding(t PacketType, n int) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.OutstandingGauge.WithLabelValues(t.String()).Set(float64(n))
}

func (m *peerMetrics) rtt(peerAddr string, seconds float64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.PeerRTT.WithLabelValues(peerAddr).Set(seconds)
}

func (m *peerMetrics) peersByState(state PeerState, n int) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.PeersByState.WithLabelValues(state.String()).Set(float64(n))
}
