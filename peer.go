package peernet

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PeerState tracks a Peer through its discovery handshake and
// eventual teardown.
type PeerState int32

const (
	// PeerProbing is the initial state: a discovery packet has been
	// sent and we are waiting for its acknowledgement.
	PeerProbing PeerState = iota
	// PeerEstablished means the discovery handshake completed and the
	// peer may freely exchange packets on every channel.
	PeerEstablished
	// PeerDraining means Shutdown has been requested: no new sends are
	// accepted, but outstanding reliable packets keep retransmitting
	// until acked or the peer is declared dead.
	PeerDraining
	// PeerDead means the peer has been torn down; its Address has been
	// released back to the pool and it must not be used again.
	PeerDead
)

func (s PeerState) String() string {
	switch s {
	case PeerProbing:
		return "probing"
	case PeerEstablished:
		return "established"
	case PeerDraining:
		return "draining"
	case PeerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ReceiveEvent is handed to the application's ReceiveCallback for every
// delivered application payload, and once more (with a nil Payload) to
// signal that the peer has become unreachable.
type ReceiveEvent struct {
	Peer        *Peer
	ChannelID   uint16
	Payload     []byte
	Unreachable bool
}

// ReceiveCallback is invoked from a Socket's dispatch worker goroutines
// for payloads, and from the Transport's tick loop for unreachable events.
// Implementations must not block for long; hand off to your own queue
// if you need to do real work.
type ReceiveCallback func(ReceiveEvent)

const (
	rttSmoothing = 0.125 // matches the classic TCP SRTT alpha

	// drainGraceMultiplier and drainGraceCap bound how long a draining
	// peer's outstanding reliable traffic keeps retransmitting before
	// Shutdown gives up waiting on it: min(RTT * multiplier, cap), or
	// cap when no RTT sample exists yet.
	drainGraceMultiplier = 2.0
	drainGraceCap        = 500 * time.Millisecond
)

// Peer is one remote endpoint: an Address, the three reliability
// channels, discovery handshake state, and RTT/backoff bookkeeping.
// A Peer is created once per remote Address and lives in the
// Transport's peer table, transitioning through PeerState as the
// discovery handshake and, eventually, teardown occur; once it is
// dead the tick loop removes it from the table and releases its Address.
type Peer struct {
	addr *Address
	// debugID correlates this peer's log lines across reconnects to the
	// same Address slot, since the slot itself is reused once released.
	debugID string
	socket  *Socket
	log     logrus.FieldLogger
	metrics *peerMetrics

	state atomicInt32 // PeerState

	unreliable *UnreliableChannel
	reliable   *ReliableChannel
	ordered    *ReliableOrderedChannel

	// discoverySeqID is the sequence id of the outstanding discovery
	// packet, drawn from a dedicated counter rather than reusing the
	// Unreliable channel's id space. The Discovery handshake's ACK
	// reuses the PacketReliableACK wire type, so an incoming discovery
	// ACK and a genuine Reliable channel ACK can carry the same sequence
	// id. onInbound disambiguates them by ChannelID, not SeqID, and
	// routes discovery ACKs to handleDiscoveryAck before they ever reach
	// reliable.OnACK.
	discoverySeqID uint64
	discoveryAcked atomicBool
	discoverySent  time.Time

	mu              sync.RWMutex
	rttSmoothed     time.Duration
	lastActivity    time.Time
	drainDeadlineAt time.Time

	onReceive ReceiveCallback
}

func newPeer(addr *Address, socket *Socket, metrics *peerMetrics, onReceive ReceiveCallback, log logrus.FieldLogger) *Peer {
	debugID := uuid.New().String()
	p := &Peer{
		addr:           addr,
		debugID:        debugID,
		socket:         socket,
		metrics:        metrics,
		log:            log.WithFields(logrus.Fields{"peer": addr.String(), "peer_id": debugID}),
		unreliable:     newUnreliableChannel(uint16(PacketUnreliable)),
		reliable:       newReliableChannel(uint16(PacketReliable)),
		ordered:        newReliableOrderedChannel(uint16(PacketOrdered)),
		discoverySeqID: 1,
		lastActivity:   time.Now(),
		onReceive:      onReceive,
	}
	p.state.Store(int32(PeerProbing))
	return p
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Address returns the remote endpoint this Peer speaks to.
func (p *Peer) Address() *Address { return p.addr }

// DebugID returns a stable id identifying this Peer instance across
// log lines, distinct from its Address since an Address slot is
// reused by a later, unrelated Peer once released.
func (p *Peer) DebugID() string { return p.debugID }

// RTT returns the current smoothed round-trip-time estimate. It is
// zero until at least one ACK has been observed.
func (p *Peer) RTT() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rttSmoothed
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *Peer) idleSince() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.lastActivity)
}

func (p *Peer) drainDeadline() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.drainDeadlineAt
}

// retransmitInterval computes how long an outstanding packet must sit
// unacknowledged before it is due for resend: max(RTT * factor,
// floor). Before any RTT sample exists, RTT() is zero and this
// collapses to floor, the same pacing a fixed interval would give a
// newly probing peer.
func (p *Peer) retransmitInterval(factor float64, floor time.Duration) time.Duration {
	interval := time.Duration(float64(p.RTT()) * factor)
	if interval < floor {
		return floor
	}
	return interval
}

// beginDiscovery builds and returns the outbound discovery packet this
// peer must send immediately after construction.
func (p *Peer) beginDiscovery() *OutPacket {
	out := newOutPacket(PacketDiscovery, uint16(PacketDiscovery), p.discoverySeqID)
	out.managed = true
	p.discoverySent = time.Now()
	return out
}

// NewUnreliable allocates a packet on the unreliable channel.
func (p *Peer) NewUnreliable() (*OutPacket, error) {
	if err := p.checkSendable(); err != nil {
		return nil, err
	}
	return p.unreliable.NewPacket(), nil
}

// NewReliable allocates a packet on the reliable channel.
func (p *Peer) NewReliable() (*OutPacket, error) {
	if err := p.checkSendable(); err != nil {
		return nil, err
	}
	return p.reliable.NewPacket(), nil
}

// NewOrdered allocates a packet on the reliable-ordered channel.
func (p *Peer) NewOrdered() (*OutPacket, error) {
	if err := p.checkSendable(); err != nil {
		return nil, err
	}
	return p.ordered.NewPacket(), nil
}

func (p *Peer) checkSendable() error {
	switch p.State() {
	case PeerDraining:
		return ErrPeerDraining
	case PeerDead:
		return ErrPeerDead
	default:
		return nil
	}
}

// Send hands a built OutPacket to this peer's socket for transmission.
func (p *Peer) Send(out *OutPacket) error {
	if err := p.checkSendable(); err != nil {
		return err
	}
	out.markSent()
	return p.socket.submit(p.addr, out)
}

// onInbound dispatches a decompressed, parsed datagram from this peer
// to the right channel, updates liveness, and sends any ACK the
// channel requests. Called from a Socket dispatch worker.
func (p *Peer) onInbound(in *InPacket) {
	p.touch()

	if in.Type == PacketDiscovery {
		p.handleDiscoveryRequest(in)
		return
	}

	// Discovery's ACK reuses the PacketReliableACK wire type, which would
	// otherwise be indistinguishable from a genuine Reliable channel ACK
	// whose sequence id happens to coincide with discoverySeqID. The
	// ChannelID field is what's actually unique to the handshake: a
	// discovery ACK carries uint16(PacketDiscovery), never
	// uint16(PacketReliable). Route on that, not on the sequence id.
	if in.Type == PacketReliableACK && in.ChannelID == uint16(PacketDiscovery) {
		p.handleDiscoveryAck()
		return
	}

	ch := p.channelFor(in.Type)
	if ch == nil {
		p.log.WithField("type", in.Type).Debug("dropping datagram for unknown channel")
		return
	}

	if isAckType(in.Type) {
		rtt, matched := ch.OnACK(in)
		if matched && rtt > 0 {
			p.sampleRTT(rtt)
		}
		return
	}

	delivery := ch.Receive(in)
	if delivery.Ack != nil {
		p.sendAck(delivery.Ack)
	}
	if delivery.Kind == DeliveryPayloads && p.onReceive != nil {
		for _, payload := range delivery.Payloads {
			p.onReceive(ReceiveEvent{Peer: p, ChannelID: in.ChannelID, Payload: payload})
		}
	}
}

func (p *Peer) handleDiscoveryRequest(in *InPacket) {
	ack := newAckPacket(PacketReliableACK, uint16(PacketDiscovery), in.SeqID, in.Created)
	if err := p.socket.submit(p.addr, ack); err != nil {
		p.log.WithError(err).Debug("failed to send discovery ack")
	}
	if p.State() == PeerProbing {
		p.state.Store(int32(PeerEstablished))
	}
}

func (p *Peer) handleDiscoveryAck() {
	p.discoveryAcked.Store(true)
	if p.State() == PeerProbing {
		p.state.Store(int32(PeerEstablished))
	}
	p.sampleRTT(time.Since(p.discoverySent))
	p.log.Debug("discovery handshake established")
}

func (p *Peer) sendAck(req *AckRequest) {
	ack := newAckPacket(req.Type, req.ChannelID, req.SeqID, req.Echo)
	if err := p.socket.submit(p.addr, ack); err != nil {
		p.log.WithError(err).Debug("failed to send ack")
	}
}

func (p *Peer) channelFor(typ PacketType) Channel {
	switch typ {
	case PacketUnreliable:
		return p.unreliable
	case PacketReliable, PacketReliableACK:
		return p.reliable
	case PacketOrdered, PacketOrderedACK:
		return p.ordered
	default:
		return nil
	}
}

func isAckType(typ PacketType) bool {
	return typ == PacketReliableACK || typ == PacketOrderedACK
}

func (p *Peer) sampleRTT(sample time.Duration) {
	p.mu.Lock()
	if p.rttSmoothed == 0 {
		p.rttSmoothed = sample
	} else {
		p.rttSmoothed = time.Duration(float64(p.rttSmoothed)*(1-rttSmoothing) + float64(sample)*rttSmoothing)
	}
	smoothed := p.rttSmoothed
	p.mu.Unlock()
	p.metrics.rtt(p.addr.String(), smoothed.Seconds())
}

// tick runs one retransmission sweep: every outstanding reliable and
// ordered packet older than max(RTT * retransmitFactor, retransmitFloor)
// is resent, up to the unreachable threshold at which point the peer
// is declared dead. A draining peer uses its own capped grace-period
// deadline instead of unreachableAfter, so Shutdown isn't stuck waiting
// out the full idle timeout for a peer that will never be reachable
// again. Returns true if the peer should be torn down by the caller.
func (p *Peer) tick(retransmitFactor float64, retransmitFloor, unreachableAfter time.Duration) bool {
	if p.State() == PeerDead {
		return false
	}

	interval := p.retransmitInterval(retransmitFactor, retransmitFloor)

	if !p.discoveryAcked.Load() && p.State() == PeerProbing {
		if p.idleSince() > unreachableAfter {
			p.declareDead()
			return true
		}
		if time.Since(p.discoverySent) > interval {
			out := newOutPacket(PacketDiscovery, uint16(PacketDiscovery), p.discoverySeqID)
			out.managed = true
			out.markSent()
			_ = p.socket.submit(p.addr, out)
			p.discoverySent = time.Now()
		}
		return false
	}

	if p.State() == PeerDraining {
		if p.reliable.Outstanding()+p.ordered.Outstanding() == 0 {
			p.completeDrain()
			return true
		}
		if time.Now().After(p.drainDeadline()) {
			p.declareDead()
			return true
		}
	} else if p.idleSince() > unreachableAfter && p.reliable.Outstanding()+p.ordered.Outstanding() > 0 {
		p.declareDead()
		return true
	}

	for _, due := range p.reliable.CollectRetransmits(interval) {
		due.markSent()
		_ = p.socket.submit(p.addr, due)
		p.metrics.retransmit(PacketReliable)
	}
	for _, due := range p.ordered.CollectRetransmits(interval) {
		due.markSent()
		_ = p.socket.submit(p.addr, due)
		p.metrics.retransmit(PacketOrdered)
	}
	p.metrics.outstanding(PacketReliable, p.reliable.Outstanding())
	p.metrics.outstanding(PacketOrdered, p.ordered.Outstanding())
	return false
}

func (p *Peer) declareDead() {
	p.state.Store(int32(PeerDead))
	p.log.Warn("peer declared unreachable")
	if p.onReceive != nil {
		p.onReceive(ReceiveEvent{Peer: p, Unreachable: true})
	}
}

// completeDrain marks a draining peer dead once every outstanding
// reliable and ordered packet has been acknowledged, without the
// synthetic Unreachable delivery declareDead sends - this is a clean
// shutdown, not a liveness failure.
func (p *Peer) completeDrain() {
	p.state.Store(int32(PeerDead))
	p.log.Debug("peer drained cleanly")
}

// beginDrain transitions the peer to PeerDraining, rejecting new sends
// while letting outstanding reliable traffic keep retransmitting for a
// bounded grace period - min(RTT * drainGraceMultiplier, drainGraceCap),
// or drainGraceCap when RTT is still zero - after which tick will declare
// the peer dead even if packets remain unacknowledged.
func (p *Peer) beginDrain() {
	for {
		cur := PeerState(p.state.Load())
		if cur == PeerDead || cur == PeerDraining {
			return
		}
		if p.state.CompareAndSwap(int32(cur), int32(PeerDraining)) {
			break
		}
	}

	grace := time.Duration(float64(p.RTT()) * drainGraceMultiplier)
	if grace <= 0 || grace > drainGraceCap {
		grace = drainGraceCap
	}
	p.mu.Lock()
	p.drainDeadlineAt = time.Now().Add(grace)
	p.mu.Unlock()
}
