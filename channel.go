package peernet

import (
	"sync"
	"time"
)

// DeliveryKind tells the Peer what a Channel's receive produced.
type DeliveryKind int

const (
	// DeliveryNone means the inbound packet was fully consumed internally
	// (e.g. a bare ACK) and nothing should be handed to the application.
	DeliveryNone DeliveryKind = iota
	// DeliveryPayloads means Payloads holds zero or more application
	// messages ready for in delivery order.
	DeliveryPayloads
)

// AckRequest is returned by a Channel when an inbound data packet
// requires an outbound ACK to be sent back to the same peer.
type AckRequest struct {
	Type      PacketType
	ChannelID uint16
	SeqID     uint64
	Echo      int64 // sender's creation time, echoed back verbatim in the ACK header
}

// Delivery is what a Channel's receive path hands back to the Peer.
type Delivery struct {
	Kind     DeliveryKind
	Payloads [][]byte
	Ack      *AckRequest
}

// Channel is the per-peer, per-reliability-mode packet pipeline. Each
// Peer owns exactly one of each concrete Channel. A Channel never
// touches the network directly - it only builds OutPackets and
// interprets InPackets, leaving transmission to the Peer and Socket.
type Channel interface {
	// ChannelID reports the wire channel-type tag this channel speaks.
	ChannelID() uint16

	// NewPacket allocates the next outbound OutPacket in this channel's
	// sequence and tracks it if the channel needs to retransmit it.
	NewPacket() *OutPacket

	// Receive interprets an inbound packet addressed to this channel,
	// updating any internal bookkeeping (ordering buffers, ACK state)
	// and returning what should happen next.
	Receive(in *InPacket) Delivery

	// OnACK processes an inbound ACK for a packet this channel sent.
	// It returns the packet's round-trip time if the ACK matched an
	// outstanding packet still awaiting acknowledgement.
	OnACK(in *InPacket) (rtt time.Duration, matched bool)

	// CollectRetransmits returns outstanding packets whose age exceeds
	// the given threshold, for the Peer's retransmission sweep to resend.
	CollectRetransmits(olderThan time.Duration) []*OutPacket

	// Outstanding reports the number of sent-but-unacknowledged packets.
	Outstanding() int
}

// baseChannel holds the bookkeeping shared by the Reliable and
// ReliableOrdered channels: an outbound sequence counter, a map of
// packets still awaiting ACK, and the inbound dedup counters. The
// Unreliable channel does not embed this - it has no retransmission
// or dedup state at all.
type baseChannel struct {
	id uint16

	outMu   sync.Mutex
	nextOut uint64
	outbox  map[uint64]*OutPacket

	// lastInID is the highest inbound sequence id the Reliable channel
	// has delivered to the application; the Ordered channel tracks its
	// inbound side with its own nextIn instead and leaves this unused.
	// lastAcked records what the *remote* peer has acknowledged from us:
	// the highest acked id for the Reliable channel, the exclusive
	// cumulative frontier for the Ordered channel. These must never be compared
	// against each other's counterpart channel: dedup on receive reads
	// lastInID, and ACK-side purge reads lastAcked. Conflating the two
	// lets a stale reliable resend be misread as already-acked.
	lastInID  atomicUint64
	lastAcked atomicUint64
}

func newBaseChannel(id uint16) baseChannel {
	return baseChannel{
		id:     id,
		outbox: make(map[uint64]*OutPacket),
	}
}

func (c *baseChannel) ChannelID() uint16 { return c.id }

func (c *baseChannel) Outstanding() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return len(c.outbox)
}

// track records a freshly built outbound packet as outstanding.
func (c *baseChannel) track(p *OutPacket) {
	c.outMu.Lock()
	c.outbox[p.seqID] = p
	c.outMu.Unlock()
}

// purgeAcked removes every outstanding packet strictly below the
// latest cumulative ACK frontier (lastAcked holds the next id the
// remote peer still expects, so ids < lastAcked are all confirmed
// delivered). Only the Ordered channel uses this; the Reliable channel
// ACKs one packet per id and deletes it directly in OnACK.
//
// A packet whose is-sending flag is still set is mid-flight in a send
// worker right now; purging it out from under that worker would race
// the worker's own bookkeeping, so it is left in place with
// needs-delete set instead, and reaped the next time
// collectRetransmits runs and finds is-sending clear.
func (c *baseChannel) purgeAcked() {
	bound := c.lastAcked.Load()
	c.outMu.Lock()
	for id, p := range c.outbox {
		if id >= bound {
			continue
		}
		if p.isSending.Load() {
			p.needsDelete.Store(true)
			continue
		}
		delete(c.outbox, id)
	}
	c.outMu.Unlock()
}

// collectRetransmits returns a copy of every outstanding packet older
// than the threshold, skipping packets already queued or in flight
// (is-sending set) and reaping any packet an ACK arrived for while it
// was mid-flight (needs-delete set, now idle).
func (c *baseChannel) collectRetransmits(olderThan time.Duration) []*OutPacket {
	cutoff := time.Now().Add(-olderThan)
	c.outMu.Lock()
	defer c.outMu.Unlock()
	var due []*OutPacket
	for id, p := range c.outbox {
		if p.isSending.Load() {
			continue
		}
		if p.needsDelete.Load() {
			delete(c.outbox, id)
			continue
		}
		if p.lastSentAt().Before(cutoff) {
			due = append(due, p)
		}
	}
	return due
}
