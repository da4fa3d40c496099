package peernet

import "time"

// ReliableChannel guarantees eventual delivery of every packet sent,
// but not their arrival order: each packet gets its own ACK and is
// retransmitted independently until acknowledged or the peer is
// declared unreachable.
//
// Receive-side dedup compares an inbound id against lastInID, the
// highest id actually delivered upward - never against lastAcked,
// which only ever reflects what the *remote* side has acknowledged
// about packets *we* sent. Conflating those two counters is the classic
// way to end up acking a packet as "already seen" when it has in fact
// never been delivered.
type ReliableChannel struct {
	baseChannel
}

func newReliableChannel(id uint16) *ReliableChannel {
	return &ReliableChannel{baseChannel: newBaseChannel(id)}
}

func (c *ReliableChannel) NewPacket() *OutPacket {
	c.outMu.Lock()
	c.nextOut++
	seq := c.nextOut
	c.outMu.Unlock()

	p := newOutPacket(PacketReliable, c.id, seq)
	c.track(p)
	return p
}

func (c *ReliableChannel) Receive(in *InPacket) Delivery {
	ack := &AckRequest{Type: PacketReliableACK, ChannelID: c.id, SeqID: in.SeqID, Echo: in.Created}

	if in.SeqID <= c.lastInID.Load() {
		// Already delivered; our prior ACK for it must have been lost or
		// delayed. Re-ack without re-delivering to the application.
		return Delivery{Kind: DeliveryNone, Ack: ack}
	}
	c.lastInID.Store(in.SeqID)
	return Delivery{Kind: DeliveryPayloads, Payloads: [][]byte{cloneBytes(in.Payload)}, Ack: ack}
}

func (c *ReliableChannel) OnACK(in *InPacket) (time.Duration, bool) {
	c.outMu.Lock()
	p, ok := c.outbox[in.SeqID]
	if ok {
		if p.isSending.Load() {
			// Still in flight in a send worker; flag for the next
			// collectRetransmits pass to reap once it goes idle instead
			// of deleting it out from under that worker.
			p.needsDelete.Store(true)
		} else {
			delete(c.outbox, in.SeqID)
		}
	}
	c.outMu.Unlock()
	if !ok {
		return 0, false
	}
	if in.SeqID > c.lastAcked.Load() {
		c.lastAcked.Store(in.SeqID)
	}
	return time.Since(p.CreatedAt()), true
}

func (c *ReliableChannel) CollectRetransmits(olderThan time.Duration) []*OutPacket {
	return c.collectRetransmits(olderThan)
}
