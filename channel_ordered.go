package peernet

import (
	"sync"
	"time"
)

// ReliableOrderedChannel guarantees both eventual delivery and strict
// in-order delivery. Packets arriving ahead of the expected sequence
// are held in a reorder buffer until the gap closes; the ACK sent back
// always carries the cumulative frontier - the next id still expected,
// not a per-packet ACK - so the sender can purge a whole run of
// outstanding packets from a single ACK.
type ReliableOrderedChannel struct {
	baseChannel

	inMu    sync.Mutex
	nextIn  uint64
	pending map[uint64][]byte
}

func newReliableOrderedChannel(id uint16) *ReliableOrderedChannel {
	return &ReliableOrderedChannel{
		baseChannel: newBaseChannel(id),
		pending:     make(map[uint64][]byte),
		nextIn:      1,
	}
}

func (c *ReliableOrderedChannel) NewPacket() *OutPacket {
	c.outMu.Lock()
	c.nextOut++
	seq := c.nextOut
	c.outMu.Unlock()

	p := newOutPacket(PacketOrdered, c.id, seq)
	c.track(p)
	return p
}

func (c *ReliableOrderedChannel) Receive(in *InPacket) Delivery {
	c.inMu.Lock()

	if in.SeqID < c.nextIn {
		// Already drained past this id.
		frontier := c.nextIn
		c.inMu.Unlock()
		return Delivery{Kind: DeliveryNone, Ack: c.ackAt(frontier, in.Created)}
	}

	var payloads [][]byte
	if in.SeqID == c.nextIn {
		payloads = append(payloads, cloneBytes(in.Payload))
		c.nextIn++
		for {
			buf, ok := c.pending[c.nextIn]
			if !ok {
				break
			}
			payloads = append(payloads, buf)
			delete(c.pending, c.nextIn)
			c.nextIn++
		}
	} else {
		if _, dup := c.pending[in.SeqID]; !dup {
			c.pending[in.SeqID] = cloneBytes(in.Payload)
		}
	}
	frontier := c.nextIn
	c.inMu.Unlock()

	ack := c.ackAt(frontier, in.Created)
	if len(payloads) == 0 {
		return Delivery{Kind: DeliveryNone, Ack: ack}
	}
	return Delivery{Kind: DeliveryPayloads, Payloads: payloads, Ack: ack}
}

func (c *ReliableOrderedChannel) ackAt(frontier uint64, echo int64) *AckRequest {
	return &AckRequest{Type: PacketOrderedACK, ChannelID: c.id, SeqID: frontier, Echo: echo}
}

func (c *ReliableOrderedChannel) OnACK(in *InPacket) (time.Duration, bool) {
	advanced := false
	if in.SeqID > c.lastAcked.Load() {
		c.lastAcked.Store(in.SeqID)
		advanced = true
	}
	if !advanced {
		return 0, false
	}

	// The ACK's SeqID is the exclusive frontier (next id the remote still
	// expects), so the most recently confirmed packet is frontier-1, not
	// an outbox entry keyed by in.SeqID itself.
	var rtt time.Duration
	if in.SeqID > 0 {
		c.outMu.Lock()
		if p, ok := c.outbox[in.SeqID-1]; ok {
			rtt = time.Since(p.CreatedAt())
		}
		c.outMu.Unlock()
	}

	c.purgeAcked()
	return rtt, true
}

func (c *ReliableOrderedChannel) CollectRetransmits(olderThan time.Duration) []*OutPacket {
	return c.collectRetransmits(olderThan)
}
