package peernet

import "time"

// UnreliableChannel delivers packets at most once, in whatever order
// they arrive, with no ACKs and no retransmission. A packet is only
// delivered if its id is strictly greater than the highest id already
// delivered - lastInID - so a reordered duplicate or stale resend
// arriving after a newer packet is dropped rather than handed to the
// application a second time. There is no reorder buffer: unlike the
// Ordered channel, a packet that arrives ahead of where lastInID would
// predict is delivered immediately, not held back.
type UnreliableChannel struct {
	id       uint16
	nextOut  atomicUint64
	lastInID atomicUint64
}

func newUnreliableChannel(id uint16) *UnreliableChannel {
	return &UnreliableChannel{id: id}
}

func (c *UnreliableChannel) ChannelID() uint16 { return c.id }

func (c *UnreliableChannel) NewPacket() *OutPacket {
	seq := c.nextOut.Add(1)
	p := newOutPacket(PacketUnreliable, c.id, seq)
	p.managed = true
	return p
}

func (c *UnreliableChannel) Receive(in *InPacket) Delivery {
	for {
		last := c.lastInID.Load()
		if in.SeqID <= last {
			return Delivery{Kind: DeliveryNone}
		}
		if c.lastInID.CompareAndSwap(last, in.SeqID) {
			break
		}
	}
	return Delivery{Kind: DeliveryPayloads, Payloads: [][]byte{cloneBytes(in.Payload)}}
}

func (c *UnreliableChannel) OnACK(in *InPacket) (time.Duration, bool) {
	return 0, false
}

func (c *UnreliableChannel) CollectRetransmits(olderThan time.Duration) []*OutPacket {
	return nil
}

func (c *UnreliableChannel) Outstanding() int { return 0 }

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
