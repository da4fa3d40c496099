package peernet

import (
	"testing"
	"time"
)

func makeInPacket(typ PacketType, chanID uint16, seq uint64, payload []byte) *InPacket {
	return &InPacket{Type: typ, ChannelID: chanID, SeqID: seq, Created: time.Now().UnixMicro(), Payload: payload}
}

func TestUnreliableChannelDropsReorderAndDuplicate(t *testing.T) {
	ch := newUnreliableChannel(uint16(PacketUnreliable))

	d := ch.Receive(makeInPacket(PacketUnreliable, ch.ChannelID(), 5, []byte("a")))
	if d.Kind != DeliveryPayloads || len(d.Payloads) != 1 {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if d.Ack != nil {
		t.Fatalf("unreliable channel must never request an ack, got %+v", d.Ack)
	}

	// A duplicate of the same id must not be redelivered.
	if d := ch.Receive(makeInPacket(PacketUnreliable, ch.ChannelID(), 5, []byte("a"))); d.Kind != DeliveryNone {
		t.Fatalf("duplicate id redelivered: %+v", d)
	}

	// An id at or below the highest delivered so far is a reorder and
	// must be dropped too, even though it was never seen before.
	if d := ch.Receive(makeInPacket(PacketUnreliable, ch.ChannelID(), 3, []byte("stale"))); d.Kind != DeliveryNone {
		t.Fatalf("reordered packet redelivered: %+v", d)
	}

	// A genuinely newer id still delivers.
	if d := ch.Receive(makeInPacket(PacketUnreliable, ch.ChannelID(), 6, []byte("b"))); d.Kind != DeliveryPayloads {
		t.Fatalf("newer packet not delivered: %+v", d)
	}
}

func TestReliableChannelDedupsOnLastInIDNotLastAcked(t *testing.T) {
	ch := newReliableChannel(uint16(PacketReliable))

	d1 := ch.Receive(makeInPacket(PacketReliable, ch.ChannelID(), 1, []byte("first")))
	if d1.Kind != DeliveryPayloads {
		t.Fatalf("first delivery should deliver payload, got %+v", d1)
	}
	if d1.Ack == nil || d1.Ack.SeqID != 1 {
		t.Fatalf("expected ack for seq 1, got %+v", d1.Ack)
	}

	// A retransmitted duplicate of the same packet must be re-acked but
	// not redelivered - even though nothing has been sent on our own
	// outbound side (lastAcked is still zero). Dedup must key off
	// lastInID, not lastAcked.
	d2 := ch.Receive(makeInPacket(PacketReliable, ch.ChannelID(), 1, []byte("first")))
	if d2.Kind != DeliveryNone {
		t.Fatalf("duplicate packet redelivered: %+v", d2)
	}
	if d2.Ack == nil || d2.Ack.SeqID != 1 {
		t.Fatalf("duplicate packet should still be acked, got %+v", d2.Ack)
	}
}

func TestReliableChannelOnACKRemovesOutstanding(t *testing.T) {
	ch := newReliableChannel(uint16(PacketReliable))
	out := ch.NewPacket()
	if ch.Outstanding() != 1 {
		t.Fatalf("Outstanding() = %d, want 1", ch.Outstanding())
	}

	_, matched := ch.OnACK(makeInPacket(PacketReliableACK, ch.ChannelID(), out.SeqID(), nil))
	if !matched {
		t.Fatal("expected ACK to match the outstanding packet")
	}
	if ch.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d after ACK, want 0", ch.Outstanding())
	}

	// A second ACK for the same id must not match again.
	if _, matched := ch.OnACK(makeInPacket(PacketReliableACK, ch.ChannelID(), out.SeqID(), nil)); matched {
		t.Fatal("duplicate ACK should not match twice")
	}
}

func TestOrderedChannelBuffersAndDrainsInOrder(t *testing.T) {
	ch := newReliableOrderedChannel(uint16(PacketOrdered))

	// Packet 3 arrives before packet 1 and 2 (ids are 1-based).
	d := ch.Receive(makeInPacket(PacketOrdered, ch.ChannelID(), 3, []byte("c")))
	if d.Kind != DeliveryNone {
		t.Fatalf("out-of-order packet should not deliver yet: %+v", d)
	}
	d = ch.Receive(makeInPacket(PacketOrdered, ch.ChannelID(), 1, []byte("a")))
	if d.Kind != DeliveryPayloads || len(d.Payloads) != 1 || string(d.Payloads[0]) != "a" {
		t.Fatalf("expected single delivery of 'a', got %+v", d)
	}

	d = ch.Receive(makeInPacket(PacketOrdered, ch.ChannelID(), 2, []byte("b")))
	if d.Kind != DeliveryPayloads || len(d.Payloads) != 2 {
		t.Fatalf("expected drain of 'b' and buffered 'c', got %+v", d)
	}
	if string(d.Payloads[0]) != "b" || string(d.Payloads[1]) != "c" {
		t.Fatalf("payloads out of order: %q, %q", d.Payloads[0], d.Payloads[1])
	}
}

func TestOrderedChannelCumulativeAckPurgesRun(t *testing.T) {
	ch := newReliableOrderedChannel(uint16(PacketOrdered))
	p0 := ch.NewPacket()
	p1 := ch.NewPacket()
	p2 := ch.NewPacket()
	if ch.Outstanding() != 3 {
		t.Fatalf("Outstanding() = %d, want 3", ch.Outstanding())
	}

	// The ACK frontier is exclusive: acking p1.SeqID()+1 ("I next expect
	// the packet after p1") purges everything below it, p0 and p1,
	// leaving only p2 outstanding.
	if _, matched := ch.OnACK(makeInPacket(PacketOrderedACK, ch.ChannelID(), p1.SeqID()+1, nil)); !matched {
		t.Fatal("expected cumulative ACK to match")
	}
	if ch.Outstanding() != 1 {
		t.Fatalf("Outstanding() = %d after cumulative ACK, want 1 (only p2 left)", ch.Outstanding())
	}
	_ = p0
	_ = p2
}
