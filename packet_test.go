package peernet

import (
	"bytes"
	"testing"
)

func TestOutPacketEncodeDecodeRoundTrip(t *testing.T) {
	out := newOutPacket(PacketReliable, uint16(PacketReliable), 42)
	if err := out.WritePayload([]byte("hello world")); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}

	frame := out.encode(nil)

	in, err := decodeInPacket(frame)
	if err != nil {
		t.Fatalf("decodeInPacket: %v", err)
	}
	if in.Type != PacketReliable {
		t.Errorf("Type = %v, want %v", in.Type, PacketReliable)
	}
	if in.SeqID != 42 {
		t.Errorf("SeqID = %d, want 42", in.SeqID)
	}
	if in.Created != out.createdWire {
		t.Errorf("Created = %d, want %d", in.Created, out.createdWire)
	}
	if !bytes.Equal(in.Payload, []byte("hello world")) {
		t.Errorf("Payload = %q, want %q", in.Payload, "hello world")
	}
}

func TestWritePayloadRejectsOversize(t *testing.T) {
	out := newOutPacket(PacketUnreliable, uint16(PacketUnreliable), 1)
	big := make([]byte, MaxPayloadSize+1)
	if err := out.WritePayload(big); err != ErrPayloadTooLarge {
		t.Fatalf("WritePayload oversize: got %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeInPacketShortHeader(t *testing.T) {
	_, err := decodeInPacket([]byte{1, 2, 3})
	if err != ErrShortHeader {
		t.Fatalf("got %v, want ErrShortHeader", err)
	}
}

func TestDecodeInPacketUnknownType(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[0] = 0xFF
	_, err := decodeInPacket(buf)
	if err != ErrUnknownType {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
}
