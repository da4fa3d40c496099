package peernet

import (
	"encoding/binary"
	"time"
)

// PacketType is the single-byte wire tag identifying a datagram's
// channel and role.
type PacketType byte

const (
	PacketUnreliable  PacketType = 1
	PacketReliable    PacketType = 2
	PacketReliableACK PacketType = 3
	PacketOrdered     PacketType = 4
	PacketOrderedACK  PacketType = 5
	PacketDiscovery   PacketType = 6
)

func (t PacketType) valid() bool {
	switch t {
	case PacketUnreliable, PacketReliable, PacketReliableACK, PacketOrdered, PacketOrderedACK, PacketDiscovery:
		return true
	default:
		return false
	}
}

// validChannelID reports whether id is one of the wire values a
// channel is ever addressed by: a data channel's own type tag, or
// PacketDiscovery for the handshake. ACK packets carry the channel id
// of the channel they acknowledge, never their own ACK type tag, so
// PacketReliableACK/PacketOrderedACK are deliberately not members of
// this set.
func validChannelID(id uint16) bool {
	switch PacketType(id) {
	case PacketUnreliable, PacketReliable, PacketOrdered, PacketDiscovery:
		return true
	default:
		return false
	}
}

func (t PacketType) String() string {
	switch t {
	case PacketUnreliable:
		return "unreliable"
	case PacketReliable:
		return "reliable"
	case PacketReliableACK:
		return "reliable-ack"
	case PacketOrdered:
		return "ordered"
	case PacketOrderedACK:
		return "ordered-ack"
	case PacketDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

// Wire header layout, little-endian, no padding:
//
//	type tag       1 byte
//	channel id     2 bytes
//	sequence id    4 bytes
//	creation time  8 bytes (sender's microsecond clock, echoed in ACKs)
const headerSize = 1 + 2 + 4 + 8

// MaxDatagram is the largest uncompressed wire frame this package will
// build or accept, chosen to fit inside a standard MTU UDP payload.
const MaxDatagram = 1472

// MaxPayloadSize is the largest payload WritePayload will accept.
const MaxPayloadSize = MaxDatagram - headerSize

// OutPacket is the builder-style outbound unit. It is created by a
// Channel, optionally filled with a payload, and handed to a Peer for
// sending. Once handed off it is immutable except for the bookkeeping
// fields a Socket and the retransmission sweep update concurrently.
type OutPacket struct {
	channelType PacketType
	channelID   uint16
	seqID       uint64
	createdWire int64 // microseconds since epoch, frozen at creation
	payload     []byte

	managed bool // true for fire-and-forget packets (ACKs) not held in any outstanding map

	lastSentWire atomicUint64 // microseconds since epoch, updated on every (re)send
	isSending    atomicBool
	needsDelete  atomicBool
	retransmits  atomicInt32
}

func newOutPacket(typ PacketType, channelID uint16, seqID uint64) *OutPacket {
	return &OutPacket{
		channelType: typ,
		channelID:   channelID,
		seqID:       seqID,
		createdWire: time.Now().UnixMicro(),
	}
}

// newAckPacket builds a managed, fire-and-forget ACK packet whose wire
// creation time is the acknowledged packet's own timestamp, echoed
// verbatim, rather than the moment the ACK itself is built. The
// receiving side does not read this field: its RTT sample comes from
// the creation time recorded on its own outstanding packet (see the
// channels' OnACK).
func newAckPacket(typ PacketType, channelID uint16, seqID uint64, echoCreated int64) *OutPacket {
	return &OutPacket{
		channelType: typ,
		channelID:   channelID,
		seqID:       seqID,
		createdWire: echoCreated,
		managed:     true,
	}
}

// WritePayload copies b into the packet, replacing any prior payload.
// It fails if b would push the encoded datagram past MaxDatagram.
func (p *OutPacket) WritePayload(b []byte) error {
	if len(b) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	p.payload = append(p.payload[:0:0], b...)
	return nil
}

// SeqID returns this packet's sequence id within its (peer, channel) pair.
func (p *OutPacket) SeqID() uint64 { return p.seqID }

// Type returns the packet's wire channel-type tag.
func (p *OutPacket) Type() PacketType { return p.channelType }

// CreatedAt returns the sender-side creation time recorded in the header.
func (p *OutPacket) CreatedAt() time.Time { return time.UnixMicro(p.createdWire) }

// markSent stamps the packet with the current time and bumps its
// retransmit counter, so the retransmission sweep can pace resends
// from the last send rather than the original creation.
func (p *OutPacket) markSent() {
	p.lastSentWire.Store(uint64(time.Now().UnixMicro()))
	p.retransmits.Add(1)
}

// lastSentAt returns the time this packet was last handed to a socket.
func (p *OutPacket) lastSentAt() time.Time {
	return time.UnixMicro(int64(p.lastSentWire.Load()))
}

// encode serializes the header and payload into dst, growing it if
// necessary, and returns the full frame.
func (p *OutPacket) encode(dst []byte) []byte {
	need := headerSize + len(p.payload)
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}
	dst[0] = byte(p.channelType)
	binary.LittleEndian.PutUint16(dst[1:3], p.channelID)
	binary.LittleEndian.PutUint32(dst[3:7], uint32(p.seqID))
	binary.LittleEndian.PutUint64(dst[7:15], uint64(p.createdWire))
	copy(dst[headerSize:], p.payload)
	return dst
}

// InPacket is the parser-style inbound unit produced by a receive
// worker from decompressed datagram bytes.
type InPacket struct {
	Type      PacketType
	ChannelID uint16
	SeqID     uint64
	Created   int64 // sender's microsecond clock, verbatim from the header
	Payload   []byte
}

// decodeInPacket parses a decompressed datagram into an InPacket. The
// payload slice aliases buf and must be copied by the caller if it
// outlives the worker's scratch buffer.
func decodeInPacket(buf []byte) (*InPacket, error) {
	if len(buf) < headerSize {
		return nil, ErrShortHeader
	}
	typ := PacketType(buf[0])
	if !typ.valid() {
		return nil, ErrUnknownType
	}
	chanID := binary.LittleEndian.Uint16(buf[1:3])
	if !validChannelID(chanID) {
		return nil, ErrBadChannelID
	}
	seq := binary.LittleEndian.Uint32(buf[3:7])
	created := binary.LittleEndian.Uint64(buf[7:15])
	return &InPacket{
		Type:      typ,
		ChannelID: chanID,
		SeqID:     uint64(seq),
		Created:   int64(created),
		Payload:   buf[headerSize:],
	}, nil
}
