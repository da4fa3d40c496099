package peernet

import "errors"

// Fatal construction-time errors. These are returned to the caller and
// never surfaced through the receive callback.
var (
	ErrAddressResolutionFailed = errors.New("peernet: address resolution failed")
	ErrAddressPoolExhausted    = errors.New("peernet: address pool exhausted")
	ErrSocketBindFailed        = errors.New("peernet: socket bind failed")
	ErrNoDefaultSocket         = errors.New("peernet: no default socket configured")
	ErrTooManySockets          = errors.New("peernet: MaxSockets already open")
)

// Runtime path errors. These are handled locally - counted, logged at
// Debug, and dropped - and must never unwind through a worker goroutine.
var (
	ErrShortHeader    = errors.New("peernet: datagram shorter than header")
	ErrUnknownType    = errors.New("peernet: unknown channel-type tag")
	ErrBadChannelID   = errors.New("peernet: invalid channel id")
	ErrDecompressFail = errors.New("peernet: decompression failed")
)

// ErrPayloadTooLarge is returned synchronously by OutPacket.WritePayload
// when the caller hands over more bytes than fit in one datagram.
var ErrPayloadTooLarge = errors.New("peernet: payload exceeds max datagram size")

// ErrPeerDraining and ErrPeerDead are returned synchronously by Peer.Send
// when the peer can no longer accept new outbound packets.
var (
	ErrPeerDraining = errors.New("peernet: peer is draining, no new sends accepted")
	ErrPeerDead     = errors.New("peernet: peer is dead")
)
