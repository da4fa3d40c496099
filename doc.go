// Package peernet implements a peer-to-peer datagram transport over UDP
// that layers three reliability modes - unreliable, reliable and
// reliable-ordered - on independent per-peer channels, with per-message
// zstd compression and a worker-pool-driven send/receive pipeline.
//
// The transport is built for low-latency interactive workloads: the
// application chooses a reliability mode per message instead of paying
// for ordering and retransmission on every packet.
package peernet
