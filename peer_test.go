package peernet

import (
	"net"
	"testing"
	"time"

	"github.com/peernet-go/peernet/pnlog"
)

func newTestPeerPair(t *testing.T) (*Peer, *Socket) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	sock := newSocket(conn, socketConfig{SendWorkers: 1, RecvWorkers: 1, SendQueueSize: 8, ReceiveQueueSize: 8, MaxDatagram: MaxDatagram, CompressionLevel: 1}, func(*net.UDPAddr, *InPacket) {}, nil, pnlog.Noop())
	t.Cleanup(func() { _ = sock.Close() })

	pool := NewAddressPool(4)
	addr, err := pool.Resolve("127.0.0.1", "9"); // discard port, never actually dialed in this test
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	peer := newPeer(addr, sock, nil, nil, pnlog.Noop())
	return peer, sock
}

func TestDiscoveryAckDoesNotCollideWithReliableChannel(t *testing.T) {
	peer, _ := newTestPeerPair(t)

	if peer.State() != PeerProbing {
		t.Fatalf("new peer state = %v, want Probing", peer.State())
	}

	// A genuine Reliable-channel ACK sharing the same wire type and the
	// same numeric id as the pending discovery packet must not be
	// mistaken for the discovery handshake completing, and must not be
	// swallowed by the discovery special-case either way - it should
	// reach the Reliable channel's own OnACK.
	// The first packet on any channel is sequence 1, matching
	// discoverySeqID directly without needing to burn an id first.
	reliableOut := peer.reliable.NewPacket()
	if reliableOut.SeqID() != peer.discoverySeqID {
		t.Fatalf("test setup requires colliding ids: reliable=%d discovery=%d", reliableOut.SeqID(), peer.discoverySeqID)
	}

	peer.onInbound(&InPacket{Type: PacketReliableACK, ChannelID: uint16(PacketReliable), SeqID: reliableOut.SeqID(), Created: time.Now().UnixMicro()})

	if peer.discoveryAcked.Load() {
		t.Fatal("a Reliable channel ACK must not be consumed as the discovery ACK")
	}
	if peer.reliable.Outstanding() != 0 {
		t.Fatal("the Reliable channel ACK should have cleared its own outstanding packet")
	}
}

func TestDiscoveryAckEstablishesPeer(t *testing.T) {
	peer, _ := newTestPeerPair(t)

	peer.onInbound(&InPacket{Type: PacketReliableACK, ChannelID: uint16(PacketDiscovery), SeqID: peer.discoverySeqID, Created: time.Now().UnixMicro()})

	if !peer.discoveryAcked.Load() {
		t.Fatal("discovery ack was not recognized")
	}
	if peer.State() != PeerEstablished {
		t.Fatalf("state = %v, want Established", peer.State())
	}
}

func TestRTTSmoothingConverges(t *testing.T) {
	peer, _ := newTestPeerPair(t)

	peer.sampleRTT(100 * time.Millisecond)
	if peer.RTT() != 100*time.Millisecond {
		t.Fatalf("first sample should set RTT directly, got %v", peer.RTT())
	}

	for i := 0; i < 50; i++ {
		peer.sampleRTT(50 * time.Millisecond)
	}
	if got := peer.RTT(); got > 55*time.Millisecond || got < 45*time.Millisecond {
		t.Fatalf("RTT did not converge toward steady samples: got %v", got)
	}
}

func TestCheckSendableRejectsDrainingAndDead(t *testing.T) {
	peer, _ := newTestPeerPair(t)

	peer.beginDrain()
	if _, err := peer.NewReliable(); err != ErrPeerDraining {
		t.Fatalf("got %v, want ErrPeerDraining", err)
	}

	peer.state.Store(int32(PeerDead))
	if _, err := peer.NewReliable(); err != ErrPeerDead {
		t.Fatalf("got %v, want ErrPeerDead", err)
	}
}
