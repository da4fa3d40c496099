package peernet

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/peernet-go/peernet/pnlog"
)

func newTestTransport(t *testing.T) (*Transport, chan ReceiveEvent) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	cfg.TickInterval = 10 * time.Millisecond
	cfg.RetransmitFloor = 30 * time.Millisecond
	cfg.UnreachableAfter = 2 * time.Second

	received := make(chan ReceiveEvent, 64)
	tp, err := New(cfg, WithLogger(pnlog.Noop()), WithReceiveCallback(func(ev ReceiveEvent) {
		received <- ev
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	})
	return tp, received
}

func waitForEvent(t *testing.T, ch chan ReceiveEvent, timeout time.Duration) ReceiveEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for receive event")
		return ReceiveEvent{}
	}
}

func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q): %v", addr, err)
	}
	return host, port
}

func TestTransportUnreliableLoopbackDelivery(t *testing.T) {
	a, _ := newTestTransport(t)
	b, bReceived := newTestTransport(t)

	if _, err := a.OpenSocket("127.0.0.1:0"); err != nil {
		t.Fatalf("a.OpenSocket: %v", err)
	}
	bSock, err := b.OpenSocket("127.0.0.1:0")
	if err != nil {
		t.Fatalf("b.OpenSocket: %v", err)
	}

	host, port := splitHostPort(t, bSock.LocalAddr().String())
	peer, err := a.GetPeer(host, port)
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}

	out, err := peer.NewUnreliable()
	if err != nil {
		t.Fatalf("NewUnreliable: %v", err)
	}
	if err := out.WritePayload([]byte("ping")); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}
	if err := peer.Send(out); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitForEvent(t, bReceived, 2*time.Second)
	if string(ev.Payload) != "ping" {
		t.Fatalf("payload = %q, want %q", ev.Payload, "ping")
	}
}

func TestTransportReliableLoopbackDelivery(t *testing.T) {
	a, _ := newTestTransport(t)
	b, bReceived := newTestTransport(t)

	if _, err := a.OpenSocket("127.0.0.1:0"); err != nil {
		t.Fatalf("a.OpenSocket: %v", err)
	}
	bSock, err := b.OpenSocket("127.0.0.1:0")
	if err != nil {
		t.Fatalf("b.OpenSocket: %v", err)
	}

	host, port := splitHostPort(t, bSock.LocalAddr().String())
	peer, err := a.GetPeer(host, port)
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}

	out, err := peer.NewReliable()
	if err != nil {
		t.Fatalf("NewReliable: %v", err)
	}
	if err := out.WritePayload([]byte("reliable-hello")); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}
	if err := peer.Send(out); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitForEvent(t, bReceived, 2*time.Second)
	if string(ev.Payload) != "reliable-hello" {
		t.Fatalf("payload = %q, want %q", ev.Payload, "reliable-hello")
	}

	// The sender's own outstanding entry should clear once B's ACK
	// round-trips back, without the test having to wait for a
	// retransmission timeout.
	deadline := time.Now().Add(2 * time.Second)
	for peer.reliable.Outstanding() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reliable packet never acked, Outstanding() = %d", peer.reliable.Outstanding())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTransportOrderedLoopbackPreservesOrder(t *testing.T) {
	a, _ := newTestTransport(t)
	b, bReceived := newTestTransport(t)

	if _, err := a.OpenSocket("127.0.0.1:0"); err != nil {
		t.Fatalf("a.OpenSocket: %v", err)
	}
	bSock, err := b.OpenSocket("127.0.0.1:0")
	if err != nil {
		t.Fatalf("b.OpenSocket: %v", err)
	}

	host, port := splitHostPort(t, bSock.LocalAddr().String())
	peer, err := a.GetPeer(host, port)
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		out, err := peer.NewOrdered()
		if err != nil {
			t.Fatalf("NewOrdered[%d]: %v", i, err)
		}
		if err := out.WritePayload([]byte{byte(i)}); err != nil {
			t.Fatalf("WritePayload[%d]: %v", i, err)
		}
		if err := peer.Send(out); err != nil {
			t.Fatalf("Send[%d]: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		ev := waitForEvent(t, bReceived, 2*time.Second)
		if len(ev.Payload) != 1 || ev.Payload[0] != byte(i) {
			t.Fatalf("delivery %d out of order: got %v, want [%d]", i, ev.Payload, i)
		}
	}
}

func TestTransportShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	cfg.TickInterval = 10 * time.Millisecond

	tp, err := New(cfg, WithLogger(pnlog.Noop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tp.OpenSocket("127.0.0.1:0"); err != nil {
		t.Fatalf("OpenSocket: %v", err)
	}

	// Start a reliable exchange against an address that will never
	// answer, so retransmissions are actually in flight when Shutdown
	// is called.
	peer, err := tp.GetPeer("127.0.0.1", "1")
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}
	out, err := peer.NewReliable()
	if err != nil {
		t.Fatalf("NewReliable: %v", err)
	}
	_ = out.WritePayload([]byte("never acked"))
	_ = peer.Send(out)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
