package peernet

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/peernet-go/peernet/pnlog"
	"github.com/peernet-go/peernet/pnmetrics"
)

// Transport is the top-level facade: it owns the Address pool, the
// peer table, every opened Socket, and the background tick loop that
// drives retransmission and peer-liveness detection across all of
// them. Application code talks to peernet exclusively through a
// Transport.
type Transport struct {
	cfg Config
	log pnlog.Sink

	addrs *AddressPool

	peersMu sync.RWMutex
	peers   map[string]*Peer

	socketsMu     sync.Mutex
	sockets       []*Socket
	defaultSocket *Socket

	socketMetrics *socketMetrics
	peerMetrics   *peerMetrics

	onReceive ReceiveCallback

	tickStop chan struct{}
	tickWG   sync.WaitGroup
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithLogger overrides the default pnlog Sink.
func WithLogger(sink pnlog.Sink) Option {
	return func(t *Transport) { t.log = sink }
}

// WithReceiveCallback registers the function invoked for every
// delivered application payload and every peer-unreachable event.
func WithReceiveCallback(cb ReceiveCallback) Option {
	return func(t *Transport) { t.onReceive = cb }
}

// New constructs a Transport from cfg. It does not open any sockets;
// call OpenSocket at least once before sending.
func New(cfg Config, opts ...Option) (*Transport, error) {
	logOpts := pnlog.DefaultOptions()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logOpts.Level = lvl
	}
	logOpts.JSON = cfg.LogJSON
	t := &Transport{
		cfg:      cfg,
		log:      pnlog.New(logOpts),
		addrs:    NewAddressPool(cfg.MaxPeers),
		peers:    make(map[string]*Peer),
		tickStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.MetricsEnabled {
		reg := pnmetrics.New(nil)
		t.socketMetrics = newSocketMetrics(reg)
		t.peerMetrics = newPeerMetrics(reg)
	}

	t.tickWG.Add(1)
	go t.tickLoop()
	return t, nil
}

// OpenSocket binds a new UDP socket on the given local address
// ("host:port", or ":0" for an ephemeral port) and starts its worker
// pools. The first socket opened becomes the default socket unless
// SetDefaultSocket is called explicitly.
func (t *Transport) OpenSocket(bindAddr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, errors.Wrap(ErrSocketBindFailed, err.Error())
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(ErrSocketBindFailed, err.Error())
	}

	sock := newSocket(conn, t.cfg.socketConfig(), t.dispatch, t.socketMetrics, t.log)

	t.socketsMu.Lock()
	if len(t.sockets) >= t.cfg.MaxSockets {
		t.socketsMu.Unlock()
		_ = sock.Close()
		return nil, ErrTooManySockets
	}
	t.sockets = append(t.sockets, sock)
	if t.defaultSocket == nil {
		t.defaultSocket = sock
	}
	t.socketsMu.Unlock()

	t.log.WithField("local", sock.LocalAddr().String()).Info("socket opened")
	return sock, nil
}

// SetDefaultSocket chooses which opened Socket GetPeer and inbound
// dispatch use when creating a Peer for a newly seen remote address.
func (t *Transport) SetDefaultSocket(s *Socket) {
	t.socketsMu.Lock()
	t.defaultSocket = s
	t.socketsMu.Unlock()
}

// GetPeer returns the existing Peer for host:port, creating it (and
// starting its discovery handshake over the default socket) if this
// is the first time this transport has seen that address.
func (t *Transport) GetPeer(host, port string) (*Peer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, ErrAddressResolutionFailed
	}
	return t.getOrCreatePeer(udpAddr.String(), func() (*Address, error) {
		return t.addrs.Resolve(host, port)
	})
}

func (t *Transport) getOrCreatePeer(key string, resolve func() (*Address, error)) (*Peer, error) {
	t.peersMu.RLock()
	p, ok := t.peers[key]
	t.peersMu.RUnlock()
	if ok {
		return p, nil
	}

	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	if p, ok := t.peers[key]; ok {
		return p, nil
	}

	addr, err := resolve()
	if err != nil {
		return nil, err
	}

	t.socketsMu.Lock()
	sock := t.defaultSocket
	t.socketsMu.Unlock()
	if sock == nil {
		t.addrs.Release(addr)
		return nil, ErrNoDefaultSocket
	}

	p = newPeer(addr, sock, t.peerMetrics, t.onReceive, t.log)
	t.peers[key] = p

	discovery := p.beginDiscovery()
	if err := sock.submit(addr, discovery); err != nil {
		t.log.WithError(err).WithField("remote", key).Debug("failed to send initial discovery packet")
	}
	return p, nil
}

// dispatch resolves an inbound raw UDP address to its Peer - allocating
// an Address slot only the first time this remote is seen, creating a
// Peer if this is the remote side of a discovery handshake we didn't
// initiate - and forwards the datagram to it.
func (t *Transport) dispatch(raddr *net.UDPAddr, in *InPacket) {
	key := raddr.String()
	p, err := t.getOrCreatePeer(key, func() (*Address, error) { return t.addrs.Adopt(raddr) })
	if err != nil {
		t.log.WithError(err).Debug("failed to resolve peer for inbound datagram")
		return
	}
	p.onInbound(in)
}

func (t *Transport) tickLoop() {
	defer t.tickWG.Done()
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.tickStop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Transport) tick() {
	t.peersMu.RLock()
	snapshot := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		snapshot = append(snapshot, p)
	}
	t.peersMu.RUnlock()

	stateCounts := map[PeerState]int{}
	var dead []*Peer
	for _, p := range snapshot {
		if p.tick(t.cfg.RetransmitFactor, t.cfg.RetransmitFloor, t.cfg.UnreachableAfter) {
			dead = append(dead, p)
		}
		stateCounts[p.State()]++
	}
	for state, n := range stateCounts {
		t.peerMetrics.peersByState(state, n)
	}

	if len(dead) > 0 {
		t.peersMu.Lock()
		for _, p := range dead {
			delete(t.peers, p.Address().String())
		}
		t.peersMu.Unlock()
		for _, p := range dead {
			t.addrs.Release(p.Address())
		}
	}
}

// Shutdown transitions every tracked peer to draining, waits (bounded
// by ctx and each peer's own capped grace period) for the tick loop to
// actually finish draining them, then stops the tick loop and closes
// every opened Socket concurrently, returning the first error
// encountered.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.peersMu.RLock()
	for _, p := range t.peers {
		p.beginDrain()
	}
	t.peersMu.RUnlock()

	t.waitForDrain(ctx)

	close(t.tickStop)
	t.tickWG.Wait()

	t.socketsMu.Lock()
	sockets := append([]*Socket(nil), t.sockets...)
	t.socketsMu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sockets {
		s := s
		g.Go(func() error {
			return s.Close()
		})
	}
	return g.Wait()
}

// waitForDrain blocks until every peer still in PeerDraining has been
// torn down by the tick loop - either because its outstanding traffic
// finished acknowledging or its grace period expired - or until ctx is
// done, whichever comes first. The tick loop is what actually advances
// peer state here; this only polls for it to have happened.
func (t *Transport) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		t.peersMu.RLock()
		draining := 0
		for _, p := range t.peers {
			if p.State() == PeerDraining {
				draining++
			}
		}
		t.peersMu.RUnlock()
		if draining == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
