package peernet

import (
	"net"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// sendJob is one unit of work handed to a send worker: an already
// built OutPacket destined for a specific Address.
type sendJob struct {
	addr *Address
	out  *OutPacket
}

// dispatchJob is a parsed, decompressed inbound datagram waiting for a
// dispatch worker to hand it to onInbound.
type dispatchJob struct {
	raddr *net.UDPAddr
	in    *InPacket
}

// InboundHandler receives a parsed datagram together with the raw UDP
// address it arrived from. The Socket has no notion of a Peer or an
// Address slot; the Transport owns turning raddr into an Address
// (allocating one only the first time a given remote is seen) and
// dispatching to the right Peer.
type InboundHandler func(raddr *net.UDPAddr, in *InPacket)

// Socket owns one UDP endpoint: the OS socket, a pool of send, receive
// and dispatch worker goroutines, and the per-worker zstd codecs each
// uses to compress outbound and decompress inbound datagrams.
//
// There is no registered-I/O or completion-queue mechanism available
// to portable Go the way the original's RIO-based socket used - the
// sync.Pool buffer pools plus fixed worker-goroutine pools reading
// and writing the same *net.UDPConn concurrently is the idiomatic Go
// substitute: the conn itself already safely serializes concurrent
// reads and concurrent writes, so no completion key dispatch is
// needed at all.
type Socket struct {
	conn *net.UDPConn
	log  logrus.FieldLogger

	sendBufPool sync.Pool
	recvBufPool sync.Pool

	sendCh     chan sendJob
	dispatchCh chan dispatchJob

	onInbound InboundHandler

	metrics *socketMetrics

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// socketConfig bundles the Socket tunables taken from Config, kept
// separate from the top-level Config so Socket can be unit tested
// without pulling in env parsing.
type socketConfig struct {
	SendWorkers      int
	RecvWorkers      int
	SendQueueSize    int
	ReceiveQueueSize int
	MaxDatagram      int
	CompressionLevel int
}

// compressionLevel maps the small integer scale Config.CompressionLevel
// exposes onto zstd's named encoder speed/ratio presets, the same
// presets the original fixed choice of SpeedFastest was drawn from.
func compressionLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level == 2:
		return zstd.SpeedDefault
	case level == 3:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func newSocket(conn *net.UDPConn, cfg socketConfig, onInbound InboundHandler, metrics *socketMetrics, log logrus.FieldLogger) *Socket {
	maxDatagram := cfg.MaxDatagram
	if maxDatagram <= 0 {
		maxDatagram = MaxDatagram
	}

	s := &Socket{
		conn:       conn,
		log:        log,
		sendCh:     make(chan sendJob, cfg.SendQueueSize),
		dispatchCh: make(chan dispatchJob, cfg.ReceiveQueueSize),
		onInbound:  onInbound,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
	// Two independent pools, not one shared between directions: a send
	// worker compressing a large outbound frame and a receive worker
	// decompressing an inbound one must never contend over the same
	// buffers.
	s.sendBufPool.New = func() any {
		b := make([]byte, maxDatagram*2) // headroom for the rare incompressible frame
		return &b
	}
	s.recvBufPool.New = func() any {
		b := make([]byte, maxDatagram*2)
		return &b
	}

	level := compressionLevel(cfg.CompressionLevel)

	for i := 0; i < cfg.SendWorkers; i++ {
		s.wg.Add(1)
		go s.sendWorker(level)
	}
	for i := 0; i < cfg.RecvWorkers; i++ {
		s.wg.Add(1)
		go s.recvWorker()
	}
	for i := 0; i < cfg.RecvWorkers; i++ {
		s.wg.Add(1)
		go s.dispatchWorker()
	}
	return s
}

// submit enqueues a packet for transmission. A full send pool never
// drops the packet: it is re-queued by blocking on the same channel
// until a worker frees a slot or the socket closes, the same
// backpressure a bounded send window applies to a writer rather than
// discarding unsent data.
func (s *Socket) submit(addr *Address, out *OutPacket) error {
	job := sendJob{addr: addr, out: out}
	out.isSending.Store(true)

	select {
	case s.sendCh <- job:
		return nil
	case <-s.stopCh:
		out.isSending.Store(false)
		return errors.New("peernet: socket closed")
	default:
	}

	s.metrics.sendPoolExhausted()
	s.log.WithField("remote", addr.String()).Debug("send pool exhausted, re-queuing")

	select {
	case s.sendCh <- job:
		return nil
	case <-s.stopCh:
		out.isSending.Store(false)
		return errors.New("peernet: socket closed")
	}
}

func (s *Socket) sendWorker(level zstd.EncoderLevel) {
	defer s.wg.Done()
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		s.log.WithError(err).Error("failed to build zstd encoder, send worker exiting")
		return
	}
	defer enc.Close()

	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.sendCh:
			s.sendOne(enc, job)
		}
	}
}

func (s *Socket) sendOne(enc *zstd.Encoder, job sendJob) {
	// Completion clears is-sending so a concurrent retransmission sweep
	// can pick the packet back up; a managed (fire-and-forget) packet
	// gets needs-delete set before is-sending clears (defers run last
	// registered first), so a sweep never observes is-sending already
	// clear on a managed packet that isn't yet marked for reaping.
	defer job.out.isSending.Store(false)
	if job.out.managed {
		defer job.out.needsDelete.Store(true)
	}

	bufPtr := s.sendBufPool.Get().(*[]byte)
	defer s.sendBufPool.Put(bufPtr)

	frame := job.out.encode((*bufPtr)[:0])
	compressed := enc.EncodeAll(frame, nil)

	if _, err := s.conn.WriteToUDP(compressed, job.addr.UDPAddr()); err != nil {
		s.metrics.sendError()
		s.log.WithError(err).WithField("remote", job.addr.String()).Debug("write failed")
		return
	}
	s.metrics.packetSent(job.out.Type())
}

func (s *Socket) recvWorker() {
	defer s.wg.Done()
	dec, err := zstd.NewReader(nil)
	if err != nil {
		s.log.WithError(err).Error("failed to build zstd decoder, recv worker exiting")
		return
	}
	defer dec.Close()

	bufPtr := s.recvBufPool.Get().(*[]byte)
	defer s.recvBufPool.Put(bufPtr)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, raddr, err := s.conn.ReadFromUDP(*bufPtr)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.metrics.recvError()
			continue
		}

		decompressed, err := dec.DecodeAll((*bufPtr)[:n], nil)
		if err != nil {
			s.metrics.dropDecompressFail()
			s.log.WithError(err).Debug("decompress failed, dropping datagram")
			continue
		}

		in, err := decodeInPacket(decompressed)
		if err != nil {
			if err == ErrBadChannelID {
				s.metrics.dropBadChannelID()
			} else {
				s.metrics.dropBadHeader()
			}
			s.log.WithError(err).Debug("header decode failed, dropping datagram")
			continue
		}

		s.metrics.packetRecv(in.Type)
		s.deliver(raddr, in)
	}
}

// deliver hands a parsed packet to the dispatch worker pool. It
// applies the same re-queue-not-drop backpressure submit does: a full
// dispatch pool means a slow ReceiveCallback is lagging, not that the
// packet should be discarded, and blocking here (rather than inline
// in recvWorker's ReadFromUDP loop) is what actually buys the
// decoupling - a stalled callback no longer stalls the UDP read loop
// until the dispatch pool itself backs all the way up.
func (s *Socket) deliver(raddr *net.UDPAddr, in *InPacket) {
	job := dispatchJob{raddr: raddr, in: in}

	select {
	case s.dispatchCh <- job:
		return
	case <-s.stopCh:
		return
	default:
	}

	s.metrics.recvPoolExhausted()
	select {
	case s.dispatchCh <- job:
	case <-s.stopCh:
	}
}

func (s *Socket) dispatchWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.dispatchCh:
			s.onInbound(job.raddr, job.in)
		}
	}
}

// Close stops every worker goroutine and closes the underlying
// connection. It blocks until all workers have exited.
func (s *Socket) Close() error {
	close(s.stopCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// LocalAddr returns the bound local UDP address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
