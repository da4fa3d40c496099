package peernet

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds every tunable the transport exposes, loadable from the
// environment via LoadConfig or constructed directly with
// DefaultConfig for programmatic use.
type Config struct {
	// MaxPeers bounds the AddressPool, and therefore the number of
	// concurrently tracked remote endpoints.
	MaxPeers int `env:"PEERNET_MAX_PEERS,default=10240"`

	// SendWorkers and RecvWorkers size each Socket's worker-goroutine
	// pools.
	SendWorkers int `env:"PEERNET_SEND_WORKERS,default=4"`
	RecvWorkers int `env:"PEERNET_RECV_WORKERS,default=4"`

	// SendPoolSize and ReceivePoolSize bound the buffered channels
	// feeding the send and dispatch worker pools respectively. Neither
	// pool drops on exhaustion: submit() and the receive path both
	// re-queue by blocking until a slot frees or the socket closes.
	SendPoolSize    int `env:"PEERNET_SEND_POOL_SIZE,default=10240"`
	ReceivePoolSize int `env:"PEERNET_RECEIVE_POOL_SIZE,default=10240"`

	// MaxSockets bounds how many UDP sockets a single Transport may
	// open via OpenSocket.
	MaxSockets int `env:"PEERNET_MAX_SOCKETS,default=16"`

	// MaxDatagram sizes a Socket's send and receive buffers (each buffer
	// holds twice this many bytes, as headroom for incompressible
	// frames). The payload limit WritePayload enforces comes from the
	// package constant MaxDatagram, not from this field.
	MaxDatagram int `env:"PEERNET_MAX_DATAGRAM,default=1472"`

	// CompressionLevel selects the zstd encoder's speed/ratio tradeoff
	// on a 1 (fastest) to 4 (best compression) scale.
	CompressionLevel int `env:"PEERNET_COMPRESSION_LEVEL,default=1"`

	// RetransmitFactor and RetransmitFloor compute how long a reliable
	// or ordered packet waits unacknowledged before it is resent:
	// max(RTT * RetransmitFactor, RetransmitFloor).
	RetransmitFactor float64       `env:"PEERNET_RETRANSMIT_FACTOR,default=1.5"`
	RetransmitFloor  time.Duration `env:"PEERNET_RETRANSMIT_FLOOR,default=50ms"`

	// UnreachableAfter is how long a peer may go without any inbound
	// activity before it is declared dead, while its discovery handshake
	// is still unacknowledged or while it has unacknowledged reliable or
	// ordered packets outstanding. An idle peer with nothing outstanding
	// is not declared dead.
	UnreachableAfter time.Duration `env:"PEERNET_UNREACHABLE_AFTER,default=10s"`

	// TickInterval is how often the retransmission sweep runs across
	// every tracked peer.
	TickInterval time.Duration `env:"PEERNET_TICK_INTERVAL,default=50ms"`

	// LogLevel is parsed with logrus.ParseLevel when New builds the
	// default Sink; an unparseable value keeps the info level.
	LogLevel string `env:"PEERNET_LOG_LEVEL,default=info"`

	// LogJSON switches the default Sink to JSON-formatted output.
	LogJSON bool `env:"PEERNET_LOG_JSON,default=false"`

	// MetricsEnabled controls whether a Transport registers a
	// pnmetrics.Registry against prometheus.DefaultRegisterer.
	MetricsEnabled bool `env:"PEERNET_METRICS_ENABLED,default=true"`
}

// DefaultConfig returns a Config with the same defaults LoadConfig
// would produce from an empty environment.
func DefaultConfig() Config {
	return Config{
		MaxPeers:         10240,
		SendWorkers:      4,
		RecvWorkers:      4,
		SendPoolSize:     10240,
		ReceivePoolSize:  10240,
		MaxSockets:       16,
		MaxDatagram:      MaxDatagram,
		CompressionLevel: 1,
		RetransmitFactor: 1.5,
		RetransmitFloor:  50 * time.Millisecond,
		UnreachableAfter: 10 * time.Second,
		TickInterval:     50 * time.Millisecond,
		LogLevel:         "info",
		LogJSON:          false,
		MetricsEnabled:   true,
	}
}

// LoadConfig reads PEERNET_* environment variables into a Config,
// falling back to DefaultConfig's values for anything unset.
func LoadConfig(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) socketConfig() socketConfig {
	return socketConfig{
		SendWorkers:      c.SendWorkers,
		RecvWorkers:      c.RecvWorkers,
		SendQueueSize:    c.SendPoolSize,
		ReceiveQueueSize: c.ReceivePoolSize,
		MaxDatagram:      c.MaxDatagram,
		CompressionLevel: c.CompressionLevel,
	}
}
