// Command peernetdemo opens a single socket, dials an optional remote
// peer, and logs every delivered payload until interrupted. It exists
// to exercise the transport end-to-end, not as an application
// framework - there is deliberately no message-type registry or
// factory pattern here; payload interpretation is left to callers of
// the library.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peernet-go/peernet"
	"github.com/peernet-go/peernet/pnlog"
)

func main() {
	bind := flag.String("bind", ":9412", "local address to bind")
	dialHost := flag.String("dial-host", "", "remote host to discover on startup")
	dialPort := flag.String("dial-port", "9412", "remote port to discover on startup")
	flag.Parse()

	log := pnlog.New(pnlog.DefaultOptions())

	cfg, err := peernet.LoadConfig(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	tp, err := peernet.New(cfg,
		peernet.WithLogger(log),
		peernet.WithReceiveCallback(func(ev peernet.ReceiveEvent) {
			if ev.Unreachable {
				log.WithField("peer", ev.Peer.Address().String()).Warn("peer unreachable")
				return
			}
			log.WithFields(map[string]any{
				"peer":    ev.Peer.Address().String(),
				"channel": ev.ChannelID,
				"bytes":   len(ev.Payload),
			}).Info("payload delivered")
		}),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to construct transport")
	}

	sock, err := tp.OpenSocket(*bind)
	if err != nil {
		log.WithError(err).Fatal("failed to open socket")
	}
	log.WithField("local", sock.LocalAddr().String()).Info("listening")

	if *dialHost != "" {
		peer, err := tp.GetPeer(*dialHost, *dialPort)
		if err != nil {
			log.WithError(err).Fatal("failed to start discovery")
		}
		log.WithField("peer", peer.Address().String()).Info("discovery started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
		os.Exit(1)
	}
	log.Info("stopped")
}
