package natsbridge

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/avlonitis/synapse/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bridge runs the embedded NATS server that carries mesh traffic to
// out-of-process consumers: event mirrors, IPC for the stask tool, and
// request-reply generation.
type Bridge struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bridge, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bridge{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bridge) ClientURL() string {
	return b.server.ClientURL()
}

// Port returns the bound port, resolving port 0 to the actual listener.
func (b *Bridge) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return b.cfg.Port
}

func (b *Bridge) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
