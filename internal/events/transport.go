package events

import (
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

// subjectPrefix namespaces every event subject so the embedded server can
// be shared with other subsystems in the future without collision.
const subjectPrefix = "orchestrator.events."

func subjectFor(target string) string {
	if target == "" || target == TargetAll {
		return subjectPrefix + TargetAll
	}
	return subjectPrefix + target
}

// TransportConfig configures the embedded NATS server backing the bus.
type TransportConfig struct {
	Port int // 0 -> nats-server's default 4222; -1 -> an ephemeral port, used by tests
}

// Transport owns an embedded NATS server and a single internal client
// connection used by the Bus to publish and subscribe. Grounded in the
// teacher's internal/nats.EmbeddedServer, trimmed to what the bus needs
// (no JetStream, no external client tracking).
type Transport struct {
	mu      sync.RWMutex
	srv     *natsserver.Server
	conn    *nats.Conn
	running bool
}

// NewTransport constructs and starts an embedded NATS server plus an
// internal connection to it.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	port := cfg.Port
	if port == 0 {
		port = 4222 // nats-server default
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("embedded nats server not ready for connections")
	}

	conn, err := nats.Connect(srv.ClientURL(),
		nats.ReconnectWait(200*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	return &Transport{srv: srv, conn: conn, running: true}, nil
}

// Shutdown drains the internal connection and stops the embedded server.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}

	if t.conn != nil {
		t.conn.Drain()
		t.conn.Close()
	}
	if t.srv != nil {
		t.srv.Shutdown()
		t.srv.WaitForShutdown()
	}
	t.running = false
}

// URL returns the embedded server's client connection URL.
func (t *Transport) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.srv.ClientURL()
}
