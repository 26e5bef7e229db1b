// WSServer tunnels commands to fleet node agents over a persistent
// outbound WebSocket connection, the way pkg/relay's Server/Tunnel/Agent
// triple did connection brokering for NAT-friendly command dispatch. It is
// a concrete, optional Transport implementation alongside the mock and the
// shell transport — spec.md excludes concrete SSH transports specifically,
// not every concrete transport.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSServerConfig configures the relay side of the WebSocket transport.
type WSServerConfig struct {
	ListenAddr string
	TLSConfig  *tls.Config
	MaxNodes   int
}

// commandEnvelope and resultEnvelope are the wire frames exchanged over
// the WebSocket connection.
type commandEnvelope struct {
	RequestID string   `json:"request_id"`
	Cmdline   []string `json:"cmdline"`
}

type resultEnvelope struct {
	RequestID string         `json:"request_id"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// tunnel is one connected node agent's live WebSocket session.
type tunnel struct {
	conn     *websocket.Conn
	mu       sync.Mutex // guards writes; gorilla connections aren't write-concurrent-safe
	pending  map[string]chan resultEnvelope
	pendMu   sync.Mutex
}

// WSServer brokers commands to connected node agents over WebSocket
// tunnels and implements Transport by routing ConnectTo/Execute calls to
// the tunnel registered for that address.
type WSServer struct {
	config WSServerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	tunnels map[string]*tunnel
}

// NewWSServer creates a relay-backed transport. Call Upgrade for each
// incoming node connection (wired into an http.Handler by the caller).
func NewWSServer(cfg WSServerConfig, logger *slog.Logger) *WSServer {
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = 1000
	}
	return &WSServer{config: cfg, logger: logger, tunnels: make(map[string]*tunnel)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Upgrade promotes an incoming HTTP request to a WebSocket tunnel for
// address and registers it. Wire this into the relay's node-connect route.
func (s *WSServer) Upgrade(w http.ResponseWriter, r *http.Request, address string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade ws connection for %s: %w", address, err)
	}
	s.RegisterConn(address, conn)
	return nil
}

// RegisterConn adopts an already-upgraded WebSocket connection as the
// tunnel for the given node address, replacing any prior tunnel for it.
func (s *WSServer) RegisterConn(address string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tunnel{conn: conn, pending: make(map[string]chan resultEnvelope)}
	s.tunnels[address] = t
	go s.readLoop(address, t)
}

func (s *WSServer) readLoop(address string, t *tunnel) {
	defer func() {
		s.mu.Lock()
		if s.tunnels[address] == t {
			delete(s.tunnels, address)
		}
		s.mu.Unlock()
	}()
	for {
		var env resultEnvelope
		if err := t.conn.ReadJSON(&env); err != nil {
			s.logger.Info("ws tunnel closed", "address", address, "error", err)
			return
		}
		t.pendMu.Lock()
		ch, ok := t.pending[env.RequestID]
		if ok {
			delete(t.pending, env.RequestID)
		}
		t.pendMu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// Initialize is a no-op; tunnels register themselves as nodes dial in.
func (s *WSServer) Initialize(_ context.Context) error { return nil }

// ConnectTo returns a Connection bound to address's existing tunnel, or a
// ConnectionError if no node has dialed in for it yet.
func (s *WSServer) ConnectTo(_ context.Context, address string) (Connection, error) {
	s.mu.RLock()
	t, ok := s.tunnels[address]
	s.mu.RUnlock()
	if !ok {
		return nil, newConnectionError(address, fmt.Errorf("no ws tunnel registered for %s", address))
	}
	return &wsConnection{address: address, tunnel: t}, nil
}

type wsConnection struct {
	address string
	tunnel  *tunnel
	seq     int
}

func (c *wsConnection) Execute(ctx context.Context, _ *slog.Logger, cmdline []string, timeout time.Duration) (Result, error) {
	c.seq++
	requestID := fmt.Sprintf("%s-%d", c.address, c.seq)

	ch := make(chan resultEnvelope, 1)
	c.tunnel.pendMu.Lock()
	c.tunnel.pending[requestID] = ch
	c.tunnel.pendMu.Unlock()

	c.tunnel.mu.Lock()
	err := c.tunnel.conn.WriteJSON(commandEnvelope{RequestID: requestID, Cmdline: cmdline})
	c.tunnel.mu.Unlock()
	if err != nil {
		return nil, newConnectionError(c.address, err)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return nil, newCommandFailed(cmdline, fmt.Errorf("%s", env.Error))
		}
		return Result(env.Result), nil
	case <-timeoutCh:
		return nil, newExecutionTimeout(cmdline, timeout)
	case <-ctx.Done():
		return nil, newConnectionError(c.address, ctx.Err())
	}
}

func (c *wsConnection) Disconnect() error { return nil }

// DialAgent runs the node-side half of the WS transport: it dials the
// relay, marshals marshals and answers commandEnvelopes with a local
// executor, and blocks until ctx is cancelled or the connection drops.
func DialAgent(ctx context.Context, url, address string, tlsConfig *tls.Config, execute func(cmdline []string) (map[string]any, error)) error {
	dialer := websocket.Dialer{TLSClientConfig: tlsConfig, HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	for {
		var env commandEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		result, err := execute(env.Cmdline)
		out := resultEnvelope{RequestID: env.RequestID, Result: result}
		if err != nil {
			out.Error = err.Error()
		}
		if err := conn.WriteJSON(out); err != nil {
			return err
		}
	}
}
