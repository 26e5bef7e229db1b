package transport

import (
	"fmt"
	"log/slog"
)

// Config selects and configures a Transport backend for the CLI. It
// mirrors pkg/hostsource's Config/New factory pair.
type Config struct {
	Kind   string // "mock", "shell", "ws"
	Binary string // shell: the command-binary invoked per host
	WS     WSServerConfig
	MTLS   *MTLSConfig
}

// New creates the configured Transport. "mock" is the default, useful for
// dry runs and tests; "shell" invokes a local binary via sudo; "ws" brokers
// commands to node agents that have dialed in over a WebSocket tunnel.
func New(cfg Config, logger *slog.Logger) (Transport, error) {
	switch cfg.Kind {
	case "", "mock":
		logger.Info("transport: using mock backend")
		return NewMockTransport(), nil

	case "shell":
		if cfg.Binary == "" {
			return nil, fmt.Errorf("shell transport requires a binary path")
		}
		logger.Info("transport: using shell backend", "binary", cfg.Binary)
		return NewShellTransport(cfg.Binary), nil

	case "ws":
		if cfg.MTLS != nil {
			tlsConfig, err := ClientTLSConfig(*cfg.MTLS)
			if err != nil {
				return nil, fmt.Errorf("ws transport mtls: %w", err)
			}
			cfg.WS.TLSConfig = tlsConfig
		}
		logger.Info("transport: using websocket relay backend", "listen", cfg.WS.ListenAddr)
		return NewWSServer(cfg.WS, logger), nil

	default:
		return nil, fmt.Errorf("unknown transport kind: %q (supported: mock, shell, ws)", cfg.Kind)
	}
}
