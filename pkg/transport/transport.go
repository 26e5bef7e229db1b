// Package transport opens command channels to hosts and executes structured
// commands against them with timeouts. The deploy engine depends only on
// this interface; concrete transports (a local shell runner and a
// WebSocket-tunneled relay) live alongside it as pluggable implementations.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Error is the base TransportError kind. ConnectionError, CommandFailed,
// and ExecutionTimeout are its subkinds below. Transport errors are never
// retried by the engine; they are demoted per-host via ShouldBeAlive.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// ConnectionError means opening the command channel failed.
type ConnectionError struct{ Error }

// CommandFailed means the remote command reported non-zero status, a
// signal, or a malformed response.
type CommandFailed struct {
	Error
	Cmdline []string
}

// ExecutionTimeout means timeout > 0 elapsed with no result.
type ExecutionTimeout struct {
	Error
	Timeout time.Duration
}

func newConnectionError(address string, cause error) *ConnectionError {
	return &ConnectionError{Error{Op: "connect to " + address, Cause: cause}}
}

func newCommandFailed(cmdline []string, cause error) *CommandFailed {
	return &CommandFailed{Error{Op: "execute", Cause: cause}, cmdline}
}

func newExecutionTimeout(cmdline []string, timeout time.Duration) *ExecutionTimeout {
	return &ExecutionTimeout{Error{Op: "execute", Cause: fmt.Errorf("%v elapsed running %v", timeout, cmdline)}, timeout}
}

// Result is the structured JSON-compatible map a command execution returns.
type Result map[string]any

// Connection is a single command channel opened against one host. The
// engine runs a host's full command sequence on one Connection, then
// disconnects.
type Connection interface {
	// Execute sends one command and waits for its structured result.
	// timeout == 0 means no timeout.
	Execute(ctx context.Context, logger *slog.Logger, cmdline []string, timeout time.Duration) (Result, error)
	// Disconnect closes the channel. Safe to call once.
	Disconnect() error
}

// Transport opens Connections to hosts by address.
type Transport interface {
	// Initialize performs one-time setup (e.g. loading credentials).
	Initialize(ctx context.Context) error
	// ConnectTo opens a command channel to address.
	ConnectTo(ctx context.Context, address string) (Connection, error)
}
