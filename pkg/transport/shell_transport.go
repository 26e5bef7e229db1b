// ShellTransport is the reference concrete Transport: it invokes
// "sudo <command-binary> <address> <argv...>" after the spec's §6 reference
// remote invocation, for a single-box or same-host demo deploy. It is not
// a network transport — Connection.Execute runs the command locally via
// os/exec, the same execution style as the teacher's local shell executor,
// adapted to the deploy engine's Connection contract instead of a
// LocalExecutor one-shot call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ShellTransport runs commands locally through sudo <binary> <address> <argv...>.
type ShellTransport struct {
	// Binary is the command-binary invoked for every command, e.g.
	// "/usr/local/bin/fleetroll-agent".
	Binary string
}

// NewShellTransport creates a ShellTransport invoking binary for every command.
func NewShellTransport(binary string) *ShellTransport {
	return &ShellTransport{Binary: binary}
}

// Initialize is a no-op; there is no credential loading for a local sudo call.
func (t *ShellTransport) Initialize(_ context.Context) error { return nil }

// ConnectTo returns a connection bound to address; address is passed
// through to the binary as an extra argument so the agent knows which
// logical host it is acting as.
func (t *ShellTransport) ConnectTo(_ context.Context, address string) (Connection, error) {
	return &shellConnection{binary: t.Binary, address: address}, nil
}

type shellConnection struct {
	binary  string
	address string
}

// Execute runs "sudo <binary> <address> <cmdline...>" and parses its
// stdout as a single JSON object result.
func (c *shellConnection) Execute(ctx context.Context, logger *slog.Logger, cmdline []string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append([]string{c.binary, c.address}, cmdline...)
	cmd := exec.CommandContext(runCtx, "sudo", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if logger != nil {
		logger.Debug("executing remote command", "address", c.address, "cmdline", cmdline)
	}

	err := cmd.Run()
	if runCtx.Err() != nil {
		return nil, newExecutionTimeout(cmdline, timeout)
	}
	if err != nil {
		return nil, newCommandFailed(cmdline, fmt.Errorf("%w: %s", err, stderr.String()))
	}

	if stdout.Len() == 0 {
		return Result{}, nil
	}
	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, newCommandFailed(cmdline, fmt.Errorf("malformed response: %w", err))
	}
	return result, nil
}

func (c *shellConnection) Disconnect() error { return nil }
