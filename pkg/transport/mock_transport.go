package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MockTransport is an in-memory transport for tests and demos: connecting
// and executing never touch the network. Per-host and per-command
// responses are scripted in advance, mirroring the reference mock
// transport's role of letting deploy fixtures run without real hosts.
type MockTransport struct {
	mu sync.Mutex

	// Responses maps an address to the sequence of results its commands
	// should return, one per Execute call, in order.
	Responses map[string][]Result

	// FailConnect, if set, names addresses whose ConnectTo should fail.
	FailConnect map[string]error

	// FailExecute, if set, names addresses whose next Execute call should
	// fail instead of returning a scripted response.
	FailExecute map[string]error

	initialized bool
	calls       []string
}

// NewMockTransport creates an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses:   make(map[string][]Result),
		FailConnect: make(map[string]error),
		FailExecute: make(map[string]error),
	}
}

// Initialize marks the transport ready; it never fails.
func (t *MockTransport) Initialize(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = true
	return nil
}

// ConnectTo returns a scripted connection, or the configured error.
func (t *MockTransport) ConnectTo(_ context.Context, address string) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.FailConnect[address]; ok {
		return nil, newConnectionError(address, err)
	}
	return &mockConnection{transport: t, address: address}, nil
}

// Calls returns the cmdlines executed so far, in call order, for assertions.
func (t *MockTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

type mockConnection struct {
	transport *MockTransport
	address   string
	disc      bool
}

func (c *mockConnection) Execute(_ context.Context, _ *slog.Logger, cmdline []string, timeout time.Duration) (Result, error) {
	t := c.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, fmt.Sprintf("%s: %v", c.address, cmdline))

	if err, ok := t.FailExecute[c.address]; ok {
		delete(t.FailExecute, c.address)
		return nil, newCommandFailed(cmdline, err)
	}

	queue := t.Responses[c.address]
	if len(queue) == 0 {
		return Result{}, nil
	}
	result := queue[0]
	t.Responses[c.address] = queue[1:]
	return result, nil
}

func (c *mockConnection) Disconnect() error {
	c.disc = true
	return nil
}
