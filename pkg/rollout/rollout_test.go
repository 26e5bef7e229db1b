package rollout

import (
	"context"
	"testing"
	"time"

	"github.com/fleetroll/fleetroll/pkg/command"
	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
	"github.com/fleetroll/fleetroll/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHosts() []hostsource.Host {
	return []hostsource.Host{
		{ID: "1", Name: "web-a1", Address: "10.0.0.1", Pool: "web"},
		{ID: "2", Name: "web-a2", Address: "10.0.0.2", Pool: "web"},
	}
}

func TestRunDeploy_HappyPath(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Responses["10.0.0.1"] = []transport.Result{{}}
	mt.Responses["10.0.0.2"] = []transport.Result{{}}

	store := hostsource.NewMemoryStore()
	for _, h := range testHosts() {
		store.Register(h)
	}

	bus := eventbus.New(nil)
	var events []string
	for _, ev := range []string{"deploy.begin", "host.begin", "host.end", "deploy.end"} {
		ev := ev
		bus.Register(ev, func(ctx context.Context, p eventbus.Payload) error {
			events = append(events, ev)
			return nil
		})
	}

	engine := New(store, mt, bus, Config{Parallelism: 2, Timeout: time.Second}, nil)
	err := engine.RunDeploy(context.Background(), testHosts(), nil, []command.Command{command.NewRestart("all")})
	require.NoError(t, err)

	assert.Contains(t, events, "deploy.begin")
	assert.Contains(t, events, "deploy.end")
	assert.NotContains(t, events, "deploy.abort")
}

func TestRunDeploy_PrecheckAbortStopsBeforeDispatch(t *testing.T) {
	mt := transport.NewMockTransport()
	store := hostsource.NewMemoryStore()
	bus := eventbus.New(nil)
	bus.Register("deploy.precheck", func(ctx context.Context, p eventbus.Payload) error {
		p["abort"] = "maintenance window"
		return nil
	})
	dispatched := false
	bus.Register("host.begin", func(ctx context.Context, p eventbus.Payload) error {
		dispatched = true
		return nil
	})

	engine := New(store, mt, bus, Config{Parallelism: 1}, nil)
	err := engine.RunDeploy(context.Background(), testHosts(), nil, nil)

	require.Error(t, err)
	var abortErr *AbortDeploy
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, "maintenance window", abortErr.Reason)
	assert.False(t, dispatched)
}

func TestRunDeploy_HostTransportFailureAbortsOnlyThatHost(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.FailConnect["10.0.0.1"] = assert.AnError
	mt.Responses["10.0.0.2"] = []transport.Result{{}}

	store := hostsource.NewMemoryStore()
	for _, h := range testHosts() {
		store.Register(h)
	}

	bus := eventbus.New(nil)
	var aborted, succeeded []string
	bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		h := p["host"].(hostsource.Host)
		aborted = append(aborted, h.ID)
		return nil
	})
	bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		h := p["host"].(hostsource.Host)
		succeeded = append(succeeded, h.ID)
		return nil
	})

	engine := New(store, mt, bus, Config{Parallelism: 2, Timeout: time.Second}, nil)
	err := engine.RunDeploy(context.Background(), testHosts(), nil, []command.Command{command.NewRestart("all")})

	require.NoError(t, err, "a single host transport failure must not abort the whole deploy")
	assert.Equal(t, []string{"1"}, aborted)
	assert.Equal(t, []string{"2"}, succeeded)
}

func TestRunDeploy_DeployCheckResultSkipsRemaining(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Responses["10.0.0.1"] = []transport.Result{
		{"svc": "repo_unchanged"},
	}

	store := hostsource.NewMemoryStore()
	store.Register(testHosts()[0])

	bus := eventbus.New(nil)
	var commandsRun int
	bus.Register("host.command", func(ctx context.Context, p eventbus.Payload) error {
		commandsRun++
		return nil
	})

	engine := New(store, mt, bus, Config{Parallelism: 1, Timeout: time.Second}, nil)
	err := engine.RunDeploy(context.Background(), []hostsource.Host{testHosts()[0]}, nil, []command.Command{
		command.NewDeploy([]string{"svc@t1"}),
		command.NewRestart("all"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, commandsRun, "restart must be skipped once deploy reports no change")
}

func TestRunDeploy_BuildPhaseBucketsByBuildhost(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Responses["codehost"] = []transport.Result{
		{"svc": map[string]any{"token": "sync1", "buildhost": "builder-1"}},
	}
	mt.Responses["builder-1"] = []transport.Result{
		{"svc@sync1": "deploy1"},
	}
	mt.Responses["10.0.0.1"] = []transport.Result{{}}

	store := hostsource.NewMemoryStore()
	store.Register(testHosts()[0])

	bus := eventbus.New(nil)
	var deployArgs []string
	bus.Register("host.command", func(ctx context.Context, p eventbus.Payload) error {
		cmdline := p["cmdline"].([]string)
		if cmdline[0] == "deploy" {
			deployArgs = cmdline[1:]
		}
		return nil
	})

	engine := New(store, mt, bus, Config{Parallelism: 1, Timeout: time.Second, CodeHost: "codehost"}, nil)
	err := engine.RunDeploy(context.Background(), []hostsource.Host{testHosts()[0]}, []string{"svc"}, nil)

	require.NoError(t, err)
	require.Len(t, deployArgs, 1)
	assert.Equal(t, "svc@deploy1", deployArgs[0])
}

func TestRunDeploy_ComponentNotBuiltAbortsDeploy(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Responses["codehost"] = []transport.Result{
		{"svc": map[string]any{"token": "sync1", "buildhost": "builder-1"}},
	}
	mt.Responses["builder-1"] = []transport.Result{{}}

	store := hostsource.NewMemoryStore()
	store.Register(testHosts()[0])
	bus := eventbus.New(nil)

	engine := New(store, mt, bus, Config{Parallelism: 1, Timeout: time.Second, CodeHost: "codehost"}, nil)
	err := engine.RunDeploy(context.Background(), []hostsource.Host{testHosts()[0]}, []string{"svc"}, nil)

	require.Error(t, err)
	var deployErr *DeployError
	require.ErrorAs(t, err, &deployErr)
}

func TestIdempotencyKey_StableAcrossHostOrder(t *testing.T) {
	a := idempotencyKey([]hostsource.Host{{ID: "2"}, {ID: "1"}}, []string{"b", "a"})
	b := idempotencyKey([]hostsource.Host{{ID: "1"}, {ID: "2"}}, []string{"a", "b"})
	assert.Equal(t, a, b)
}
