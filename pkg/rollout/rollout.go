// Package rollout implements the deploy engine: the orchestration state
// machine that runs a precheck, drives a build phase against a code-host,
// fans per-host command sequences out under a parallelism budget, paces
// dispatch with an inter-host sleep, and reports lifecycle events to an
// event bus. It knows nothing about how hosts are chosen or ordered (see
// pkg/hostlist) or how an operator pauses between hosts (see
// pkg/frontend) — both are wired in purely through the event bus.
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fleetroll/fleetroll/pkg/command"
	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
	"github.com/fleetroll/fleetroll/pkg/resilience"
	"github.com/fleetroll/fleetroll/pkg/transport"
)

// deployWords is a short, human-memorable vocabulary used to name a deploy
// run for correlation across logs, audit entries, and metrics labels,
// rather than a raw UUID appearing in every line an operator has to read.
var deployWords = []string{
	"aurora", "basalt", "cobalt", "delta", "ember", "fjord", "granite",
	"harbor", "indigo", "jasper", "kestrel", "lumen", "meridian", "nimbus",
	"opal", "pioneer", "quartz", "ridge", "summit", "tundra",
}

// newDeployWord derives a deterministic-length but unpredictable deploy
// word from a fresh UUID, so concurrent deploys never collide.
func newDeployWord() string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", deployWords[int(id[0])%len(deployWords)], id.String()[:8])
}

// Config holds the per-deploy tuning knobs the engine is constructed with.
type Config struct {
	Parallelism     int           // P, semaphore capacity, >= 1
	Sleep           time.Duration // S, inter-host pacing between dispatches
	Timeout         time.Duration // T, per-command timeout; 0 means none
	DangerouslyFast bool          // skip the post-restart ready-wait
	CodeHost        string        // address synchronize/build run against
}

// DeployResult pairs a command with the remote result it produced.
type DeployResult struct {
	Command command.Command
	Result  command.Result
}

// HostOutcome is the terminal state recorded for one host once its future
// settles.
type HostOutcome struct {
	Host          hostsource.Host
	Result        string // "success" or "aborted"
	ShouldBeAlive bool
	Results       []DeployResult
}

// Engine drives one deploy at a time: precheck, build phase, per-host
// fan-out, terminal event.
type Engine struct {
	hostSource hostsource.HostSource
	transport  transport.Transport
	bus        *eventbus.Bus
	config     Config
	logger     *slog.Logger

	bulkhead    *resilience.Bulkhead
	breaker     *resilience.CircuitBreaker
	buildLimit  *resilience.RateLimiter
	idempotency *resilience.IdempotencyController
}

// New constructs a deploy engine. hostSource is consulted only for
// shouldBeAlive classification on host failure; fleet resolution and
// ordering happen upstream in pkg/hostlist.
func New(hostSource hostsource.HostSource, tp transport.Transport, bus *eventbus.Bus, config Config, logger *slog.Logger) *Engine {
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hostSource: hostSource,
		transport:  tp,
		bus:        bus,
		config:     config,
		logger:     logger,
		bulkhead: resilience.NewBulkhead("rollout.hosts", config.Parallelism),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "rollout.codehost",
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				bus.Trigger(context.Background(), "circuit.state_change", eventbus.Payload{
					"name": name, "from": from.String(), "to": to.String(),
				})
			},
		}),
		buildLimit:  resilience.NewRateLimiter(4, 4),
		idempotency: resilience.NewIdempotencyController(10*time.Minute, logger),
	}
}

// CircuitBreakerState reports the health of the engine's code-host circuit
// breaker, for wiring into a readiness check.
func (e *Engine) CircuitBreakerState() resilience.CircuitState {
	return e.breaker.State()
}

// RunDeploy runs hosts through commands, prefixed by a synthesized build
// phase if components is non-empty. Re-running with the same host set and
// component list within the idempotency window returns the cached outcome
// instead of dispatching twice.
func (e *Engine) RunDeploy(ctx context.Context, hosts []hostsource.Host, components []string, commands []command.Command) error {
	key := idempotencyKey(hosts, components)
	_, err := e.idempotency.Execute(key, func() (any, error) {
		return nil, e.runDeploy(ctx, hosts, components, commands)
	})
	return err
}

func (e *Engine) runDeploy(ctx context.Context, hosts []hostsource.Host, components []string, commands []command.Command) error {
	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	word := newDeployWord()

	var abortReason atomic.Value
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			abortReason.Store(signalReason(sig))
			cancel()
		case <-schedCtx.Done():
		}
	}()

	// Step A: precheck. A subscriber aborts by setting payload["abort"].
	precheck := eventbus.Payload{"deploy_word": word}
	e.bus.Trigger(schedCtx, "deploy.precheck", precheck)
	if reason, ok := precheck["abort"].(string); ok {
		e.bus.Trigger(ctx, "deploy.abort", eventbus.Payload{"reason": reason, "deploy_word": word})
		return &AbortDeploy{Reason: reason}
	}

	// Step B: transport init.
	if err := e.transport.Initialize(schedCtx); err != nil {
		deployErr := &DeployError{Reason: "transport initialize failed", Cause: err}
		e.bus.Trigger(ctx, "deploy.abort", eventbus.Payload{"reason": deployErr.Error(), "deploy_word": word})
		return deployErr
	}

	// Step D.
	e.bus.Trigger(schedCtx, "deploy.begin", eventbus.Payload{"hosts": len(hosts), "components": components, "deploy_word": word})

	// Step E: build phase.
	if len(components) > 0 {
		built, err := e.buildPhase(schedCtx, word, components, commands)
		if err != nil {
			e.bus.Trigger(ctx, "deploy.abort", eventbus.Payload{"reason": err.Error(), "deploy_word": word})
			return err
		}
		commands = built
	}

	// Step F: per-host fan-out. The dispatch loop is the single cooperative
	// scheduler; processHost itself runs in a goroutine per host, bounded by
	// the bulkhead. Already-dispatched hosts always run to completion even
	// if schedCtx is cancelled mid-loop, because processHost is handed the
	// caller's ctx, not schedCtx.
	futures := make([]chan *HostOutcome, 0, len(hosts))
	for i, host := range hosts {
		if schedCtx.Err() != nil {
			break
		}
		if i > 0 {
			if err := e.sleepCountdown(schedCtx, word, host); err != nil {
				break
			}
		}

		done := make(chan *HostOutcome, 1)
		futures = append(futures, done)
		go func(host hostsource.Host) {
			var outcome *HostOutcome
			_ = e.bulkhead.Execute(ctx, func() error {
				outcome = e.processHost(ctx, word, host, commands)
				return nil
			})
			done <- outcome
		}(host)

		// "done" is deliberately not included here: it's drained exactly
		// once, by this function's own closing aggregation loop below.
		// Subscribers that want per-host completion watch host.end/
		// host.abort instead (see pkg/frontend's Controller).
		enqueue := eventbus.Payload{"host": host, "deploy_word": word}
		e.bus.Trigger(schedCtx, "deploy.enqueue", enqueue)
		if reason, ok := enqueue["abort"].(string); ok {
			abortReason.Store(reason)
			cancel()
		}
	}

	outcomes := make([]*HostOutcome, 0, len(futures))
	for _, f := range futures {
		outcomes = append(outcomes, <-f)
	}

	if v := abortReason.Load(); v != nil {
		reason := v.(string)
		e.bus.Trigger(ctx, "deploy.abort", eventbus.Payload{"reason": reason, "outcomes": outcomes, "deploy_word": word})
		return &AbortDeploy{Reason: reason}
	}

	e.bus.Trigger(ctx, "deploy.end", eventbus.Payload{"outcomes": outcomes, "deploy_word": word})
	return nil
}

// sleepCountdown emits deploy.sleep once per second, counting down from S,
// each emission followed by a one-second wait.
func (e *Engine) sleepCountdown(ctx context.Context, word string, host hostsource.Host) error {
	remaining := int(e.config.Sleep.Seconds())
	for ; remaining > 0; remaining-- {
		e.bus.Trigger(ctx, "deploy.sleep", eventbus.Payload{"host": host, "count": remaining, "deploy_word": word})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// processHost runs commands against host in order, stopping early if a
// command's CheckResult reports SkipRemaining. Transport failures abort
// only this host.
func (e *Engine) processHost(ctx context.Context, word string, host hostsource.Host, commands []command.Command) *HostOutcome {
	e.bus.Trigger(ctx, "host.begin", eventbus.Payload{"host": host, "deploy_word": word})

	conn, err := e.transport.ConnectTo(ctx, host.Address)
	if err != nil {
		return e.abortHost(ctx, word, host, err)
	}

	var results []DeployResult
	for _, cmd := range commands {
		e.bus.Trigger(ctx, "host.command", eventbus.Payload{"host": host, "cmdline": cmd.Cmdline(), "deploy_word": word})
		raw, err := conn.Execute(ctx, e.logger, cmd.Cmdline(), e.config.Timeout)
		if err != nil {
			conn.Disconnect()
			return e.abortHost(ctx, word, host, err)
		}
		result := command.Result(raw)
		results = append(results, DeployResult{Command: cmd, Result: result})
		if cmd.CheckResult(result) == command.SkipRemaining {
			break
		}
	}
	conn.Disconnect()

	e.bus.Trigger(ctx, "host.end", eventbus.Payload{"host": host, "results": results, "deploy_word": word})
	return &HostOutcome{Host: host, Result: "success", ShouldBeAlive: true, Results: results}
}

func (e *Engine) abortHost(ctx context.Context, word string, host hostsource.Host, cause error) *HostOutcome {
	alive := e.hostSource.ShouldBeAlive(ctx, host)
	if alive {
		e.logger.Error("host deploy aborted", "host", host.ID, "deploy_word", word, "error", cause)
	} else {
		e.logger.Warn("host deploy aborted", "host", host.ID, "deploy_word", word, "error", cause)
	}
	e.bus.Trigger(ctx, "host.abort", eventbus.Payload{"host": host, "error": cause.Error(), "should_be_alive": alive, "deploy_word": word})
	// The HostDeployError built here is discarded: it is neither returned
	// nor stored. host.abort and the "aborted" HostOutcome are what callers
	// see of this failure.
	_ = newHostDeployError(host.ID, cause)
	return &HostOutcome{Host: host, Result: "aborted", ShouldBeAlive: alive}
}

// buildPhase runs synchronize against the code-host, buckets the resulting
// components by buildhost, runs build against each bucket, and returns
// commands with a synthesized deploy command prepended (and, unless
// dangerouslyFast, a wait-until-components-ready appended after any
// restart command).
func (e *Engine) buildPhase(ctx context.Context, word string, components []string, commands []command.Command) ([]command.Command, error) {
	e.bus.Trigger(ctx, "build.begin", eventbus.Payload{"components": components, "deploy_word": word})

	syncResult, err := e.runOnSyntheticHost(ctx, e.config.CodeHost, command.NewSynchronize(components))
	if err != nil {
		return nil, &DeployError{Reason: "unexpected error in sync/build", Cause: err}
	}
	e.bus.Trigger(ctx, "build.sync", eventbus.Payload{"syncInfo": syncResult, "deploy_word": word})

	deployArgs := make([]string, 0, len(components))
	buckets := make(map[string][]string)
	bucketComponents := make(map[string][]string)
	var bucketOrder []string

	for name, raw := range syncResult {
		info, _ := raw.(map[string]any)
		token, _ := info["token"].(string)
		buildhost, _ := info["buildhost"].(string)
		if buildhost == "" {
			deployArgs = append(deployArgs, fmt.Sprintf("%s@%s", name, token))
			continue
		}
		if _, ok := buckets[buildhost]; !ok {
			bucketOrder = append(bucketOrder, buildhost)
		}
		buckets[buildhost] = append(buckets[buildhost], fmt.Sprintf("%s@%s", name, token))
		bucketComponents[buildhost] = append(bucketComponents[buildhost], name)
	}

	for _, buildhost := range bucketOrder {
		if err := e.buildLimit.Wait(ctx); err != nil {
			return nil, &DeployError{Reason: "unexpected error in sync/build", Cause: err}
		}
		refs := buckets[buildhost]
		buildResult, err := e.runOnSyntheticHost(ctx, buildhost, command.NewBuild(refs))
		if err != nil {
			return nil, &DeployError{Reason: "unexpected error in sync/build", Cause: err}
		}
		for i, ref := range refs {
			deployToken, ok := buildResult[ref].(string)
			if !ok {
				notBuilt := &command.ComponentNotBuiltError{Component: bucketComponents[buildhost][i]}
				return nil, &DeployError{Reason: "unexpected error in sync/build", Cause: notBuilt}
			}
			deployArgs = append(deployArgs, fmt.Sprintf("%s@%s", bucketComponents[buildhost][i], deployToken))
		}
	}

	if !e.config.DangerouslyFast {
		for _, cmd := range commands {
			if command.IsRestart(cmd) {
				commands = append(commands, command.NewWaitUntilComponentsReady())
				break
			}
		}
	}

	out := append([]command.Command{command.NewDeploy(deployArgs)}, commands...)
	e.bus.Trigger(ctx, "build.end", eventbus.Payload{"deploy_word": word})
	return out, nil
}

// runOnSyntheticHost connects to address (the code-host or a buildhost,
// neither of which is a fleet member) and executes cmd, guarded by a
// circuit breaker so a flapping code-host fails fast on subsequent hosts
// in the same build phase instead of hanging every bucket in turn.
func (e *Engine) runOnSyntheticHost(ctx context.Context, address string, cmd command.Command) (command.Result, error) {
	var result command.Result
	err := e.breaker.Execute(func() error {
		conn, err := e.transport.ConnectTo(ctx, address)
		if err != nil {
			return err
		}
		defer conn.Disconnect()
		r, err := conn.Execute(ctx, e.logger, cmd.Cmdline(), e.config.Timeout)
		if err != nil {
			return err
		}
		result = command.Result(r)
		return nil
	})
	return result, err
}

func idempotencyKey(hosts []hostsource.Host, components []string) string {
	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}
	sort.Strings(ids)
	sorted := append([]string{}, components...)
	sort.Strings(sorted)
	return strings.Join(ids, ",") + "|" + strings.Join(sorted, ",")
}

func signalReason(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return signalMessages["SIGINT"]
	case syscall.SIGHUP:
		return signalMessages["SIGHUP"]
	default:
		return fmt.Sprintf("received %v", sig)
	}
}
