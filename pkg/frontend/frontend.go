// Package frontend implements the reference front-end's contract with the
// deploy engine: it subscribes to pkg/eventbus lifecycle events and, via a
// pause Strategy, can stall deploy.enqueue between hosts to let an operator
// confirm progress before more hosts start.
package frontend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

// HostStatus is the front-end's local view of one host's progress, kept in
// sync by subscribing to host.begin/host.end/host.abort.
type HostStatus string

const (
	StatusPending   HostStatus = "pending"
	StatusDeploying HostStatus = "deploying"
	StatusComplete  HostStatus = "complete"
	StatusAborted   HostStatus = "aborted"
)

// HostsState tracks every host's current status and pool membership, the
// input a Strategy inspects to decide whether to pause.
type HostsState struct {
	Order    []hostsource.Host
	Status   map[string]HostStatus
	Pool     map[string]string
	Complete int
}

func newHostsState(hosts []hostsource.Host) *HostsState {
	s := &HostsState{
		Order:  hosts,
		Status: make(map[string]HostStatus, len(hosts)),
		Pool:   make(map[string]string, len(hosts)),
	}
	for _, h := range hosts {
		s.Status[h.ID] = StatusPending
		s.Pool[h.ID] = h.Pool
	}
	return s
}

func (s *HostsState) mark(id string, status HostStatus) {
	if s.Status[id] != StatusComplete && s.Status[id] != StatusAborted {
		if status == StatusComplete || status == StatusAborted {
			s.Complete++
		}
	}
	s.Status[id] = status
}

// PercentComplete returns how far through the host list the deploy has
// progressed, 0-100.
func (s *HostsState) PercentComplete() int {
	if len(s.Order) == 0 {
		return 100
	}
	return (s.Complete * 100) / len(s.Order)
}

func (s *HostsState) distinctPools() int {
	seen := make(map[string]bool)
	for _, p := range s.Pool {
		seen[p] = true
	}
	return len(seen)
}

// Strategy decides when a pause point is satisfied and what strategy to run
// next. The Confirmer that picks the next strategy may return an
// AbortError to cleanly cancel the deploy.
type Strategy interface {
	Name() string
	IsComplete(state *HostsState) bool
}

// AbortError is returned by a Confirmer's ConfirmCanary or ChooseStrategy
// when the operator declines to continue.
type AbortError struct{ Reason string }

func (e *AbortError) Error() string { return e.Reason }

// FirstHost completes after exactly one host has reached a terminal state.
// cmd/fleetroll starts with it when the plan spans more than one pool.
type FirstHost struct{}

func (FirstHost) Name() string { return "first-host" }
func (FirstHost) IsComplete(state *HostsState) bool { return state.Complete >= 1 }

// Canary completes once at least one host from every distinct pool has
// begun or finished.
type Canary struct{}

func (Canary) Name() string { return "canary" }

func (Canary) IsComplete(state *HostsState) bool {
	seen := make(map[string]bool)
	for id, status := range state.Status {
		if status == StatusPending {
			continue
		}
		seen[state.Pool[id]] = true
	}
	return len(seen) >= state.distinctPools()
}

// SingleHost completes after exactly one more host finishes from the point
// it's selected.
type SingleHost struct{ startComplete int }

func NewSingleHost(state *HostsState) *SingleHost { return &SingleHost{startComplete: state.Complete} }
func (s *SingleHost) Name() string                { return "single-host" }
func (s *SingleHost) IsComplete(state *HostsState) bool {
	return state.Complete >= s.startComplete+1
}

// Percent completes once at least target percent of hosts have finished.
// NewPercent rounds target up to the next achievable step given N hosts.
type Percent struct {
	Target int
	steps  int
}

// NewPercent builds a Percent strategy, rounding target up to the nearest
// achievable step: ceil(target / (100/N)) * (100/N).
func NewPercent(target int, totalHosts int) *Percent {
	if totalHosts < 1 {
		totalHosts = 1
	}
	step := 100.0 / float64(totalHosts)
	numSteps := math.Ceil(float64(target) / step)
	rounded := int(math.Ceil(numSteps * step))
	if rounded < target {
		rounded = target
	}
	return &Percent{Target: rounded, steps: totalHosts}
}

func (p *Percent) Name() string { return fmt.Sprintf("percent-%d", p.Target) }

// IsComplete rounds the completed share up, the same way NewPercent rounds
// Target, so a target of k steps is met once k more hosts have finished.
func (p *Percent) IsComplete(state *HostsState) bool {
	n := len(state.Order)
	if n == 0 {
		return true
	}
	return (state.Complete*100+n-1)/n >= p.Target
}

// Free runs to completion with no intermediate pause.
type Free struct{}

func (Free) Name() string                      { return "free" }
func (Free) IsComplete(state *HostsState) bool { return false }

// Confirmer asks an operator whether to continue past a pause point and
// which strategy to run next. The TUI and a headless CLI prompt both
// implement this.
type Confirmer interface {
	ConfirmCanary(state *HostsState) (Strategy, error)
	ChooseStrategy(state *HostsState) (Strategy, error)
}

// Controller wires pause Strategy transitions into the deploy.enqueue
// handler the engine awaits between hosts, and prints a summary on
// deploy.end/deploy.abort. Host status updates arrive concurrently, one
// goroutine per in-flight host, so state and strategy are guarded by mu;
// cond wakes onEnqueue's wait loop whenever a host settles.
type Controller struct {
	mu        sync.Mutex
	cond      *sync.Cond
	bus       *eventbus.Bus
	confirmer Confirmer
	state     *HostsState
	strategy  Strategy
	onSummary func(string)
}

// NewController registers a Controller's handlers on bus for the given
// host order. initial is the first pause strategy; pass frontend.Free{} to
// run unattended.
func NewController(bus *eventbus.Bus, hosts []hostsource.Host, confirmer Confirmer, initial Strategy, onSummary func(string)) *Controller {
	c := &Controller{
		bus:       bus,
		confirmer: confirmer,
		state:     newHostsState(hosts),
		strategy:  initial,
		onSummary: onSummary,
	}
	c.cond = sync.NewCond(&c.mu)
	c.register()
	return c
}

func (c *Controller) register() {
	c.bus.Register("host.begin", func(ctx context.Context, p eventbus.Payload) error {
		h := p["host"].(hostsource.Host)
		c.mu.Lock()
		c.state.mark(h.ID, StatusDeploying)
		c.mu.Unlock()
		return nil
	})
	c.bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		h := p["host"].(hostsource.Host)
		c.mu.Lock()
		c.state.mark(h.ID, StatusComplete)
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil
	})
	c.bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		h := p["host"].(hostsource.Host)
		c.mu.Lock()
		c.state.mark(h.ID, StatusAborted)
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil
	})
	c.bus.Register("deploy.enqueue", c.onEnqueue)
	c.bus.Register("deploy.end", func(ctx context.Context, p eventbus.Payload) error {
		c.summarize(p, false)
		return nil
	})
	c.bus.Register("deploy.abort", func(ctx context.Context, p eventbus.Payload) error {
		c.summarize(p, true)
		return nil
	})
}

// deployingCount returns how many hosts are currently mid-deploy. Callers
// must hold mu.
func (c *Controller) deployingCount() int {
	n := 0
	for _, status := range c.state.Status {
		if status == StatusDeploying {
			n++
		}
	}
	return n
}

// onEnqueue is the handler the engine awaits before moving to the next
// host; blocking here is what implements pausing between hosts. It never
// touches the engine's own per-host completion channel (that channel is
// drained exactly once, by the engine's own closing aggregation loop, and
// reading it here too would starve whichever side reads second). Instead
// it waits on host.begin/host.end/host.abort updates already tracked in
// state, per spec: once the active strategy is satisfied, wait for every
// currently deploying host to settle before prompting.
func (c *Controller) onEnqueue(ctx context.Context, p eventbus.Payload) error {
	c.mu.Lock()
	if c.strategy == nil || !c.strategy.IsComplete(c.state) {
		c.mu.Unlock()
		return nil
	}
	for c.deployingCount() > 0 {
		c.cond.Wait()
	}
	strategy := c.strategy
	c.mu.Unlock()

	var next Strategy
	var err error
	if _, isCanary := strategy.(Canary); isCanary {
		next, err = c.confirmer.ConfirmCanary(c.state)
	} else {
		next, err = c.confirmer.ChooseStrategy(c.state)
	}
	if err != nil {
		if abortErr, ok := err.(*AbortError); ok {
			p["abort"] = abortErr.Reason
			return nil
		}
		p["abort"] = err.Error()
		return nil
	}
	c.mu.Lock()
	c.strategy = next
	c.mu.Unlock()
	return nil
}

func (c *Controller) summarize(p eventbus.Payload, aborted bool) {
	if c.onSummary == nil {
		return
	}
	pct := c.state.PercentComplete()
	if aborted {
		reason, _ := p["reason"].(string)
		c.onSummary(fmt.Sprintf("deploy aborted at %d%% complete: %s", pct, reason))
		return
	}
	c.onSummary(fmt.Sprintf("deploy finished: %d%% complete across %d hosts", pct, len(c.state.Order)))
}

// orderedPoolSizes is used by callers building a FirstHost/Canary decision
// to describe the plan's pool shape in prompts.
func orderedPoolSizes(state *HostsState) []string {
	counts := make(map[string]int)
	for _, p := range state.Pool {
		counts[p]++
	}
	names := make([]string, 0, len(counts))
	for p := range counts {
		names = append(names, p)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, p := range names {
		out = append(out, fmt.Sprintf("%s(%d)", p, counts[p]))
	}
	return out
}
