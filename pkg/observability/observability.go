// Package observability provides Prometheus metrics and structured tracing
// for a running fleetroll deploy engine. Metrics are registered against a
// caller-supplied prometheus.Registerer so they can be garbage collected
// between deploys rather than accumulating on the global default registry.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

// durationBuckets covers the range a single host's command execution or an
// entire fleet deploy is expected to fall into.
func durationBuckets() []float64 {
	return []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}
}

// Metrics holds every Prometheus collector fleetroll exports. One instance
// should be created per process and registered once against registry.
type Metrics struct {
	DeployDuration  prometheus.Histogram
	DeploysTotal    prometheus.Counter
	DeploysAborted  *prometheus.CounterVec // labeled by abort reason
	HostsInFlight   prometheus.Gauge
	HostDuration    prometheus.Histogram
	HostResults     *prometheus.CounterVec // labeled by result (success/error)
	HostAborts      *prometheus.CounterVec // labeled by should_be_alive

	CircuitBreakerTrips prometheus.Counter
	RateLimitRejects    prometheus.Counter
	BulkheadRejects     prometheus.Counter
}

// New creates and registers fleetroll's metrics against registry. Pass
// prometheus.NewRegistry() rather than the global DefaultRegisterer so the
// metrics can be discarded along with a short-lived engine instance.
func New(registry prometheus.Registerer) *Metrics {
	f := promauto.With(registry)
	return &Metrics{
		DeployDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetroll_deploy_duration_seconds",
			Help:    "Time spent running a full rolling deploy",
			Buckets: durationBuckets(),
		}),
		DeploysTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetroll_deploys_total",
			Help: "Total number of deploys run to completion or abort",
		}),
		DeploysAborted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetroll_deploys_aborted_total",
			Help: "Total number of deploys that ended via AbortDeploy, labeled by reason",
		}, []string{"reason"}),
		HostsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetroll_hosts_in_flight",
			Help: "Number of hosts currently being deployed to",
		}),
		HostDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetroll_host_duration_seconds",
			Help:    "Time spent running the command sequence against a single host",
			Buckets: durationBuckets(),
		}),
		HostResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetroll_host_results_total",
			Help: "Per-host deploy outcomes, labeled by result",
		}, []string{"result"}),
		HostAborts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetroll_host_aborts_total",
			Help: "Hosts that aborted mid-deploy, labeled by whether they were expected to still be alive",
		}, []string{"should_be_alive"}),
		CircuitBreakerTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetroll_circuit_breaker_trips_total",
			Help: "Circuit breaker trip events",
		}),
		RateLimitRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetroll_rate_limit_rejects_total",
			Help: "Requests rejected by a rate limiter",
		}),
		BulkheadRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetroll_bulkhead_rejects_total",
			Help: "Requests rejected by a bulkhead at capacity",
		}),
	}
}

// Handler returns the standard Prometheus exposition handler for registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Wire subscribes m to bus so deploy and host lifecycle events update the
// corresponding collectors without the rollout engine importing Prometheus
// directly.
func Wire(bus *eventbus.Bus, m *Metrics) {
	var deployStart time.Time
	bus.Register("deploy.begin", func(ctx context.Context, p eventbus.Payload) error {
		deployStart = time.Now()
		return nil
	})
	bus.Register("host.begin", func(ctx context.Context, p eventbus.Payload) error {
		m.HostsInFlight.Inc()
		return nil
	})
	bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		m.HostsInFlight.Dec()
		m.HostResults.WithLabelValues("success").Inc()
		return nil
	})
	bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		m.HostsInFlight.Dec()
		m.HostResults.WithLabelValues("error").Inc()
		alive, _ := p["should_be_alive"].(bool)
		m.HostAborts.WithLabelValues(fmt.Sprintf("%t", alive)).Inc()
		return nil
	})
	bus.Register("deploy.end", func(ctx context.Context, p eventbus.Payload) error {
		m.DeploysTotal.Inc()
		if !deployStart.IsZero() {
			m.DeployDuration.Observe(time.Since(deployStart).Seconds())
		}
		return nil
	})
	bus.Register("deploy.abort", func(ctx context.Context, p eventbus.Payload) error {
		m.DeploysTotal.Inc()
		reason, _ := p["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		m.DeploysAborted.WithLabelValues(reason).Inc()
		if !deployStart.IsZero() {
			m.DeployDuration.Observe(time.Since(deployStart).Seconds())
		}
		return nil
	})
	bus.Register("circuit.state_change", func(ctx context.Context, p eventbus.Payload) error {
		if to, _ := p["to"].(string); to == "open" {
			m.CircuitBreakerTrips.Inc()
		}
		return nil
	})
}

// ------------------------------------------------------------------
// Structured tracing
// ------------------------------------------------------------------

// Span represents a unit of work in a deploy trace: a build step, a host
// command, or the deploy as a whole.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     string // "ok", "error"
	Attributes map[string]string
	Events     []SpanEvent
}

// SpanEvent is a timestamped annotation within a span.
type SpanEvent struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]string
}

// Tracer creates and retains spans for later inspection, e.g. by an audit
// or debug CLI command.
type Tracer struct {
	mu       sync.Mutex
	spans    []*Span
	maxSpans int
	logger   *slog.Logger
}

// NewTracer creates a tracer retaining at most maxSpans entries.
func NewTracer(maxSpans int, logger *slog.Logger) *Tracer {
	if maxSpans <= 0 {
		maxSpans = 10000
	}
	return &Tracer{spans: make([]*Span, 0, maxSpans), maxSpans: maxSpans, logger: logger}
}

type traceContextKey struct{}

// StartSpan begins a new span, inheriting the trace ID of any span already
// attached to ctx.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	span := &Span{TraceID: generateID(), SpanID: generateID(), Name: name, StartTime: time.Now(), Status: "ok", Attributes: attrs}
	if parent, ok := ctx.Value(traceContextKey{}).(*Span); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return context.WithValue(ctx, traceContextKey{}, span), span
}

// EndSpan completes span, records it and logs a debug line. A non-nil err
// sets the span's status to "error" and adds an "error" event with its
// message.
func (t *Tracer) EndSpan(span *Span, err error) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = "error"
		span.AddEvent("error", map[string]string{"message": err.Error()})
	}

	t.mu.Lock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[t.maxSpans/10:]
	}
	t.spans = append(t.spans, span)
	t.mu.Unlock()

	t.logger.Debug("span completed",
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"name", span.Name,
		"duration", span.Duration,
		"status", span.Status,
	)
}

// AddEvent adds a timestamped event to a span.
func (s *Span) AddEvent(name string, attrs map[string]string) {
	s.Events = append(s.Events, SpanEvent{Name: name, Timestamp: time.Now(), Attributes: attrs})
}

// SpanQueryOptions filters trace queries.
type SpanQueryOptions struct {
	TraceID string
	Name    string
	Status  string
	Since   time.Time
	Limit   int
}

// QuerySpans returns recorded spans matching opts.
func (t *Tracer) QuerySpans(opts SpanQueryOptions) []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Span
	for _, s := range t.spans {
		if opts.TraceID != "" && s.TraceID != opts.TraceID {
			continue
		}
		if opts.Name != "" && s.Name != opts.Name {
			continue
		}
		if !opts.Since.IsZero() && s.StartTime.Before(opts.Since) {
			continue
		}
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, s)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

// TraceDeployHost wires span start/end into a tracer for every host.begin
// and host.end/host.abort pair, keyed on the host ID.
func TraceDeployHost(bus *eventbus.Bus, tracer *Tracer) {
	var mu sync.Mutex
	active := map[string]*Span{}

	bus.Register("host.begin", func(ctx context.Context, p eventbus.Payload) error {
		h, _ := p["host"].(hostsource.Host)
		_, span := tracer.StartSpan(ctx, "host.deploy", map[string]string{"host_id": h.ID, "host_name": h.Name})
		mu.Lock()
		active[h.ID] = span
		mu.Unlock()
		return nil
	})
	end := func(ctx context.Context, p eventbus.Payload, err error) error {
		h, _ := p["host"].(hostsource.Host)
		mu.Lock()
		span, ok := active[h.ID]
		delete(active, h.ID)
		mu.Unlock()
		if ok {
			tracer.EndSpan(span, err)
		}
		return nil
	}
	bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		return end(ctx, p, nil)
	})
	bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		reason, _ := p["error"].(string)
		return end(ctx, p, fmt.Errorf("%s", reason))
	})
}

var idCounter atomic.Int64

func generateID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), idCounter.Add(1))
}
