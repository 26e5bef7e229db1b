package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNew_RegistersAgainstSuppliedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, float64(0), counterValue(t, m.DeploysTotal))
}

func TestWire_HostLifecycleUpdatesGaugeAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := eventbus.New(nil)
	Wire(bus, m)

	host := hostsource.Host{ID: "1", Name: "web-a1"}
	ctx := context.Background()

	require.NoError(t, bus.Trigger(ctx, "deploy.begin", eventbus.Payload{}))
	require.NoError(t, bus.Trigger(ctx, "host.begin", eventbus.Payload{"host": host}))
	assert.Equal(t, float64(1), gaugeValue(t, m.HostsInFlight))

	require.NoError(t, bus.Trigger(ctx, "host.end", eventbus.Payload{"host": host}))
	assert.Equal(t, float64(0), gaugeValue(t, m.HostsInFlight))

	require.NoError(t, bus.Trigger(ctx, "deploy.end", eventbus.Payload{}))
	assert.Equal(t, float64(1), counterValue(t, m.DeploysTotal))
}

func TestWire_HostAbortIncrementsAbortCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := eventbus.New(nil)
	Wire(bus, m)

	host := hostsource.Host{ID: "2", Name: "web-a2"}
	ctx := context.Background()
	require.NoError(t, bus.Trigger(ctx, "host.begin", eventbus.Payload{"host": host}))
	require.NoError(t, bus.Trigger(ctx, "host.abort", eventbus.Payload{"host": host, "should_be_alive": true}))

	assert.Equal(t, float64(0), gaugeValue(t, m.HostsInFlight))
	assert.Equal(t, float64(1), counterValue(t, m.HostAborts.WithLabelValues("true")))
}

func TestWire_DeployAbortLabelsReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := eventbus.New(nil)
	Wire(bus, m)

	ctx := context.Background()
	require.NoError(t, bus.Trigger(ctx, "deploy.begin", eventbus.Payload{}))
	require.NoError(t, bus.Trigger(ctx, "deploy.abort", eventbus.Payload{"reason": "received SIGINT"}))

	assert.Equal(t, float64(1), counterValue(t, m.DeploysAborted.WithLabelValues("received SIGINT")))
}

func TestTracer_StartAndEndSpanRecordsDurationAndStatus(t *testing.T) {
	tracer := NewTracer(10, testLogger())
	ctx, span := tracer.StartSpan(context.Background(), "host.deploy", map[string]string{"host_id": "1"})
	_ = ctx
	tracer.EndSpan(span, nil)

	spans := tracer.QuerySpans(SpanQueryOptions{Name: "host.deploy"})
	require.Len(t, spans, 1)
	assert.Equal(t, "ok", spans[0].Status)
	assert.GreaterOrEqual(t, spans[0].Duration.Nanoseconds(), int64(0))
}

func TestTracer_ChildSpanInheritsTraceID(t *testing.T) {
	tracer := NewTracer(10, testLogger())
	parentCtx, parent := tracer.StartSpan(context.Background(), "deploy", nil)
	_, child := tracer.StartSpan(parentCtx, "host.deploy", nil)

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
}

func TestTraceDeployHost_ClosesSpanOnHostEnd(t *testing.T) {
	bus := eventbus.New(nil)
	tracer := NewTracer(10, testLogger())
	TraceDeployHost(bus, tracer)

	host := hostsource.Host{ID: "3", Name: "web-a3"}
	ctx := context.Background()
	require.NoError(t, bus.Trigger(ctx, "host.begin", eventbus.Payload{"host": host}))
	require.NoError(t, bus.Trigger(ctx, "host.end", eventbus.Payload{"host": host}))

	spans := tracer.QuerySpans(SpanQueryOptions{Name: "host.deploy"})
	require.Len(t, spans, 1)
	assert.Equal(t, "ok", spans[0].Status)
}
