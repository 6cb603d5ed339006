// Package resilience wraps tool execution with the reliability pipeline:
// concurrency permits, per-tool timeout, transient retry with backoff, and
// a per-tool circuit breaker, instrumented with OpenTelemetry.
package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
)

const instrumentationName = "github.com/limbodancer/limbodancer-mcp/internal/resilience"

// Metrics holds the tool pipeline instruments.
type Metrics struct {
	executions metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
}

// NewMetrics creates the instruments. Creation failures are logged and the
// corresponding instrument stays nil; recording on nil is a no-op.
func NewMetrics(logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.executions, err = meter.Int64Counter(
		"mcp.tool.executions",
		metric.WithDescription("Total tool executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create executions counter", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"mcp.tool.errors",
		metric.WithDescription("Total tool execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create errors counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"mcp.tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create duration histogram", zap.Error(err))
	}

	m.active, err = meter.Int64UpDownCounter(
		"mcp.tool.active_executions",
		metric.WithDescription("Currently active tool executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create active gauge", zap.Error(err))
	}

	return m
}

// Record records one completed execution.
func (m *Metrics) Record(ctx context.Context, tool, tenant string, d time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("tenant", tenant),
	}
	if m.executions != nil {
		m.executions.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		errAttrs := append(attrs, attribute.String("reason", string(fault.KindOf(err))))
		m.errors.Add(ctx, 1, metric.WithAttributes(errAttrs...))
	}
}

func (m *Metrics) incActive(ctx context.Context, tool string) {
	if m.active != nil {
		m.active.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

func (m *Metrics) decActive(ctx context.Context, tool string) {
	if m.active != nil {
		m.active.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}
