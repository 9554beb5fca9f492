// Package telemetry wraps OpenTelemetry's metrics and tracing SDKs behind
// the simple Counter/Histogram/Gauge/Duration helper API gomind exposes at
// its telemetry package's top level, scoped down to what the Execution
// Runtime and MCP Surface need: per-tool counters, latency histograms, and
// spans around command invocation.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles the Force Engine's tracer, meter, and the cached
// instruments every component emits through.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	executions metric.Int64Counter
	durations  metric.Float64Histogram
	violations metric.Int64Counter
}

// NewStdout builds a Provider that exports traces to stdout (for local
// development and tests, where no collector is running) and metrics
// in-process only. It returns an error if the exporter or one of the
// Provider's instruments cannot be created.
func NewStdout(serviceName string) (*Provider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	res := newResource(serviceName)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	return newProvider(serviceName, tp, mp)
}

// NewOTLPGRPC builds a Provider exporting traces via OTLP/gRPC to endpoint
// (e.g. "localhost:4317"), matching gomind's collector integration but over
// gRPC rather than HTTP, since a deployment running the MCP Surface's own
// HTTP transport wants its collector traffic on a separate port and
// protocol rather than sharing the request path.
func NewOTLPGRPC(ctx context.Context, serviceName, endpoint string) (*Provider, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: otlp/grpc exporter for %s: %w", endpoint, err)
	}
	res := newResource(serviceName)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	return newProvider(serviceName, tp, mp)
}

func newResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("0.1.0"),
	)
}

func newProvider(serviceName string, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) (*Provider, error) {
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)

	executions, err := meter.Int64Counter("force.tool.executions",
		metric.WithDescription("Count of Runtime.Execute calls by tool_id and outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: executions counter: %w", err)
	}

	durations, err := meter.Float64Histogram("force.tool.duration_ms",
		metric.WithDescription("Runtime.Execute wall-clock duration in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: durations histogram: %w", err)
	}

	violations, err := meter.Int64Counter("force.constraint.violations",
		metric.WithDescription("Count of Constraint Engine violations by constraint_id and severity"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: violations counter: %w", err)
	}

	return &Provider{
		tracer:         tp.Tracer(serviceName),
		meter:          meter,
		tracerProvider: tp,
		meterProvider:  mp,
		executions:     executions,
		durations:      durations,
		violations:     violations,
	}, nil
}

// StartSpan opens a span named for a Tool or Pattern execution and returns
// the derived context plus the span, which the caller ends.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordExecution records one Tool execution's outcome and duration.
func (p *Provider) RecordExecution(ctx context.Context, toolID, outcome string, durationMs int64) {
	attrs := metric.WithAttributes(
		attribute.String("tool_id", toolID),
		attribute.String("outcome", outcome),
	)
	p.executions.Add(ctx, 1, attrs)
	p.durations.Record(ctx, float64(durationMs), attrs)
}

// RecordViolation records one Constraint Engine violation.
func (p *Provider) RecordViolation(ctx context.Context, constraintID, severity string) {
	p.violations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("constraint_id", constraintID),
		attribute.String("severity", severity),
	))
}

// Shutdown flushes and releases the underlying exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
	}
	return nil
}

// TimeOperation returns a func that, when called, returns the time elapsed
// since TimeOperation was called — a convenience for components that cannot
// wrap their whole call in StartSpan.
func TimeOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}
