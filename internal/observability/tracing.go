package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceConfig configures OTLP trace export. An empty Endpoint yields a no-op
// tracer.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate in [0, 1]; 0 defaults to 1 (sample everything).
	SamplingRate float64

	// Insecure disables TLS toward the collector.
	Insecure bool
}

// Tracer wraps the configured trace.Tracer with span helpers for the
// runtime's three hot paths.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer and returns it with its shutdown hook. Without
// an endpoint every span is a no-op and shutdown does nothing.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("tspark")},
			func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tspark"
	}
	if cfg.SamplingRate <= 0 {
		cfg.SamplingRate = 1
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	t := &Tracer{provider: provider, tracer: provider.Tracer("tspark")}
	return t, provider.Shutdown, nil
}

// Start opens a span with the given name and attributes.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartHandleMessage opens the per-submission root span.
func (t *Tracer) StartHandleMessage(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "session.handle_message", attribute.String("session.id", sessionID))
}

// StartProviderCall opens a span around one model generation call.
func (t *Tracer) StartProviderCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.id", provider),
			attribute.String("provider.model", model),
		))
}

// StartToolCall opens a span around one tool dispatch.
func (t *Tracer) StartToolCall(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.server", server),
			attribute.String("tool.name", tool),
		))
}

// EndWithTokens annotates a provider span with usage and closes it.
func EndWithTokens(span trace.Span, input, output int64) {
	span.SetAttributes(
		attribute.Int64("tokens.input", input),
		attribute.Int64("tokens.output", output),
	)
	span.End()
}

// EndWithError records err (if any) and closes the span.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
