package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "rpgkernel/internal/core"

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps provider. A nil provider uses the global one.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: provider.Tracer(instrumentationName)}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("rpgkernel.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// SetupTracing installs a global OTLP/HTTP tracer provider exporting to
// endpoint. When tracing is disabled or endpoint is empty it returns a no-op
// shutdown and registers nothing. The caller defers the returned shutdown
// to flush pending spans.
func SetupTracing(ctx context.Context, enabled bool, endpoint, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !enabled || endpoint == "" {
		return noop, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}
