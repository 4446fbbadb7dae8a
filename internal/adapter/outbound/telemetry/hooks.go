package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used for outbound calls.
const InstrumentationName = "github.com/i2y/apicomposer"

// SpanHooks implements the usecase.SpanHooks interface on top of OpenTelemetry.
type SpanHooks struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewSpanHooks creates span hooks from a tracer provider and a propagator.
// Nil arguments fall back to the global ones.
func NewSpanHooks(tp trace.TracerProvider, propagator propagation.TextMapPropagator) *SpanHooks {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &SpanHooks{
		tracer:     tp.Tracer(InstrumentationName),
		propagator: propagator,
	}
}

// Extract returns ctx carrying the remote span context found in header, if any.
func (h *SpanHooks) Extract(ctx context.Context, header http.Header) context.Context {
	return h.propagator.Extract(ctx, propagation.HeaderCarrier(header))
}

// StartClientSpan starts a client span named "METHOD url" as a child of the span in ctx.
// Without an active trace context no span is started and no headers are returned.
func (h *SpanHooks) StartClientSpan(ctx context.Context, rawURL, method string) (context.Context, trace.Span, http.Header) {
	header := http.Header{}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return ctx, trace.SpanFromContext(ctx), header
	}
	ctx, span := h.tracer.Start(ctx, method+" "+rawURL,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(rawURL),
		),
	)
	h.propagator.Inject(ctx, propagation.HeaderCarrier(header))
	return ctx, span, header
}

// EndClientSpan records the outcome of the call and ends the span.
// statusCode is 0 when no response was received.
func (h *SpanHooks) EndClientSpan(span trace.Span, statusCode int, err error) {
	if span == nil || !span.IsRecording() {
		return
	}
	if statusCode > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case statusCode >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
	span.End()
}
