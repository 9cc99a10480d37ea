// Package telemetry provides OpenTelemetry tracing for completion calls.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/stupiduntilnot/slavik"

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // host:port of an OTLP/HTTP collector
	ServiceName string
	Version     string
}

// DefaultConfig returns default telemetry config.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Endpoint:    "localhost:4318",
		ServiceName: "slavik",
		Version:     "dev",
	}
}

var provider *sdktrace.TracerProvider

// Init installs the global tracer provider. With telemetry disabled the
// global no-op provider stays in place.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	)

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// Shutdown flushes pending spans and stops the exporter.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return provider.Shutdown(shutdownCtx)
}

// Tracer returns the tracer used by this module.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// CompletionSpan wraps a single completion call.
type CompletionSpan struct {
	span      trace.Span
	startTime time.Time
}

// StartCompletionSpan starts a span for a completion call.
func StartCompletionSpan(ctx context.Context, botName string, messages int) (context.Context, *CompletionSpan) {
	ctx, span := Tracer().Start(ctx, "completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.persona", botName),
			attribute.Int("llm.prompt.messages", messages),
		),
	)
	return ctx, &CompletionSpan{span: span, startTime: time.Now()}
}

// SetTokens records token counts if available.
func (s *CompletionSpan) SetTokens(promptTokens, completionTokens int) {
	if promptTokens > 0 {
		s.span.SetAttributes(attribute.Int("llm.token_count.prompt", promptTokens))
	}
	if completionTokens > 0 {
		s.span.SetAttributes(attribute.Int("llm.token_count.completion", completionTokens))
	}
}

// SetOutcome records how the completion cycle ended: "replied", "failed"
// or "rejected".
func (s *CompletionSpan) SetOutcome(outcome string) {
	s.span.SetAttributes(attribute.String("llm.outcome", outcome))
}

// SetError records an error on the span.
func (s *CompletionSpan) SetError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End completes the span and returns the measured latency.
func (s *CompletionSpan) End() time.Duration {
	d := time.Since(s.startTime)
	s.span.SetAttributes(attribute.Int64("llm.latency_ms", d.Milliseconds()))
	s.span.End()
	return d
}
