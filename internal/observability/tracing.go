// Package observability provides OpenTelemetry tracing and metrics for the
// proof pipeline.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the erdos tracer.
	TracerName = "github.com/erdosproject/erdos"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "erdos")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "erdos",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	// If no endpoint, return no-op tracer
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // Use TLS in production
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	// Create resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create trace provider
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for pipeline operations.
const (
	SpanKindSession  = "session"
	SpanKindGenerate = "generate"
	SpanKindVerify   = "verify"
	SpanKindJudge    = "judge"
	SpanKindBatch    = "batch"
	SpanKindLLM      = "llm"
)

// StartSessionSpan starts a span for a full proof session.
func StartSessionSpan(ctx context.Context, problemID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, fmt.Sprintf("session.%s", problemID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindSession),
			attribute.String("erdos.problem.id", problemID),
		),
	)
	return ctx, span
}

// RecordSessionOutcome records the terminal status of a proof session.
func RecordSessionOutcome(span trace.Span, status string, attempts int) {
	span.SetAttributes(
		attribute.String("session.status", status),
		attribute.Int("session.attempts", attempts),
	)
	if status != "succeeded" {
		span.SetStatus(codes.Error, fmt.Sprintf("session ended %s after %d attempts", status, attempts))
	}
}

// StartGenerateSpan starts a span for a proof generation call.
func StartGenerateSpan(ctx context.Context, generatorName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindGenerate),
			attribute.String("generator.name", generatorName),
		),
	)
	return ctx, span
}

// StartVerifySpan starts a span for a verifier run.
func StartVerifySpan(ctx context.Context, verifierName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "verify",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindVerify),
			attribute.String("verifier.name", verifierName),
		),
	)
	return ctx, span
}

// RecordVerifyResult records verifier findings on a span.
func RecordVerifyResult(span trace.Span, outcome string, errorCount, warningCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.String("verify.outcome", outcome),
		attribute.Int("verify.error_count", errorCount),
		attribute.Int("verify.warning_count", warningCount),
		attribute.Int64("verify.duration_ms", duration.Milliseconds()),
	)
	if outcome != "pass" {
		span.SetStatus(codes.Error, fmt.Sprintf("verification %s", outcome))
	}
}

// StartJudgeSpan starts a span for a judge review.
func StartJudgeSpan(ctx context.Context, judgeName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "judge",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindJudge),
			attribute.String("judge.name", judgeName),
		),
	)
	return ctx, span
}

// RecordJudgeVerdict records a judge verdict on a span.
func RecordJudgeVerdict(span trace.Span, outcome string, confidence float64) {
	span.SetAttributes(
		attribute.String("judge.outcome", outcome),
		attribute.Float64("judge.confidence", confidence),
	)
	if outcome != "accept" {
		span.SetStatus(codes.Error, "proof rejected")
	}
}

// StartBatchSpan starts a span for a batch run.
func StartBatchSpan(ctx context.Context, problemCount, workers int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "batch.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindBatch),
			attribute.Int("batch.problem_count", problemCount),
			attribute.Int("batch.workers", workers),
		),
	)
	return ctx, span
}

// RecordBatchResult records batch totals on a span.
func RecordBatchResult(span trace.Span, succeeded, exhausted, fatal int) {
	span.SetAttributes(
		attribute.Int("batch.succeeded", succeeded),
		attribute.Int("batch.exhausted", exhausted),
		attribute.Int("batch.fatal", fatal),
	)
	if fatal > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sessions failed fatally", fatal))
	}
}

// StartLLMSpan starts a span for an LLM call.
func StartLLMSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("erdos.span.kind", SpanKindLLM),
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
	return ctx, span
}

// RecordLLMMetrics records LLM call metrics on a span.
func RecordLLMMetrics(span trace.Span, inputTokens, outputTokens int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("llm.input_tokens", inputTokens),
		attribute.Int("llm.output_tokens", outputTokens),
		attribute.Int("llm.total_tokens", inputTokens+outputTokens),
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
