// Package tracing wraps the OpenTelemetry setup: an OTLP/HTTP exporter with
// ratio sampling, disabled entirely by default. The orchestrator opens one
// span per phase and one per batch.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"music-cleanup/pkg/types"
)

// Manager owns the tracer provider lifecycle.
type Manager struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// New initializes tracing from config. When disabled it returns a manager
// whose tracer is a no-op, so call sites never branch.
func New(ctx context.Context, cfg types.TracingConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{tracer: noop.NewTracerProvider().Tracer("music-cleanup")}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)

	return &Manager{
		provider: provider,
		tracer:   provider.Tracer("music-cleanup"),
		enabled:  true,
	}, nil
}

// StartPhase opens a span for a pipeline phase.
func (m *Manager) StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "phase."+phase)
}

// StartBatch opens a span for one batch inside a phase.
func (m *Manager) StartBatch(ctx context.Context, phase string, batchID int64, size int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "batch."+phase,
		trace.WithAttributes(
			attribute.Int64("batch.id", batchID),
			attribute.Int("batch.size", size),
		))
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.provider.Shutdown(ctx)
}
