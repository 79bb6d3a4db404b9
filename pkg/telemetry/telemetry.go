// Package telemetry wraps the OpenTelemetry tracer/meter providers the
// driver uses for ambient observability.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config seeds a Manager. MeterProvider/TracerProvider are usually
// supplied by the composition root; tests substitute in-memory
// exporters.
type Config struct {
	ServiceName    string
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// Manager holds the tracer/meter handles the driver records spans and
// counters against.
type Manager struct {
	tracer trace.Tracer
	meter  metric.Meter

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	iterations   metric.Int64Counter
	toolDispatch metric.Int64Counter
}

// NewManager builds a Manager from cfg. A nil TracerProvider or
// MeterProvider falls back to the OTel no-op implementations, so a
// Manager is always safe to use even when telemetry export isn't
// configured.
func NewManager(cfg Config) (*Manager, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "cueso"
	}

	var tracer trace.Tracer
	if cfg.TracerProvider != nil {
		tracer = cfg.TracerProvider.Tracer(name)
	} else {
		tracer = otel.Tracer(name)
	}

	var meter metric.Meter
	if cfg.MeterProvider != nil {
		meter = cfg.MeterProvider.Meter(name)
	} else {
		meter = otel.Meter(name)
	}

	iterations, err := meter.Int64Counter("driver.iterations", metric.WithDescription("driver loop iterations started"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build iterations counter: %w", err)
	}
	toolDispatch, err := meter.Int64Counter("driver.tool_dispatches", metric.WithDescription("tool executions dispatched"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build tool dispatch counter: %w", err)
	}

	return &Manager{
		tracer:         tracer,
		meter:          meter,
		tracerProvider: cfg.TracerProvider,
		meterProvider:  cfg.MeterProvider,
		iterations:     iterations,
		toolDispatch:   toolDispatch,
	}, nil
}

// StartIteration opens a span named "driver.iteration" tagged with the
// session id and iteration number, and records the iterations counter.
// Callers must end the returned span.
func (m *Manager) StartIteration(ctx context.Context, sessionID string, iteration int) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "driver.iteration", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("iteration", iteration),
	))
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("session_id", sessionID)))
	return ctx, span
}

// RecordToolDispatch increments the tool-dispatch counter for name,
// tagged with whether the execution errored.
func (m *Manager) RecordToolDispatch(ctx context.Context, name string, errored bool) {
	m.toolDispatch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.Bool("error", errored),
	))
}

// StartToolCall opens a span named "driver.tool_call" for one
// dispatched tool execution.
func (m *Manager) StartToolCall(ctx context.Context, toolName, toolCallID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "driver.tool_call", trace.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("tool_call_id", toolCallID),
	))
}

// Shutdown flushes and closes the underlying providers. Safe to call
// even when Config supplied no providers, since a Manager built with
// nil providers never falls back to an sdktrace/sdkmetric instance.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	if m.tracerProvider != nil {
		if shutdownErr := m.tracerProvider.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown tracer provider: %w", shutdownErr)
		}
	}
	if m.meterProvider != nil {
		if shutdownErr := m.meterProvider.Shutdown(ctx); shutdownErr != nil {
			if err != nil {
				err = fmt.Errorf("%w; shutdown meter provider: %v", err, shutdownErr)
			} else {
				err = fmt.Errorf("shutdown meter provider: %w", shutdownErr)
			}
		}
	}
	return err
}
