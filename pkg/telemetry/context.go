package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that records nothing but still accepts
// subscribers, for tests and library callers.
func NewNop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(TracingConfig{Exporter: "none"}, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(EventsConfig{Enabled: true})
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events, writes the metrics textfile and stops tracing.
// All steps run; the first error is returned.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.Metrics.WriteTextfile(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type runStateKey struct{}

type runState struct {
	span  trace.Span
	timer *Timer
}

// WithRunContext starts the run span, tags the logger with the run ID and
// records the run as started.
func WithRunContext(ctx context.Context, runID, mode string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, mode)
	logger := tel.Logger.WithRunID(runID)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(mode)
	_ = tel.Events.PublishRunStarted(runID, mode)

	return context.WithValue(spanCtx, runStateKey{}, &runState{span: span, timer: NewTimer()})
}

// EndRunContext completes the run span and records the terminal status.
func EndRunContext(ctx context.Context, runID, status string, exitCode int, message string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if rs, ok := ctx.Value(runStateKey{}).(*runState); ok {
		duration = rs.timer.Duration()
		rs.span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(rs.span, err)
		} else {
			RecordSuccess(rs.span)
		}
		rs.span.End()
	}

	tel.Metrics.RecordRunCompleted(status, exitCode, duration)
	_ = tel.Events.PublishRunFinished(runID, status, exitCode, message, duration)
}

// RecordStep runs fn inside a step span and records its duration.
func RecordStep(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartStepSpan(ctx, step)
	defer span.End()
	spanCtx = FromContext(ctx).WithStep(step).WithContext(spanCtx)

	timer := NewTimer()
	err := fn(spanCtx)

	status := "ok"
	if err != nil {
		status = "error"
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	tel.Metrics.RecordStep(step, status, timer.Duration())
	return err
}
