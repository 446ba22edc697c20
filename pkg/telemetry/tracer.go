package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with run, step and producer spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(serviceName),
			config: cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg, serviceName, serviceVersion)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig, serviceName, serviceVersion string) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(serviceName + "/" + serviceVersion)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// StartSpan starts a span with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartRunSpan starts the root span of a run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, mode string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "run.execute",
		AttrRunID.String(runID),
		AttrRunMode.String(mode),
	)
}

// StartStepSpan starts a span for one state machine step.
func (t *Tracer) StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "step."+step, AttrStep.String(step))
}

// StartProducerSpan starts a span for a producer operation.
func (t *Tracer) StartProducerSpan(ctx context.Context, producer, operation string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "producer."+operation,
		AttrProducer.String(producer),
		AttrProducerOp.String(operation),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddRunEvent records a run event, such as a state transition, on the
// current span.
func AddRunEvent(span trace.Span, eventType, message string) {
	span.AddEvent(eventType, trace.WithAttributes(
		attribute.String("event.message", message),
	))
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Common attribute keys for tokei tracing.
var (
	AttrRunID          = attribute.Key("run.id")
	AttrRunMode        = attribute.Key("run.mode")
	AttrRunStatus      = attribute.Key("run.status")
	AttrStep           = attribute.Key("step")
	AttrProducer       = attribute.Key("producer.name")
	AttrProducerOp     = attribute.Key("producer.operation")
	AttrProducerResult = attribute.Key("producer.result")
	AttrOutcomeKind    = attribute.Key("outcome.kind")
	AttrReportNo       = attribute.Key("report.number")
)
