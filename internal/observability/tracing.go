package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLP exporter defaults.
const (
	// DefaultOTLPTimeout is the default timeout for OTLP exporter operations.
	DefaultOTLPTimeout = 10 * time.Second

	// DefaultOTLPReconnectionPeriod is the default reconnection period for the OTLP gRPC connection.
	DefaultOTLPReconnectionPeriod = 10 * time.Second
)

// TracerConfig contains tracing configuration.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
	Enabled      bool
}

// Tracer wraps OpenTelemetry tracing functionality.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracerConfig
}

// NewTracer creates a new tracer. When disabled it returns a tracer backed by
// the global no-op provider so call sites never need a nil check.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			config: cfg,
			tracer: otel.Tracer(cfg.ServiceName),
		}, nil
	}

	ctx := context.Background()

	var exporter *otlptrace.Exporter
	var err error

	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(DefaultOTLPTimeout),
			otlptracegrpc.WithReconnectionPeriod(DefaultOTLPReconnectionPeriod),
		)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SamplingRate)),
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		config:   cfg,
	}, nil
}

// createSampler creates a sampler based on the sampling rate.
func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown shuts down the tracer provider, flushing buffered spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span.
func (t *Tracer) StartSpan(
	ctx context.Context,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
