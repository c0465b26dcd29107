// Package otel wires OpenTelemetry traces and metrics for the workforce
// daemon. A disabled config yields no-op providers, so callers never need
// to branch on whether telemetry is on.
package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "workforce"
	MeterName  = "workforce"
	// Version is reported as service.version.
	Version = "v0.3.0"

	defaultServiceName  = "workforce"
	defaultOTLPEndpoint = "localhost:4318"
)

// Trace exporters accepted in Config.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config is the telemetry section of config.yaml.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is otlp (alias otlp-http), stdout or none. Empty means otlp.
	Exporter string `yaml:"exporter"`
	// Endpoint is host:port (plain HTTP) or a full http(s) URL.
	Endpoint    string            `yaml:"endpoint"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	ServiceName string            `yaml:"service_name"`
	// Instance identifies this daemon in exported data. A random id is
	// used when empty.
	Instance   string  `yaml:"instance,omitempty"`
	SampleRate float64 `yaml:"sample_rate"`
	// MetricsEnabled enables metrics alongside traces. Defaults to true.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`
}

// withDefaults fills unset fields. Sample rates outside (0, 1] sample
// everything.
func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Instance == "" {
		c.Instance = uuid.NewString()
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	c.Exporter = strings.ToLower(strings.TrimSpace(c.Exporter))
	switch c.Exporter {
	case "", "otlp-http":
		c.Exporter = ExporterOTLP
	}
	return c
}

func (c Config) metricsEnabled() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

// Provider bundles the tracer and meter handed to the bridge and gateway.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	// Instance is the service.instance.id reported for this process.
	// Empty when telemetry is disabled.
	Instance string
	shutdown func(context.Context) error
}

// Disabled returns a provider whose tracer and meter record nothing.
func Disabled() *Provider {
	mp := noop.NewMeterProvider()
	return &Provider{
		Tracer:        nooptrace.NewTracerProvider().Tracer(TracerName),
		Meter:         mp.Meter(MeterName),
		MeterProvider: mp,
	}
}

// Init builds the providers described by cfg and installs them, together
// with a W3C trace-context propagator, as the process globals. The
// returned Provider must be shut down on exit.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}
	cfg = cfg.withDefaults()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			semconv.ServiceInstanceID(cfg.Instance),
			attribute.String("workforce.exporter", cfg.Exporter),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := traceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Provider{
		TracerProvider: tp,
		Tracer:         tp.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		Instance:       cfg.Instance,
	}
	if !cfg.metricsEnabled() {
		mp := noop.NewMeterProvider()
		p.MeterProvider = mp
		p.Meter = mp.Meter(MeterName)
		p.shutdown = tp.Shutdown
		return p, nil
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	p.MeterProvider = mp
	p.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(Version))
	p.shutdown = func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return p, nil
}

// Enabled reports whether p exports anything.
func (p *Provider) Enabled() bool { return p.TracerProvider != nil }

// Shutdown flushes pending spans and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// traceExporter returns nil for ExporterNone: spans are still sampled
// and can be inspected in-process but are never sent anywhere.
func traceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		return otlptracehttp.New(ctx, otlpOptions(cfg)...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q (supported: otlp, stdout, none)", cfg.Exporter)
	}
}

func otlpOptions(cfg Config) []otlptracehttp.Option {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}
