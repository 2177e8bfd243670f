package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the scope name used for every tracer and meter the
// service creates.
const InstrumentationName = "tracedemo"

// ErrUnsupportedExporter is returned by Init for unknown exporter names.
var ErrUnsupportedExporter = errors.New("telemetry: unsupported exporter")

// Config controls telemetry initialisation.
type Config struct {
	ServiceName    string
	ServiceVersion string
	InstanceID     string
	Environment    string
	TraceExporter  string // "otlp", "stdout" or "none"
	MetricExporter string // "prom", "otlp" or "none"
	Prometheus     PromConfig
	OTLP           OTLPConfig
	// RuntimeMetrics enables the Go runtime instrumentation (GC, heap,
	// goroutines) on the same MeterProvider.
	RuntimeMetrics bool
}

// PromConfig defines the Prometheus exporter options.
type PromConfig struct {
	Path string
}

// OTLPConfig defines the OTLP/HTTP exporter options shared by traces and
// metrics.
type OTLPConfig struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string
}

// DefaultConfig returns the defaults, overridden by the standard OTEL_*
// environment variables where set.
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOr("OTEL_SERVICE_NAME", "tracedemo"),
		ServiceVersion: getEnvOr("SERVICE_VERSION", "dev"),
		InstanceID:     getEnvOr("HOSTNAME", ""),
		Environment:    getEnvOr("DEPLOYMENT_ENVIRONMENT", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "otlp"),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "prom"),
		Prometheus:     PromConfig{Path: "/metrics"},
		OTLP: OTLPConfig{
			Endpoint: getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Insecure: true,
		},
		RuntimeMetrics: true,
	}
}

// Provider bundles the configured providers. Components obtain their tracer
// and meter from it instead of the otel globals.
type Provider struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator
	// MetricsHandler serves the Prometheus exposition format. It is nil
	// unless the Prometheus exporter is selected.
	MetricsHandler http.Handler

	shutdown func(context.Context) error
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(InstrumentationName)
}

// Meter returns the service meter.
func (p *Provider) Meter() metric.Meter {
	return p.MeterProvider.Meter(InstrumentationName)
}

// Shutdown flushes and stops every exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Init configures tracing and metrics according to cfg.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	traceExporter := normalizeLower(cfg.TraceExporter, "otlp")
	metricExporter := normalizeLower(cfg.MetricExporter, "prom")

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	p := &Provider{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
		Propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}

	var stops []func(context.Context) error
	p.shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if traceExporter != "none" {
		tp, err := buildTracerProvider(ctx, traceExporter, cfg, res)
		if err != nil {
			return nil, err
		}
		p.TracerProvider = tp
		stops = append(stops, tp.Shutdown)
	}

	if metricExporter != "none" {
		var reader sdkmetric.Reader
		switch metricExporter {
		case "otlp":
			reader, err = buildOTLPMetricReader(ctx, cfg)
		case "prom", "prometheus":
			reader, p.MetricsHandler, err = buildPrometheusExporter()
		default:
			err = fmt.Errorf("%w %q", ErrUnsupportedExporter, metricExporter)
		}
		if err != nil {
			_ = p.shutdown(ctx)
			return nil, err
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		p.MeterProvider = mp
		stops = append(stops, mp.Shutdown)

		if cfg.RuntimeMetrics {
			if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
				_ = p.shutdown(ctx)
				return nil, fmt.Errorf("telemetry: start runtime metrics: %w", err)
			}
		}
	}

	return p, nil
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	var attrs []attribute.KeyValue
	if cfg.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(cfg.InstanceID))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	res, err := resource.New(ctx,
		resource.WithOS(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
	// Detectors that cannot read a value still return a usable resource.
	if errors.Is(err, resource.ErrPartialResource) {
		return res, nil
	}
	return res, err
}

func buildTracerProvider(ctx context.Context, exporter string, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		spanExporter sdktrace.SpanExporter
		err          error
	)
	switch exporter {
	case "otlp":
		options := []otlptracehttp.Option{endpointOption(cfg.OTLP.Endpoint, otlptracehttp.WithEndpoint, otlptracehttp.WithEndpointURL)}
		if cfg.OTLP.Insecure {
			options = append(options, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLP.Headers) > 0 {
			options = append(options, otlptracehttp.WithHeaders(cfg.OTLP.Headers))
		}
		spanExporter, err = otlptracehttp.New(ctx, options...)
	case "stdout":
		spanExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedExporter, exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: create %s trace exporter: %w", exporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func buildPrometheusExporter() (sdkmetric.Reader, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithoutTargetInfo(),
		prometheus.WithoutUnits(),
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}
	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func buildOTLPMetricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	options := []otlpmetrichttp.Option{endpointOption(cfg.OTLP.Endpoint, otlpmetrichttp.WithEndpoint, otlpmetrichttp.WithEndpointURL)}
	if cfg.OTLP.Insecure {
		options = append(options, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.OTLP.Headers) > 0 {
		options = append(options, otlpmetrichttp.WithHeaders(cfg.OTLP.Headers))
	}

	exporter, err := otlpmetrichttp.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}

// endpointOption picks the URL form when the endpoint carries a scheme; the
// plain form only accepts host:port.
func endpointOption[O any](endpoint string, hostPort, url func(string) O) O {
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	if strings.Contains(endpoint, "://") {
		return url(endpoint)
	}
	return hostPort(endpoint)
}

func getEnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
