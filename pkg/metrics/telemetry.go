package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TelemetryConfig is an alias to the config package TelemetryConfig for compatibility
type TelemetryConfig = config.TelemetryConfig

// TelemetryManager manages OpenTelemetry metrics and tracing.
// A nil *TelemetryManager is valid and records nothing.
type TelemetryManager struct {
	config         TelemetryConfig
	registry       *prometheus.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         trace.Tracer

	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram

	mutex   sync.RWMutex
	started bool
}

// NewTelemetryManager creates a new telemetry manager
func NewTelemetryManager(config TelemetryConfig) (*TelemetryManager, error) {
	log.Info().
		Bool("enabled", config.Enabled).
		Bool("tracing_enabled", config.TracingEnabled).
		Str("service_name", config.ServiceName).
		Msg("Creating telemetry manager with config")

	tm := &TelemetryManager{
		config:     config,
		registry:   prometheus.NewRegistry(),
		tracer:     noop.NewTracerProvider().Tracer(config.ServiceName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}

	if err := tm.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tm, nil
}

func (tm *TelemetryManager) initialize() error {
	if !tm.config.Enabled {
		log.Info().Msg("Telemetry disabled")
		return nil
	}

	if err := tm.setupMetrics(); err != nil {
		return fmt.Errorf("failed to setup metrics: %w", err)
	}
	if tm.config.TracingEnabled {
		if err := tm.setupTracing(); err != nil {
			return fmt.Errorf("failed to setup tracing: %w", err)
		}
	}
	return tm.createInstruments()
}

// setupMetrics wires the OpenTelemetry meter to a Prometheus registry
func (tm *TelemetryManager) setupMetrics() error {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(tm.registry),
		otelprom.WithoutUnits(),
	)
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	tm.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(tm.createResource()),
	)
	tm.meter = tm.meterProvider.Meter(
		tm.config.ServiceName,
		metric.WithInstrumentationVersion(tm.config.ServiceVersion),
	)
	return nil
}

func (tm *TelemetryManager) setupTracing() error {
	rate := tm.config.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	options := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithResource(tm.createResource()),
	}

	exporter, err := newSpanExporter(context.Background(), tm.config, os.Stdout)
	if err != nil {
		return err
	}
	if exporter != nil {
		options = append(options, sdktrace.WithBatcher(exporter))
	}
	log.Info().Str("exporter", tm.config.TraceExporter).Float64("sample_rate", rate).Msg("Tracing enabled")

	tm.tracerProvider = sdktrace.NewTracerProvider(options...)
	tm.tracer = tm.tracerProvider.Tracer(
		tm.config.ServiceName,
		trace.WithInstrumentationVersion(tm.config.ServiceVersion),
	)
	return nil
}

// newSpanExporter builds the exporter named by cfg.TraceExporter.
// "none" returns a nil exporter; spans then reach registered processors only.
func newSpanExporter(ctx context.Context, cfg TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "", "none":
		return nil, nil
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	case "otlp":
		var opts []otlptracehttp.Option
		if cfg.TraceEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.TraceEndpoint))
		}
		if cfg.TraceInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.TraceExporter)
	}
}

func (tm *TelemetryManager) createResource() *resource.Resource {
	attributes := []attribute.KeyValue{
		attribute.String("service.name", tm.config.ServiceName),
		attribute.String("service.version", tm.config.ServiceVersion),
		attribute.String("environment", tm.config.Environment),
	}
	for key, value := range tm.config.Labels {
		attributes = append(attributes, attribute.String(key, value))
	}
	return resource.NewSchemaless(attributes...)
}

// createInstruments creates all the metric instruments
func (tm *TelemetryManager) createInstruments() error {
	counters := []struct {
		key, name, description string
	}{
		{"sync_runs", "plansync_sync_runs_total", "Total number of sync runs by phase and status"},
		{"records_created", "plansync_records_created_total", "Total number of destination records and collections created"},
		{"events_skipped", "plansync_events_skipped_total", "Total number of events skipped by reason"},
		{"archive_failures", "plansync_archive_failures_total", "Total number of collection archive failures"},
		{"http_requests", "plansync_http_requests_total", "Total number of HTTP requests served"},
	}
	for _, c := range counters {
		counter, err := tm.meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.key, err)
		}
		tm.counters[c.key] = counter
	}

	histograms := []struct {
		key, name, description string
	}{
		{"sync_run_duration", "plansync_sync_run_duration_seconds", "Sync run duration in seconds"},
		{"http_request_duration", "plansync_http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		histogram, err := tm.meter.Float64Histogram(h.name, metric.WithDescription(h.description), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.key, err)
		}
		tm.histograms[h.key] = histogram
	}
	return nil
}

// Start starts the telemetry manager
func (tm *TelemetryManager) Start(ctx context.Context) error {
	if tm == nil {
		return nil
	}
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if tm.started {
		return fmt.Errorf("telemetry manager already started")
	}
	if !tm.config.Enabled {
		log.Info().Msg("Telemetry disabled, skipping start")
		return nil
	}
	tm.started = true
	log.Info().Msg("Telemetry manager started")
	return nil
}

// Stop flushes and shuts down the providers
func (tm *TelemetryManager) Stop(ctx context.Context) error {
	if tm == nil {
		return nil
	}
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	var firstErr error
	if tm.meterProvider != nil {
		if err := tm.meterProvider.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	if tm.tracerProvider != nil {
		if err := tm.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
	}
	tm.started = false
	log.Info().Msg("Telemetry manager stopped")
	return firstErr
}

func (tm *TelemetryManager) add(ctx context.Context, key string, attrs ...attribute.KeyValue) {
	if tm == nil {
		return
	}
	if counter, ok := tm.counters[key]; ok {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (tm *TelemetryManager) observe(ctx context.Context, key string, value float64, attrs ...attribute.KeyValue) {
	if tm == nil {
		return
	}
	if histogram, ok := tm.histograms[key]; ok {
		histogram.Record(ctx, value, metric.WithAttributes(attrs...))
	}
}

// RecordRun records one finished sync phase
func (tm *TelemetryManager) RecordRun(ctx context.Context, phase, status string, duration time.Duration) {
	tm.add(ctx, "sync_runs", attribute.String("phase", phase), attribute.String("status", status))
	tm.observe(ctx, "sync_run_duration", duration.Seconds(), attribute.String("phase", phase))
}

// RecordCreated counts one created destination object of kind
// (properties_collection, plan_collection, property_record, event_record)
func (tm *TelemetryManager) RecordCreated(ctx context.Context, kind string) {
	tm.add(ctx, "records_created", attribute.String("kind", kind))
}

// RecordEventSkipped counts one skipped event
func (tm *TelemetryManager) RecordEventSkipped(ctx context.Context, reason string) {
	tm.add(ctx, "events_skipped", attribute.String("reason", reason))
}

// RecordArchiveFailure counts one failed archive of a properties or plan collection
func (tm *TelemetryManager) RecordArchiveFailure(ctx context.Context, kind string) {
	tm.add(ctx, "archive_failures", attribute.String("kind", kind))
}

// RecordHTTPRequest records HTTP request metrics
func (tm *TelemetryManager) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", strconv.Itoa(statusCode)),
	}
	tm.add(ctx, "http_requests", attrs...)
	tm.observe(ctx, "http_request_duration", duration.Seconds(), attrs[:2]...)
}

// StartTrace starts a span; with tracing disabled the span is a no-op
func (tm *TelemetryManager) StartTrace(ctx context.Context, operationName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	if tm == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, operationName)
	}
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attributes...))
}

// RegisterSpanProcessor attaches an exporter pipeline to the tracer provider
func (tm *TelemetryManager) RegisterSpanProcessor(sp sdktrace.SpanProcessor) {
	if tm == nil || tm.tracerProvider == nil {
		return
	}
	tm.tracerProvider.RegisterSpanProcessor(sp)
}

// Registry returns the registry the OpenTelemetry exporter writes to
func (tm *TelemetryManager) Registry() *prometheus.Registry {
	return tm.registry
}

// Handler serves this manager's metrics together with the process default registry
func (tm *TelemetryManager) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if tm != nil {
		gatherers = append(gatherers, tm.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// DefaultTelemetryConfig returns the telemetry defaults
func DefaultTelemetryConfig() TelemetryConfig {
	return config.DefaultConfig().Telemetry
}
