// Package otel wires OpenTelemetry traces and metrics for fallacy-patrol.
//
// Provider calls are recorded as GenAI generation spans and analyses as
// counters. Both go to an OTLP/HTTP endpoint when one is configured;
// otherwise every instrument is a no-op.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/fallacy-patrol/internal/prompt"
)

const serviceName = "fallacy-patrol"

const defaultExportInterval = 15 * time.Second

// Resource attribute keys describing how analyses are produced.
const (
	AttrPromptVersion = attribute.Key("fallacy_patrol.prompt.version")
	AttrLLMSystem     = attribute.Key("gen_ai.system")
	AttrLLMModel      = attribute.Key("gen_ai.request.model")
)

// Config holds the configuration needed by Init.
type Config struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:3000/api/public/otel"
	Headers  string // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	Version  string // service.version, "dev" when empty
	Provider string // configured LLM provider
	Model    string // configured model, may be empty

	ExportInterval time.Duration // metric push interval, 15s when zero
}

// Telemetry holds the OTEL providers and metric instruments.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Resource *resource.Resource
	Tracer   trace.Tracer
	Metrics  *Metrics
}

// Exporting reports whether spans and metrics leave the process.
func (t *Telemetry) Exporting() bool {
	return t != nil && t.tp != nil
}

// target is a parsed OTLP endpoint.
type target struct {
	host     string // host:port
	basePath string
	insecure bool
	headers  map[string]string
}

// parseTarget validates endpoint and parses headers in the
// OTEL_EXPORTER_OTLP_HEADERS format. An empty endpoint yields nil.
func parseTarget(endpoint, headers string) (*target, error) {
	if endpoint == "" {
		return nil, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("otel: invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("otel: endpoint %q must use http or https", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("otel: endpoint %q has no host", endpoint)
	}
	t := &target{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  map[string]string{},
	}
	for _, pair := range strings.Split(headers, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			t.headers[key] = strings.TrimSpace(val)
		}
	}
	return t, nil
}

// path returns the URL path for one signal, e.g. "traces".
func (t *target) path(signal string) string {
	return t.basePath + "/v1/" + signal
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		semconv.ServiceInstanceID(uuid.NewString()),
		AttrPromptVersion.String(prompt.Version),
	}
	if cfg.Provider != "" {
		attrs = append(attrs, AttrLLMSystem.String(cfg.Provider))
	}
	if cfg.Model != "" {
		attrs = append(attrs, AttrLLMModel.String(cfg.Model))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
}

func newTracerProvider(ctx context.Context, t *target, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(t.host),
		otlptracehttp.WithURLPath(t.path("traces")),
	}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(t.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(t.headers))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newMeterProvider(ctx context.Context, t *target, res *resource.Resource, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(t.host),
		otlpmetrichttp.WithURLPath(t.path("metrics")),
	}
	if t.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(t.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(t.headers))
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)), nil
}

// Init builds the analysis resource and, when cfg.Endpoint is set, OTLP
// exporters that become the global providers. Without an endpoint the
// tracer and metrics are no-ops.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	tgt, err := parseTarget(cfg.Endpoint, cfg.Headers)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	t := &Telemetry{Resource: res}

	if tgt != nil {
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		if t.tp, err = newTracerProvider(ctx, tgt, res); err != nil {
			return nil, err
		}
		if t.mp, err = newMeterProvider(ctx, tgt, res, interval); err != nil {
			_ = t.tp.Shutdown(ctx)
			return nil, err
		}
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	t.Tracer = otel.Tracer(serviceName)
	if t.Metrics, err = NewMetrics(); err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	return t, nil
}

// Shutdown flushes and shuts down all OTEL providers. Safe on nil.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
