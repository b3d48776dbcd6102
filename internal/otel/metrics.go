package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fallacy-patrol"

// Metrics holds all OTEL metric instruments for fallacy-patrol.
// All methods are safe on a nil receiver.
type Metrics struct {
	// LLM token counters (partitioned by provider + model via attributes)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// Completion cache counters
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Analyses partitioned by outcome (completed, failed)
	Analyses metric.Int64Counter
	// Failures partitioned by cause (unavailable, rate_limited, decode, ...)
	Failures metric.Int64Counter
	// AnalysisDuration is the wall-clock time of one analysis in milliseconds.
	AnalysisDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("completion_cache.hits",
		metric.WithDescription("Prompts answered from the completion cache"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("completion_cache.misses",
		metric.WithDescription("Prompts sent to the provider after a cache miss"))
	if err != nil {
		return nil, err
	}

	m.Analyses, err = meter.Int64Counter("analyses.total",
		metric.WithDescription("Analyses reaching a terminal state, partitioned by outcome"))
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter("analyses.failures",
		metric.WithDescription("Failed analyses partitioned by internal cause"))
	if err != nil {
		return nil, err
	}

	m.AnalysisDuration, err = meter.Float64Histogram("analyses.duration",
		metric.WithDescription("Wall-clock duration of one analysis"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTokens records LLM token usage on the metric counters.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}

// RecordCacheHit records a completion cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a completion cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordAnalysis records a terminal analysis outcome and its duration.
func (m *Metrics) RecordAnalysis(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("analysis.outcome", outcome))
	m.Analyses.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// RecordFailure records the internal cause of a failed analysis.
func (m *Metrics) RecordFailure(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.Failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("analysis.failure_cause", cause),
	))
}
