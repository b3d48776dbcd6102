package provider

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("fallacy-patrol/provider")

// generation records one model call as a GenAI span plus debug log records.
// Spans are exported by the batch processor configured in internal/otel, so
// recording never waits on the collector.
type generation struct {
	span     trace.Span
	log      *zap.Logger
	provider string
}

// startGeneration opens the span and records the outgoing prompt before the
// request is sent.
func startGeneration(ctx context.Context, log *zap.Logger, provider, modelName string, maxTokens int64, prompt string) (context.Context, *generation) {
	ctx, span := tracer.Start(ctx, "chat "+modelName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", provider),
			attribute.String("gen_ai.request.model", modelName),
			attribute.Int64("gen_ai.request.max_tokens", maxTokens),
			attribute.String("langfuse.observation.type", "generation"),
		),
	)

	input := []map[string]string{{"role": "user", "content": prompt}}
	if inputJSON, err := json.Marshal(input); err == nil {
		span.SetAttributes(attribute.String("gen_ai.input.messages", string(inputJSON)))
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Debug("sending prompt",
		zap.String("provider", provider),
		zap.String("model", modelName),
		zap.Int("prompt_bytes", len(prompt)),
		zap.String("prompt", prompt))

	return ctx, &generation{span: span, log: log, provider: provider}
}

// succeed records the raw response. c may be nil for an empty completion.
func (g *generation) succeed(c *Completion) {
	defer g.span.End()

	if c == nil {
		g.span.SetAttributes(attribute.Bool("gen_ai.response.empty", true))
		g.log.Debug("received empty response", zap.String("provider", g.provider))
		return
	}

	g.span.SetAttributes(
		attribute.String("gen_ai.response.model", c.Model),
		attribute.Int64("gen_ai.usage.input_tokens", c.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", c.Usage.OutputTokens),
	)
	if c.FinishReason != "" {
		g.span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{c.FinishReason}))
	}
	output := []map[string]string{{"role": "assistant", "content": c.Text}}
	if outputJSON, err := json.Marshal(output); err == nil {
		g.span.SetAttributes(attribute.String("gen_ai.output.messages", string(outputJSON)))
	}

	g.log.Debug("received response",
		zap.String("provider", g.provider),
		zap.String("model", c.Model),
		zap.Int64("input_tokens", c.Usage.InputTokens),
		zap.Int64("output_tokens", c.Usage.OutputTokens),
		zap.String("response", c.Text))
}

// fail records err on the span and returns it unchanged.
func (g *generation) fail(err *Error) error {
	defer g.span.End()
	g.span.SetAttributes(attribute.String("error.type", KindName(err)))
	if err.StatusCode != 0 {
		g.span.SetAttributes(attribute.Int("http.response.status_code", err.StatusCode))
	}
	g.span.RecordError(err)
	g.span.SetStatus(codes.Error, KindName(err))
	g.log.Debug("provider call failed", zap.String("provider", g.provider), zap.Error(err))
	return err
}
