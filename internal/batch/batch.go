// Package batch analyzes many stored requests with bounded parallelism.
package batch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
	"github.com/timvw/fallacy-patrol/internal/provider"
)

var tracer = otel.Tracer("fallacy-patrol/batch")

// Analyzer runs one request to a terminal state.
type Analyzer interface {
	Analyze(ctx context.Context, id string, cfg provider.Config) (*model.AnalysisRequest, error)
}

// Runner fans requests out to an Analyzer.
type Runner struct {
	Analyzer Analyzer
	Parallel int
	Logger   *zap.Logger
	// SessionID groups all batches from one process run in traces.
	SessionID string
}

// Item is the outcome for one request id. Err is set when the analysis
// could not run at all (unknown id, in flight, store failure, cancelled).
type Item struct {
	ID      string                 `json:"id"`
	Request *model.AnalysisRequest `json:"request,omitempty"`
	Err     error                  `json:"-"`
	Error   string                 `json:"error,omitempty"`
}

// Result holds per-request outcomes in input order.
type Result struct {
	Items     []Item `json:"items"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Errors    int    `json:"errors"`
}

// Run analyzes ids with at most Parallel analyses in flight.
func (r *Runner) Run(ctx context.Context, ids []string, cfg provider.Config) *Result {
	ctx, span := tracer.Start(ctx, "batch",
		trace.WithAttributes(
			attribute.Int("batch.size", len(ids)),
			attribute.String("langfuse.trace.name", "fallacy-patrol-batch"),
			attribute.String("langfuse.session.id", r.SessionID),
			attribute.StringSlice("langfuse.trace.tags", []string{"fallacy-patrol", "batch"}),
		))
	defer span.End()

	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	items := make([]Item, len(ids))
	if len(ids) == 0 {
		return &Result{Items: items}
	}

	parallel := r.Parallel
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(ids) {
		parallel = len(ids)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, parallel)

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			items[idx].ID = id

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				items[idx].Err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			req, err := r.Analyzer.Analyze(ctx, id, cfg)
			if err != nil {
				log.Warn("batch item not analyzed", zap.String("id", id), zap.Error(err))
				items[idx].Err = err
				return
			}
			items[idx].Request = req
		}(i, id)
	}

	wg.Wait()

	result := &Result{Items: items}
	for i := range result.Items {
		it := &result.Items[i]
		switch {
		case it.Err != nil:
			it.Error = it.Err.Error()
			result.Errors++
		case it.Request.State == model.StateCompleted:
			result.Completed++
		default:
			result.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("batch.completed", result.Completed),
		attribute.Int("batch.failed", result.Failed),
		attribute.Int("batch.errors", result.Errors),
	)
	return result
}
