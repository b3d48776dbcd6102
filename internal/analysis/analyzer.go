// Package analysis drives an analysis request through its lifecycle:
// idle → in_progress → completed | failed.
//
// The Analyzer builds the prompt, calls the provider once (plus configured
// retries), validates the response and commits the terminal state. Provider
// and parser failures never escape as errors; they become a failed request
// with FailureMessage, and the detailed cause goes to logs and metrics.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
	ppotel "github.com/timvw/fallacy-patrol/internal/otel"
	"github.com/timvw/fallacy-patrol/internal/parser"
	"github.com/timvw/fallacy-patrol/internal/prompt"
	"github.com/timvw/fallacy-patrol/internal/provider"
	"github.com/timvw/fallacy-patrol/internal/store"
)

var tracer = otel.Tracer("fallacy-patrol/analysis")

// FailureMessage is the message stored on every failed request.
const FailureMessage = model.FailureMessage

// DefaultTimeout bounds one analysis, provider round trips included.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrEmptyText is returned by Submit for blank source text.
	ErrEmptyText = errors.New("source text is empty")
	// ErrInFlight means the request is already being analyzed.
	ErrInFlight = errors.New("analysis already in progress")
	// ErrInvalidTransition means the request's state does not allow the operation.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Factory builds the provider client for one analysis.
type Factory func(ctx context.Context, cfg provider.Config) (provider.Client, error)

// Publisher is notified after a request reaches a terminal state.
type Publisher interface {
	Publish(ctx context.Context, r *model.AnalysisRequest) error
}

// Outcome is the result delivered by AnalyzeAsync.
type Outcome struct {
	Request *model.AnalysisRequest
	Err     error
}

// Analyzer runs analyses against a store.
type Analyzer struct {
	store     store.Store
	factory   Factory
	parser    *parser.Parser
	log       *zap.Logger
	metrics   *ppotel.Metrics
	publisher Publisher
	timeout   time.Duration
	strict    bool
	retries   int
	backoff   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFactory replaces provider.New as the client factory.
func WithFactory(f Factory) Option {
	return func(a *Analyzer) { a.factory = f }
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

func WithMetrics(m *ppotel.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(a *Analyzer) { a.publisher = p }
}

// WithTimeout bounds each analysis. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.timeout = d }
}

// WithStrictExcerpts controls whether every excerpt must occur verbatim in
// the source text. Enabled by default.
func WithStrictExcerpts(strict bool) Option {
	return func(a *Analyzer) { a.strict = strict }
}

// WithRetries retries rate-limited and transport failures up to n times,
// waiting backoff, 2*backoff, ... between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(a *Analyzer) {
		a.retries = max(n, 0)
		a.backoff = backoff
	}
}

// WithClock sets the time source for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer persisting to s.
func New(s store.Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:    s,
		factory:  provider.New,
		log:      zap.NewNop(),
		timeout:  DefaultTimeout,
		strict:   true,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.parser = parser.New(a.log)
	return a
}

// Submit stores a new idle request for text.
func (a *Analyzer) Submit(ctx context.Context, text string) (*model.AnalysisRequest, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	r := model.NewRequest(text, a.now())
	if err := a.store.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("save request: %w", err)
	}
	a.log.Info("request submitted", zap.String("id", r.ID), zap.Int("bytes", len(text)))
	return r, nil
}

// Create submits text and analyzes it immediately.
func (a *Analyzer) Create(ctx context.Context, text string, cfg provider.Config) (*model.AnalysisRequest, error) {
	r, err := a.Submit(ctx, text)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, r.ID, cfg)
}

// Analyze runs request id to a terminal state and returns it. The returned
// error covers only unknown ids, store failures, ErrInFlight and
// ErrInvalidTransition; analysis failures are reported through the
// request's state.
func (a *Analyzer) Analyze(ctx context.Context, id string, cfg provider.Config) (*model.AnalysisRequest, error) {
	return a.analyze(ctx, id, cfg, func(s model.State) bool { return s != model.StateInProgress })
}

// Reanalyze reruns a completed or failed request on its unchanged source text.
func (a *Analyzer) Reanalyze(ctx context.Context, id string, cfg provider.Config) (*model.AnalysisRequest, error) {
	return a.analyze(ctx, id, cfg, model.State.Terminal)
}

// AnalyzeAsync runs Analyze on its own goroutine. The channel receives
// exactly one Outcome and is then closed.
func (a *Analyzer) AnalyzeAsync(ctx context.Context, id string, cfg provider.Config) <-chan Outcome {
	out := make(chan Outcome, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(out)
		r, err := a.Analyze(ctx, id, cfg)
		out <- Outcome{Request: r, Err: err}
	}()
	return out
}

// Wait blocks until every AnalyzeAsync goroutine has finished.
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

// Recover resets requests left in_progress, e.g. by a crashed process, to
// idle. Requests being analyzed by this Analyzer are skipped.
func (a *Analyzer) Recover(ctx context.Context) (int, error) {
	stuck, err := a.store.List(ctx, store.Filter{State: model.StateInProgress})
	if err != nil {
		return 0, fmt.Errorf("list in-progress requests: %w", err)
	}
	n := 0
	for _, r := range stuck {
		if !a.acquire(r.ID) {
			continue
		}
		_, err := store.Update(ctx, a.store, r.ID, func(cur *model.AnalysisRequest) error {
			if cur.State != model.StateInProgress {
				return errSkip
			}
			cur.State = model.StateIdle
			cur.ErrorMessage = ""
			cur.Findings = nil
			cur.UpdatedAt = a.now().UTC()
			return nil
		})
		a.release(r.ID)
		switch {
		case err == nil:
			n++
			a.log.Info("recovered stuck request", zap.String("id", r.ID))
		case errors.Is(err, errSkip), errors.Is(err, store.ErrNotFound):
		default:
			return n, fmt.Errorf("recover %s: %w", r.ID, err)
		}
	}
	return n, nil
}

var errSkip = errors.New("skip")

func (a *Analyzer) acquire(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[id]; busy {
		return false
	}
	a.inflight[id] = struct{}{}
	return true
}

func (a *Analyzer) release(id string) {
	a.mu.Lock()
	delete(a.inflight, id)
	a.mu.Unlock()
}

func (a *Analyzer) analyze(ctx context.Context, id string, cfg provider.Config, allowed func(model.State) bool) (*model.AnalysisRequest, error) {
	if !a.acquire(id) {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, id)
	}
	defer a.release(id)

	ctx, span := tracer.Start(ctx, "analyze",
		trace.WithAttributes(
			attribute.String("analysis.id", id),
			attribute.String("langfuse.trace.name", "fallacy-analysis"),
			attribute.StringSlice("langfuse.trace.tags", []string{"fallacy-patrol", "analyze"}),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Once the move to in_progress is under way it must land together with
	// a terminal commit, so neither write observes caller cancellation.
	start := a.now()
	req, err := store.Update(context.WithoutCancel(ctx), a.store, id, func(r *model.AnalysisRequest) error {
		if r.State == model.StateInProgress {
			return fmt.Errorf("%w: %s", ErrInFlight, id)
		}
		if !allowed(r.State) {
			return fmt.Errorf("%w: cannot analyze request %s in state %s", ErrInvalidTransition, id, r.State)
		}
		r.State = model.StateInProgress
		r.Findings = nil
		r.ErrorMessage = ""
		r.UpdatedAt = start.UTC()
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	run := a.run(ctx, req, cfg)
	end := a.now()

	// The terminal state is committed even when the caller gave up, so the
	// request never stays in_progress.
	commitCtx := context.WithoutCancel(ctx)
	final, err := store.Update(commitCtx, a.store, id, func(r *model.AnalysisRequest) error {
		r.UpdatedAt = end.UTC()
		r.DurationMs = end.Sub(start).Milliseconds()
		r.Provider = run.provider
		r.Model = run.model
		r.Usage = run.usage
		if run.err != nil {
			r.State = model.StateFailed
			r.Findings = nil
			r.ErrorMessage = FailureMessage
			return nil
		}
		r.State = model.StateCompleted
		r.Findings = run.findings
		r.ErrorMessage = ""
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit analysis %s: %w", id, err)
	}

	duration := end.Sub(start)
	span.SetAttributes(
		attribute.String("analysis.state", string(final.State)),
		attribute.Int("analysis.findings", len(final.Findings)),
		attribute.String("llm.provider", run.provider),
		attribute.String("llm.model", run.model),
	)
	a.metrics.RecordAnalysis(commitCtx, string(final.State), duration)
	if run.err != nil {
		cause := causeOf(run.err)
		span.SetAttributes(attribute.String("analysis.failure_cause", cause))
		a.metrics.RecordFailure(commitCtx, cause)
		a.log.Warn("analysis failed",
			zap.String("id", id),
			zap.String("provider", run.provider),
			zap.String("cause", cause),
			zap.Duration("duration", duration),
			zap.Error(run.err))
	} else {
		a.log.Info("analysis completed",
			zap.String("id", id),
			zap.String("provider", run.provider),
			zap.String("model", run.model),
			zap.Int("findings", len(final.Findings)),
			zap.Bool("cached", run.cached),
			zap.Duration("duration", duration))
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(commitCtx, final); err != nil {
			a.log.Warn("publish failed", zap.String("id", id), zap.Error(err))
		}
	}
	return final, nil
}

// runResult is the outcome of one pipeline pass, before it is committed.
type runResult struct {
	provider string
	model    string
	usage    model.TokenUsage
	cached   bool
	findings []model.Finding
	err      error
}

func (a *Analyzer) run(ctx context.Context, req *model.AnalysisRequest, cfg provider.Config) runResult {
	res := runResult{provider: cfg.Provider, model: cfg.Model}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if cfg.Logger == nil {
		cfg.Logger = a.log
	}

	client, err := a.factory(ctx, cfg)
	if err != nil {
		res.err = err
		return res
	}
	res.provider = client.Provider()
	res.model = client.Model()

	text := prompt.Build(req.SourceText)
	completion, err := a.send(ctx, client, text)
	if err != nil {
		res.err = err
		return res
	}
	if completion == nil {
		res.err = &provider.Error{Kind: provider.ErrEmptyResponse, Provider: client.Provider(), Err: errors.New("completion had no content")}
		return res
	}
	res.cached = completion.Cached
	if !completion.Cached {
		res.usage = completion.Usage
		a.metrics.RecordTokens(ctx, res.provider, res.model, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	}

	parsed, err := a.parser.Parse(completion.Text)
	if err == nil && a.strict {
		err = parser.VerifyExcerpts(parsed.Findings, req.SourceText)
	}
	if err != nil {
		// A rejected completion must not be served again from the cache.
		if inv, ok := client.(provider.Invalidator); ok {
			if ierr := inv.Invalidate(context.WithoutCancel(ctx), text); ierr != nil {
				a.log.Warn("cache invalidation failed", zap.String("id", req.ID), zap.Error(ierr))
			}
		}
		res.err = err
		return res
	}

	res.findings = make([]model.Finding, 0, len(parsed.Findings))
	for _, d := range parsed.Findings {
		res.findings = append(res.findings, model.NewFinding(req.ID, d.Fallacy, d.Excerpt, d.Avoidance, d.Counter, d.Reference))
	}
	return res
}

// send performs the provider call, retrying retryable failures.
func (a *Analyzer) send(ctx context.Context, client provider.Client, text string) (*provider.Completion, error) {
	for attempt := 0; ; attempt++ {
		completion, err := client.SendPrompt(ctx, text)
		if err == nil || attempt >= a.retries || !provider.Retryable(err) || ctx.Err() != nil {
			return completion, err
		}
		wait := a.backoff * time.Duration(attempt+1)
		a.log.Debug("retrying provider call",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, err
		}
	}
}

// causeOf labels a failure for logs and metrics.
func causeOf(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, parser.ErrModelReported):
		return "model_reported"
	case errors.Is(err, parser.ErrExcerptMismatch):
		return "excerpt_mismatch"
	case errors.Is(err, parser.ErrDecode):
		return "decode"
	default:
		return provider.KindName(err)
	}
}
