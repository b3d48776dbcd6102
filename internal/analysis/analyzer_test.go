package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/timvw/fallacy-patrol/internal/model"
	"github.com/timvw/fallacy-patrol/internal/prompt"
	"github.com/timvw/fallacy-patrol/internal/provider"
	"github.com/timvw/fallacy-patrol/internal/store"
)

const popularitySource = "Everyone is buying this phone, so it must be the best one on the market."

const popularityResponse = `{"fallacyInstances":[{"fallacy":"Appeal to popularity: assumes a claim is true because many people believe it","originalText":"Everyone is buying this phone, so it must be the best one","avoidance":"Support the claim with evidence about the phone itself.","counter":"Ask which features make it better than the alternatives.","link":"https://en.wikipedia.org/wiki/Argumentum_ad_populum"}]}`

// stubClient is a provider.Client whose behavior is set per test.
type stubClient struct {
	send func(ctx context.Context, call int) (*provider.Completion, error)

	mu          sync.Mutex
	calls       int
	prompts     []string
	invalidated int
}

func (s *stubClient) Provider() string { return "stub" }
func (s *stubClient) Model() string    { return "stub-1" }

func (s *stubClient) SendPrompt(ctx context.Context, p string) (*provider.Completion, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	return s.send(ctx, n)
}

func (s *stubClient) Invalidate(context.Context, string) error {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
	return nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func reply(text string) func(context.Context, int) (*provider.Completion, error) {
	return func(context.Context, int) (*provider.Completion, error) {
		return &provider.Completion{
			Text:  text,
			Model: "stub-1",
			Usage: model.TokenUsage{InputTokens: 120, OutputTokens: 40},
		}, nil
	}
}

var stubConfig = provider.Config{Provider: "stub", APIKey: "test-key"}

func newTestAnalyzer(t *testing.T, client provider.Client, opts ...Option) (*Analyzer, store.Store) {
	t.Helper()
	st := store.NewMemory()
	factory := func(context.Context, provider.Config) (provider.Client, error) { return client, nil }
	a := New(st, append([]Option{WithFactory(factory)}, opts...)...)
	return a, st
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestAnalyze_AppealToPopularity(t *testing.T) {
	stub := &stubClient{send: reply(popularityResponse)}
	a, st := newTestAnalyzer(t, stub)
	ctx := context.Background()

	r, err := a.Create(ctx, popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateCompleted {
		t.Fatalf("state: got %s, want completed", r.State)
	}
	if r.ErrorMessage != "" {
		t.Errorf("error message should be empty, got %q", r.ErrorMessage)
	}
	if len(r.Findings) != 1 {
		t.Fatalf("findings: got %d, want 1", len(r.Findings))
	}
	f := r.Findings[0]
	if model.FallacyName(f.Fallacy) != "Appeal to popularity" {
		t.Errorf("fallacy: got %q", f.Fallacy)
	}
	if !strings.Contains(r.SourceText, f.Excerpt) {
		t.Errorf("excerpt %q is not a substring of the source", f.Excerpt)
	}
	if f.RequestID != r.ID || f.ID == "" {
		t.Errorf("finding identity: %+v", f)
	}
	if f.Reference != "https://en.wikipedia.org/wiki/Argumentum_ad_populum" {
		t.Errorf("reference: got %q", f.Reference)
	}
	if r.Provider != "stub" || r.Model != "stub-1" {
		t.Errorf("provider/model: %s/%s", r.Provider, r.Model)
	}
	if r.Usage.InputTokens != 120 || r.Usage.OutputTokens != 40 {
		t.Errorf("usage: %+v", r.Usage)
	}

	stored, err := st.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(r, stored); diff != "" {
		t.Errorf("stored request differs (-returned +stored):\n%s", diff)
	}

	if stub.callCount() != 1 {
		t.Errorf("provider calls: got %d, want 1", stub.callCount())
	}
	if want := prompt.Build(popularitySource); stub.prompts[0] != want {
		t.Errorf("prompt sent:\n%s\nwant:\n%s", stub.prompts[0], want)
	}
}

func TestAnalyze_PolicyPopularityPayload(t *testing.T) {
	const source = "Everyone agrees the policy is good, so it must be good."
	payload := `{"fallacyInstances":[{"fallacy":"Appeal to popularity: ...","originalText":"Everyone agrees the policy is good, so it must be good.","avoidance":"...","counter":"...","link":"https://en.wikipedia.org/wiki/Argumentum_ad_populum"}]}`
	a, _ := newTestAnalyzer(t, &stubClient{send: reply(payload)})

	r, err := a.Create(context.Background(), source, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateCompleted {
		t.Fatalf("state: got %s, want completed", r.State)
	}
	want := []model.Finding{{
		RequestID: r.ID,
		Fallacy:   "Appeal to popularity: ...",
		Excerpt:   source,
		Avoidance: "...",
		Counter:   "...",
		Reference: "https://en.wikipedia.org/wiki/Argumentum_ad_populum",
	}}
	if diff := cmp.Diff(want, r.Findings, cmpopts.IgnoreFields(model.Finding{}, "ID")); diff != "" {
		t.Errorf("findings (-want +got):\n%s", diff)
	}
}

func TestAnalyze_ResponseOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantState model.State
		wantCount int
		wantCause string
	}{
		{name: "empty instances", text: `{"fallacyInstances": []}`, wantState: model.StateCompleted},
		{name: "legacy bare empty array", text: `[]`, wantState: model.StateCompleted},
		{name: "fenced", text: "```json\n" + popularityResponse + "\n```", wantState: model.StateCompleted, wantCount: 1},
		{
			name:      "missing field",
			text:      `{"fallacyInstances":[{"fallacy":"Strawman","originalText":"Everyone is buying this phone","avoidance":"a","link":"https://example.com"}]}`,
			wantState: model.StateFailed,
			wantCause: "decode",
		},
		{name: "not json", text: "I could not find any fallacies.", wantState: model.StateFailed, wantCause: "decode"},
		{
			name:      "model reported error",
			text:      `{"errorMessage":"input is not an argument","fallacyInstances":[]}`,
			wantState: model.StateFailed,
			wantCause: "model_reported",
		},
		{
			name:      "excerpt not in source",
			text:      `{"fallacyInstances":[{"fallacy":"Strawman","originalText":"something never said","avoidance":"a","counter":"b","link":"https://example.com"}]}`,
			wantState: model.StateFailed,
			wantCause: "excerpt_mismatch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, logs := observedLogger()
			stub := &stubClient{send: reply(tt.text)}
			a, _ := newTestAnalyzer(t, stub, WithLogger(log))

			r, err := a.Create(context.Background(), popularitySource, stubConfig)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if r.State != tt.wantState {
				t.Fatalf("state: got %s, want %s", r.State, tt.wantState)
			}
			if len(r.Findings) != tt.wantCount {
				t.Errorf("findings: got %d, want %d", len(r.Findings), tt.wantCount)
			}
			if tt.wantState == model.StateFailed {
				if r.ErrorMessage != FailureMessage {
					t.Errorf("error message: got %q", r.ErrorMessage)
				}
				if r.Findings != nil {
					t.Errorf("failed request has findings: %+v", r.Findings)
				}
				assertCause(t, logs, tt.wantCause)
				if stub.invalidated != 1 {
					t.Errorf("cache invalidations: got %d, want 1", stub.invalidated)
				}
			} else if r.ErrorMessage != "" {
				t.Errorf("completed request has error message %q", r.ErrorMessage)
			}
		})
	}
}

func TestAnalyze_LenientExcerpts(t *testing.T) {
	text := `{"fallacyInstances":[{"fallacy":"Strawman","originalText":"paraphrased text","avoidance":"a","counter":"b","link":"not a url"}]}`
	a, _ := newTestAnalyzer(t, &stubClient{send: reply(text)}, WithStrictExcerpts(false))

	r, err := a.Create(context.Background(), popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateCompleted || len(r.Findings) != 1 {
		t.Fatalf("got %s with %d findings", r.State, len(r.Findings))
	}
	if r.Findings[0].Reference != model.DefaultReferenceURL {
		t.Errorf("reference: got %q", r.Findings[0].Reference)
	}
}

func TestAnalyze_ProviderFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCause string
	}{
		{"rate limited", &provider.Error{Kind: provider.ErrRateLimited, Provider: "stub", StatusCode: 429}, "rate_limited"},
		{"auth", &provider.Error{Kind: provider.ErrAuth, Provider: "stub", StatusCode: 401}, "auth"},
		{"transport", &provider.Error{Kind: provider.ErrTransport, Provider: "stub", Err: errors.New("connection reset")}, "transport"},
		{"malformed envelope", &provider.Error{Kind: provider.ErrMalformedResponse, Provider: "stub"}, "malformed"},
		{"empty candidates", &provider.Error{Kind: provider.ErrEmptyResponse, Provider: "stub"}, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, logs := observedLogger()
			stub := &stubClient{send: func(context.Context, int) (*provider.Completion, error) { return nil, tt.err }}
			a, _ := newTestAnalyzer(t, stub, WithLogger(log))

			r, err := a.Create(context.Background(), popularitySource, stubConfig)
			if err != nil {
				t.Fatalf("Create should not return provider errors, got %v", err)
			}
			if r.State != model.StateFailed || r.ErrorMessage != FailureMessage || r.Findings != nil {
				t.Errorf("got state %s, message %q, findings %v", r.State, r.ErrorMessage, r.Findings)
			}
			assertCause(t, logs, tt.wantCause)
		})
	}
}

func TestAnalyze_EmptyCompletion(t *testing.T) {
	log, logs := observedLogger()
	stub := &stubClient{send: func(context.Context, int) (*provider.Completion, error) { return nil, nil }}
	a, _ := newTestAnalyzer(t, stub, WithLogger(log))

	r, err := a.Create(context.Background(), popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateFailed {
		t.Errorf("state: got %s, want failed", r.State)
	}
	assertCause(t, logs, "empty")
}

func TestAnalyze_MissingAPIKey(t *testing.T) {
	log, logs := observedLogger()
	a := New(store.NewMemory(), WithLogger(log))

	r, err := a.Create(context.Background(), popularitySource, provider.Config{Provider: provider.Gemini})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateFailed || r.ErrorMessage != FailureMessage {
		t.Errorf("got %s %q", r.State, r.ErrorMessage)
	}
	if r.Provider != provider.Gemini {
		t.Errorf("provider: got %q", r.Provider)
	}
	assertCause(t, logs, "unavailable")
}

func TestAnalyze_ChatHTTP(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		content   string
		wantState model.State
		wantCause string
	}{
		{name: "popularity", status: http.StatusOK, content: popularityResponse, wantState: model.StateCompleted},
		{name: "empty array", status: http.StatusOK, content: `{"fallacyInstances": []}`, wantState: model.StateCompleted},
		{name: "http 429", status: http.StatusTooManyRequests, wantState: model.StateFailed, wantCause: "rate_limited"},
		{name: "http 500", status: http.StatusInternalServerError, wantState: model.StateFailed, wantCause: "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, tt.status, tt.content)
			log, logs := observedLogger()
			a := New(store.NewMemory(), WithLogger(log))

			cfg := provider.Config{
				Provider:   provider.Chat,
				Model:      "test-model",
				APIKey:     "test-key",
				BaseURL:    srv.URL,
				HTTPClient: srv.Client(),
			}
			r, err := a.Create(context.Background(), popularitySource, cfg)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if r.State != tt.wantState {
				t.Fatalf("state: got %s, want %s", r.State, tt.wantState)
			}
			if tt.wantCause != "" {
				assertCause(t, logs, tt.wantCause)
			}
		})
	}
}

func TestReanalyze_Deterministic(t *testing.T) {
	stub := &stubClient{send: reply(popularityResponse)}
	a, _ := newTestAnalyzer(t, stub)
	ctx := context.Background()

	first, err := a.Create(ctx, popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := a.Reanalyze(ctx, first.ID, stubConfig)
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	if second.SourceText != first.SourceText {
		t.Errorf("source text changed: %q", second.SourceText)
	}
	if stub.prompts[0] != stub.prompts[1] {
		t.Error("reanalysis sent a different prompt")
	}
	ignoreIDs := cmpopts.IgnoreFields(model.Finding{}, "ID")
	if diff := cmp.Diff(first.Findings, second.Findings, ignoreIDs); diff != "" {
		t.Errorf("findings differ (-first +second):\n%s", diff)
	}
}

func TestReanalyze_FailedThenCompleted(t *testing.T) {
	stub := &stubClient{send: func(ctx context.Context, call int) (*provider.Completion, error) {
		if call == 1 {
			return nil, &provider.Error{Kind: provider.ErrRateLimited, Provider: "stub", StatusCode: 429}
		}
		return reply(popularityResponse)(ctx, call)
	}}
	a, _ := newTestAnalyzer(t, stub)
	ctx := context.Background()

	r, _ := a.Create(ctx, popularitySource, stubConfig)
	if r.State != model.StateFailed {
		t.Fatalf("first run: got %s", r.State)
	}
	r, err := a.Reanalyze(ctx, r.ID, stubConfig)
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	if r.State != model.StateCompleted || r.ErrorMessage != "" || len(r.Findings) != 1 {
		t.Errorf("second run: %s %q %d findings", r.State, r.ErrorMessage, len(r.Findings))
	}
}

func TestReanalyze_RequiresTerminalState(t *testing.T) {
	stub := &stubClient{send: reply(popularityResponse)}
	a, _ := newTestAnalyzer(t, stub)
	ctx := context.Background()

	r, _ := a.Submit(ctx, popularitySource)
	if _, err := a.Reanalyze(ctx, r.ID, stubConfig); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if stub.callCount() != 0 {
		t.Errorf("provider called for rejected transition")
	}
}

func TestAnalyze_UnknownID(t *testing.T) {
	a, _ := newTestAnalyzer(t, &stubClient{send: reply(popularityResponse)})
	if _, err := a.Analyze(context.Background(), "missing", stubConfig); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmit_RejectsBlankText(t *testing.T) {
	a, st := newTestAnalyzer(t, &stubClient{send: reply("")})
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := a.Submit(context.Background(), text); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Submit(%q): expected ErrEmptyText, got %v", text, err)
		}
	}
	all, _ := st.List(context.Background(), store.Filter{})
	if len(all) != 0 {
		t.Errorf("blank submissions were stored: %d", len(all))
	}
}

func TestSubmit_Idle(t *testing.T) {
	a, _ := newTestAnalyzer(t, &stubClient{send: reply("")})
	r, err := a.Submit(context.Background(), popularitySource)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.State != model.StateIdle || r.Findings != nil || r.ErrorMessage != "" {
		t.Errorf("new request: %+v", r)
	}
}

func TestAnalyze_InFlightGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubClient{send: func(ctx context.Context, call int) (*provider.Completion, error) {
		if call == 1 {
			close(entered)
		}
		<-release
		return reply(`{"fallacyInstances": []}`)(ctx, call)
	}}
	a, st := newTestAnalyzer(t, stub)
	ctx := context.Background()

	r, _ := a.Submit(ctx, popularitySource)
	out := a.AnalyzeAsync(ctx, r.ID, stubConfig)
	<-entered

	// InProgress is persisted before the provider call.
	cur, _ := st.Get(ctx, r.ID)
	if cur.State != model.StateInProgress {
		t.Errorf("state during call: got %s, want in_progress", cur.State)
	}
	if _, err := a.Analyze(ctx, r.ID, stubConfig); !errors.Is(err, ErrInFlight) {
		t.Errorf("concurrent Analyze: expected ErrInFlight, got %v", err)
	}

	close(release)
	o := <-out
	if o.Err != nil {
		t.Fatalf("async outcome: %v", o.Err)
	}
	if o.Request.State != model.StateCompleted {
		t.Errorf("async state: got %s", o.Request.State)
	}
	if _, ok := <-out; ok {
		t.Error("outcome channel not closed")
	}
	a.Wait()
	if stub.callCount() != 1 {
		t.Errorf("provider calls: got %d, want 1", stub.callCount())
	}
}

func TestReanalyze_ClearsFindingsWhileInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubClient{send: func(ctx context.Context, call int) (*provider.Completion, error) {
		if call == 2 {
			close(entered)
			<-release
		}
		return reply(popularityResponse)(ctx, call)
	}}
	a, st := newTestAnalyzer(t, stub)
	ctx := context.Background()

	r, err := a.Create(ctx, popularitySource, stubConfig)
	if err != nil || len(r.Findings) != 1 {
		t.Fatalf("Create: %v, %d findings", err, len(r.Findings))
	}
	out := a.AnalyzeAsync(ctx, r.ID, stubConfig)
	<-entered

	cur, err := st.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.State != model.StateInProgress {
		t.Errorf("state during rerun: got %s, want in_progress", cur.State)
	}
	if len(cur.Findings) != 0 {
		t.Errorf("in_progress request kept %d findings from the previous run", len(cur.Findings))
	}

	close(release)
	o := <-out
	if o.Err != nil || o.Request.State != model.StateCompleted || len(o.Request.Findings) != 1 {
		t.Errorf("rerun outcome: %+v", o)
	}
	a.Wait()
}

// cancelOnInProgress cancels the caller's context while the in_progress
// transition is being written.
type cancelOnInProgress struct {
	store.Store
	cancel context.CancelFunc
}

func (c *cancelOnInProgress) Save(ctx context.Context, r *model.AnalysisRequest) error {
	if r.State == model.StateInProgress {
		c.cancel()
		time.Sleep(20 * time.Millisecond)
	}
	return c.Store.Save(ctx, r)
}

func TestAnalyze_CancelDuringTransitionLeavesNoStuckRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewSerial(&cancelOnInProgress{Store: store.NewMemory(), cancel: cancel})
	defer st.Close()
	stub := &stubClient{send: reply(popularityResponse)}
	factory := func(context.Context, provider.Config) (provider.Client, error) { return stub, nil }
	a := New(st, WithFactory(factory))

	r, err := a.Submit(context.Background(), popularitySource)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := a.Analyze(ctx, r.ID, stubConfig)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.State.Terminal() {
		t.Errorf("returned state: got %s, want terminal", got.State)
	}
	stored, err := st.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.State != got.State {
		t.Errorf("stored state: got %s, want %s", stored.State, got.State)
	}

	again, err := a.Reanalyze(context.Background(), r.ID, stubConfig)
	if err != nil {
		t.Fatalf("Reanalyze after cancelled run: %v", err)
	}
	if again.State != model.StateCompleted {
		t.Errorf("rerun state: got %s", again.State)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	log, logs := observedLogger()
	stub := &stubClient{send: func(ctx context.Context, _ int) (*provider.Completion, error) {
		<-ctx.Done()
		return nil, &provider.Error{Kind: provider.ErrTransport, Provider: "stub", Err: ctx.Err()}
	}}
	a, _ := newTestAnalyzer(t, stub, WithLogger(log), WithTimeout(20*time.Millisecond))

	r, err := a.Create(context.Background(), popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateFailed {
		t.Errorf("state: got %s, want failed", r.State)
	}
	assertCause(t, logs, "timeout")
}

func TestAnalyze_CallerCancelStillCommits(t *testing.T) {
	st := store.NewSerial(store.NewMemory())
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stub := &stubClient{send: func(ctx context.Context, _ int) (*provider.Completion, error) {
		cancel()
		<-ctx.Done()
		return nil, &provider.Error{Kind: provider.ErrTransport, Provider: "stub", Err: ctx.Err()}
	}}
	factory := func(context.Context, provider.Config) (provider.Client, error) { return stub, nil }
	a := New(st, WithFactory(factory))

	r, err := a.Submit(ctx, popularitySource)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := a.Analyze(ctx, r.ID, stubConfig)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.State != model.StateFailed {
		t.Errorf("returned state: got %s", got.State)
	}
	stored, _ := st.Get(context.Background(), r.ID)
	if stored.State != model.StateFailed {
		t.Errorf("stored state: got %s, want failed", stored.State)
	}
}

func TestAnalyze_Retries(t *testing.T) {
	stub := &stubClient{send: func(ctx context.Context, call int) (*provider.Completion, error) {
		if call == 1 {
			return nil, &provider.Error{Kind: provider.ErrRateLimited, Provider: "stub", StatusCode: 429}
		}
		return reply(popularityResponse)(ctx, call)
	}}
	a, _ := newTestAnalyzer(t, stub, WithRetries(2, time.Millisecond))

	r, err := a.Create(context.Background(), popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.State != model.StateCompleted {
		t.Errorf("state: got %s", r.State)
	}
	if stub.callCount() != 2 {
		t.Errorf("provider calls: got %d, want 2", stub.callCount())
	}
}

func TestAnalyze_NoRetryOnAuth(t *testing.T) {
	stub := &stubClient{send: func(context.Context, int) (*provider.Completion, error) {
		return nil, &provider.Error{Kind: provider.ErrAuth, Provider: "stub", StatusCode: 401}
	}}
	a, _ := newTestAnalyzer(t, stub, WithRetries(3, time.Millisecond))

	r, _ := a.Create(context.Background(), popularitySource, stubConfig)
	if r.State != model.StateFailed {
		t.Errorf("state: got %s", r.State)
	}
	if stub.callCount() != 1 {
		t.Errorf("provider calls: got %d, want 1", stub.callCount())
	}
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*model.AnalysisRequest
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, r *model.AnalysisRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, r)
	return p.err
}

func TestAnalyze_PublishesTerminalState(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	a, _ := newTestAnalyzer(t, &stubClient{send: reply(popularityResponse)}, WithPublisher(pub))

	r, err := a.Create(context.Background(), popularitySource, stubConfig)
	if err != nil {
		t.Fatalf("publish errors must not fail the analysis: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published: got %d, want 1", len(pub.published))
	}
	if pub.published[0].ID != r.ID || pub.published[0].State != model.StateCompleted {
		t.Errorf("published %+v", pub.published[0])
	}
}

func TestRecover(t *testing.T) {
	a, st := newTestAnalyzer(t, &stubClient{send: reply("")})
	ctx := context.Background()

	stuck := model.NewRequest("stuck text", time.Now())
	stuck.State = model.StateInProgress
	done := model.NewRequest("done text", time.Now())
	done.State = model.StateCompleted
	for _, r := range []*model.AnalysisRequest{stuck, done} {
		if err := st.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := a.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered: got %d, want 1", n)
	}
	got, _ := st.Get(ctx, stuck.ID)
	if got.State != model.StateIdle {
		t.Errorf("stuck request: got %s, want idle", got.State)
	}
	got, _ = st.Get(ctx, done.ID)
	if got.State != model.StateCompleted {
		t.Errorf("completed request touched: %s", got.State)
	}
}

func TestNewFactory(t *testing.T) {
	f := NewFactory(ClientOptions{RateLimit: 5, Burst: 1})
	ctx := context.Background()

	cfg := provider.Config{Provider: provider.Chat, APIKey: "k", BaseURL: "http://localhost"}
	c1, err := f(ctx, cfg)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	c2, _ := f(ctx, cfg)
	if c1 != c2 {
		t.Error("expected the same client for the same configuration")
	}
	cfg.Model = "other"
	c3, _ := f(ctx, cfg)
	if c3 == c1 {
		t.Error("expected a new client for a different model")
	}

	if _, err := f(ctx, provider.Config{Provider: provider.Chat}); !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("missing key: expected ErrUnavailable, got %v", err)
	}
}

func TestCauseOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{&provider.Error{Kind: provider.ErrTransport, Err: context.Canceled}, "canceled"},
		{&provider.Error{Kind: provider.ErrUnavailable}, "unavailable"},
		{errors.New("anything else"), "transport"},
	}
	for _, tt := range tests {
		if got := causeOf(tt.err); got != tt.want {
			t.Errorf("causeOf(%v): got %q, want %q", tt.err, got, tt.want)
		}
	}
}

func assertCause(t *testing.T, logs *observer.ObservedLogs, want string) {
	t.Helper()
	entries := logs.FilterMessage("analysis failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["cause"]; got != want {
		t.Errorf("cause: got %v, want %q", got, want)
	}
}

func newChatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	body := `{"error":{"message":"slow down"}}`
	if status == http.StatusOK {
		resp := map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 20},
		}
		b, err := json.Marshal(resp)
		if err != nil {
			t.Fatal(err)
		}
		body = string(b)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
