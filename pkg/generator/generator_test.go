package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdhe/polkadot-devkit/pkg/provider"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
)

// step scripts one InferStream call.
type step struct {
	openErr   error    // returned by InferStream itself
	chunks    []string // streamed text
	streamErr error    // sent after the chunks instead of Done
}

type fakeProvider struct {
	mu     sync.Mutex
	script map[string][]step
	calls  []string
	keys   []string
}

func newFake() *fakeProvider {
	return &fakeProvider{script: make(map[string][]step)}
}

func (f *fakeProvider) on(model string, steps ...step) *fakeProvider {
	f.script[model] = append(f.script[model], steps...)
	return f
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) next(model string) step {
	steps := f.script[model]
	if len(steps) == 0 {
		return step{openErr: errors.New("fake: no script for " + model)}
	}
	s := steps[0]
	if len(steps) > 1 {
		f.script[model] = steps[1:]
	}
	return s
}

func (f *fakeProvider) Infer(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	s := f.next(req.Model)
	f.mu.Unlock()

	if s.openErr != nil {
		return provider.Response{}, s.openErr
	}
	return provider.Response{Text: strings.Join(s.chunks, "")}, nil
}

func (f *fakeProvider) InferStream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	f.keys = append(f.keys, req.APIKey)
	s := f.next(req.Model)
	f.mu.Unlock()

	if s.openErr != nil {
		return nil, s.openErr
	}
	ch := make(chan provider.StreamChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- provider.StreamChunk{Text: c}
	}
	if s.streamErr != nil {
		ch <- provider.StreamChunk{Err: s.streamErr}
	} else {
		ch <- provider.StreamChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	client   *Client
	fake     *fakeProvider
	waits    []time.Duration
	attempts []Attempt
}

func newHarness(t *testing.T, fake *fakeProvider, breakers *resilience.BreakerSet) *harness {
	t.Helper()
	keys, err := resilience.NewKeyPool([]string{"test-key"})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{fake: fake}
	var cands []Candidate
	for _, m := range DefaultModels {
		cands = append(cands, Candidate{Model: m, Provider: fake, Keys: keys})
	}
	h.client, err = New(cands, Options{
		Retry:    resilience.DefaultRetryConfig(),
		Breakers: breakers,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
			return nil
		},
		Observe: func(a Attempt) { h.attempts = append(h.attempts, a) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) run(prompt string) ([]string, error) {
	var frags []string
	for frag, err := range h.client.Stream(context.Background(), Prompt{Text: prompt}, DefaultGenerationConfig) {
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

func rateLimited(msg string) error {
	return &provider.APIError{Provider: "gemini", StatusCode: 429, Body: msg}
}

const primary = "gemini-2.5-flash"

func TestPrimarySuccessNeverFallsBack(t *testing.T) {
	h := newHarness(t, newFake().on(primary, step{chunks: []string{"fn ", "main", "()"}}), nil)

	frags, err := h.run("write a contract")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(frags, ""); got != "fn main()" {
		t.Errorf("output = %q", got)
	}
	if calls := h.fake.callLog(); len(calls) != 1 || calls[0] != primary {
		t.Errorf("calls = %v, want only the primary", calls)
	}
	if len(h.waits) != 0 {
		t.Errorf("unexpected waits %v", h.waits)
	}
}

func TestRateLimitedTwiceThenSucceeds(t *testing.T) {
	fake := newFake().on(primary,
		step{openErr: rateLimited(`{"error":{"code":429,"message":"quota"}}`)},
		step{openErr: rateLimited(`{"error":{"code":429,"message":"quota"}}`)},
		step{chunks: []string{"done"}},
	)
	h := newHarness(t, fake, nil)

	frags, err := h.run("p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(frags, "") != "done" {
		t.Errorf("output = %v", frags)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(h.waits) != len(want) || h.waits[0] != want[0] || h.waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", h.waits, want)
	}
	for _, m := range fake.callLog() {
		if m != primary {
			t.Errorf("fallback model %s was invoked", m)
		}
	}
}

func TestRateLimitHonorsSuggestedDelay(t *testing.T) {
	fake := newFake().on(primary,
		step{openErr: rateLimited("Resource exhausted. Please retry in 1.25s.")},
		step{chunks: []string{"ok"}},
	)
	h := newHarness(t, fake, nil)

	if _, err := h.run("p"); err != nil {
		t.Fatal(err)
	}
	if len(h.waits) != 1 || h.waits[0] != 1250*time.Millisecond {
		t.Errorf("waits = %v, want [1.25s]", h.waits)
	}
}

func TestPrimaryRateLimitExhaustedFallsBack(t *testing.T) {
	limit := step{openErr: rateLimited("quota")}
	fake := newFake().
		on(primary, limit, limit, limit).
		on("gemini-2.5-pro", step{chunks: []string{"from pro"}})
	h := newHarness(t, fake, nil)

	frags, err := h.run("p")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(frags, "") != "from pro" {
		t.Errorf("output = %v", frags)
	}
	if len(h.waits) != 2 {
		t.Errorf("waits = %v, want 2", h.waits)
	}
	calls := fake.callLog()
	if len(calls) != 4 || calls[3] != "gemini-2.5-pro" {
		t.Errorf("calls = %v", calls)
	}
}

func TestAllCandidatesFail(t *testing.T) {
	fake := newFake()
	for _, m := range DefaultModels {
		fake.on(m, step{openErr: &provider.APIError{Provider: "gemini", StatusCode: 500, Body: "internal " + m}})
	}
	h := newHarness(t, fake, nil)

	_, err := h.run("p")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	for _, m := range DefaultModels {
		if !strings.Contains(err.Error(), m) {
			t.Errorf("error %q does not name %s", err, m)
		}
	}
	if !strings.Contains(err.Error(), "internal gemini-1.5-pro") {
		t.Errorf("error %q lost the last cause", err)
	}
	if len(fake.callLog()) != len(DefaultModels) {
		t.Errorf("calls = %v", fake.callLog())
	}
	if len(h.waits) != 0 {
		t.Errorf("non-rate-limit errors must not back off: %v", h.waits)
	}
}

func TestNotFoundAddsProbeHint(t *testing.T) {
	fake := newFake()
	for _, m := range DefaultModels {
		fake.on(m, step{openErr: &provider.APIError{Provider: "gemini", StatusCode: 404, Body: "models/" + m + " is not found"}})
	}
	_, err := newHarness(t, fake, nil).run("p")
	if err == nil || !strings.Contains(err.Error(), "check-models") {
		t.Errorf("err = %v, want a check-models hint", err)
	}
}

func TestAuthErrorAbortsImmediately(t *testing.T) {
	fake := newFake().
		on(primary, step{openErr: &provider.APIError{Provider: "gemini", StatusCode: 403, Body: "PERMISSION_DENIED"}}).
		on("gemini-2.5-pro", step{chunks: []string{"should not run"}})
	h := newHarness(t, fake, nil)

	_, err := h.run("p")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if calls := fake.callLog(); len(calls) != 1 {
		t.Errorf("fallback invoked after auth error: %v", calls)
	}
}

func TestEmptyStreamCountsAsFailure(t *testing.T) {
	fake := newFake().
		on(primary, step{chunks: []string{"", ""}}).
		on("gemini-2.5-pro", step{chunks: []string{"x"}})
	h := newHarness(t, fake, nil)

	frags, err := h.run("p")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(frags, "") != "x" {
		t.Errorf("output = %v", frags)
	}
	if len(h.attempts) < 1 || !errors.Is(h.attempts[0].Err, ErrEmptyOutput) {
		t.Errorf("first attempt = %+v, want ErrEmptyOutput", h.attempts)
	}
	if len(h.waits) != 0 {
		t.Errorf("empty output must not back off: %v", h.waits)
	}
}

func TestMidStreamErrorIsFatal(t *testing.T) {
	fake := newFake().
		on(primary, step{chunks: []string{"partial"}, streamErr: errors.New("connection reset")}).
		on("gemini-2.5-pro", step{chunks: []string{"dup"}})
	h := newHarness(t, fake, nil)

	frags, err := h.run("p")
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("err = %v", err)
	}
	if len(frags) != 1 || frags[0] != "partial" {
		t.Errorf("frags = %v", frags)
	}
	if len(fake.callLog()) != 1 {
		t.Errorf("fallback ran after partial output: %v", fake.callLog())
	}
}

func TestConsumerStopsEarly(t *testing.T) {
	fake := newFake().on(primary, step{chunks: []string{"a", "b", "c"}})
	h := newHarness(t, fake, nil)

	var got []string
	for frag, err := range h.client.Stream(context.Background(), Prompt{Text: "p"}, DefaultGenerationConfig) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, frag)
		break
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got = %v", got)
	}
}

func TestOpenBreakerSkipsFallbackCandidate(t *testing.T) {
	breakers := resilience.NewBreakerSet(resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	breakers.For("gemini-2.5-pro").RecordFailure()

	fake := newFake().
		on(primary, step{openErr: errors.New("boom")}).
		on("gemini-2.0-flash", step{chunks: []string{"ok"}})
	h := newHarness(t, fake, breakers)

	frags, err := h.run("p")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(frags, "") != "ok" {
		t.Errorf("output = %v", frags)
	}
	for _, m := range fake.callLog() {
		if m == "gemini-2.5-pro" {
			t.Error("model with open circuit was called")
		}
	}
	if h.attempts[1].Outcome != resilience.OutcomeSkipped {
		t.Errorf("attempts = %+v", h.attempts)
	}
}

func TestEmptyPrompt(t *testing.T) {
	fake := newFake()
	h := newHarness(t, fake, nil)
	if _, err := h.run("   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("err = %v", err)
	}
	if len(fake.callLog()) != 0 {
		t.Error("provider called for an empty prompt")
	}
}

func TestMissingCredentialFailsAtConstruction(t *testing.T) {
	fake := newFake()
	_, err := New([]Candidate{{Model: primary, Provider: fake}}, Options{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if _, err := resilience.NewKeyPool(nil); !errors.Is(err, resilience.ErrNoKeys) {
		t.Fatalf("NewKeyPool(nil) = %v", err)
	}
	if len(fake.callLog()) != 0 {
		t.Error("network call issued without a credential")
	}
}

func TestChatHistoryIsForwarded(t *testing.T) {
	var got provider.Request
	p := &recordingProvider{fn: func(req provider.Request) { got = req }}
	keys, _ := resilience.NewKeyPool([]string{"k"})
	c, err := New([]Candidate{{Model: primary, Provider: p, Keys: keys}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	history := []provider.Message{{Role: provider.RoleUser, Text: "system"}, {Role: provider.RoleModel, Text: "ack"}}
	for _, err := range c.Stream(context.Background(), Prompt{Text: "hi", History: history}, DefaultGenerationConfig) {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got.Prompt != "hi" || len(got.History) != 2 || got.APIKey != "k" || got.Config.TopK != 40 {
		t.Errorf("request = %+v", got)
	}
}

type recordingProvider struct {
	fn func(provider.Request)
}

func (r *recordingProvider) Name() string { return "recording" }

func (r *recordingProvider) Infer(ctx context.Context, req provider.Request) (provider.Response, error) {
	r.fn(req)
	return provider.Response{Text: "ok"}, nil
}

func (r *recordingProvider) InferStream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	r.fn(req)
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Text: "ok"}
	ch <- provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestProbe(t *testing.T) {
	fake := newFake().
		on("a", step{chunks: []string{"Hello"}}).
		on("b", step{openErr: &provider.APIError{Provider: "gemini", StatusCode: 404, Body: "not found"}}).
		on("c", step{chunks: []string{"Hi"}})
	keys, _ := resilience.NewKeyPool([]string{"k"})
	prober, err := NewProber(fake, keys, nil)
	if err != nil {
		t.Fatal(err)
	}

	report := prober.Probe(context.Background(), []string{"a", "b", "c"})
	if report.TotalTested != 3 || len(report.Available) != 2 || len(report.Unavailable) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Unavailable[0].Model != "b" || report.Unavailable[0].Error == "" {
		t.Errorf("unavailable = %+v", report.Unavailable)
	}
	if report.Recommendation.Primary != "a" || len(report.Recommendation.Fallback) != 1 {
		t.Errorf("recommendation = %+v", report.Recommendation)
	}
}

func TestTransportErrorsFallBackWithoutRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"refused on a port containing 403", errors.New(`gemini: do request: Post "http://10.0.4.17:4030/v1beta": dial tcp 10.0.4.17:4030: connect: connection refused`)},
		{"reset on a port containing 429", errors.New("gemini: stream scan: read tcp 10.1.2.3:54290->142.250.1.95:443: connection reset by peer")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake().
				on(primary, step{openErr: tt.err}).
				on("gemini-2.5-pro", step{chunks: []string{"ok"}})
			h := newHarness(t, fake, nil)

			frags, err := h.run("p")
			if err != nil {
				t.Fatalf("err = %v, want fallback output", err)
			}
			if strings.Join(frags, "") != "ok" {
				t.Errorf("output = %v", frags)
			}
			if calls := fake.callLog(); len(calls) != 2 || calls[1] != "gemini-2.5-pro" {
				t.Errorf("calls = %v", calls)
			}
			if len(h.waits) != 0 {
				t.Errorf("transport error must not back off: %v", h.waits)
			}
		})
	}
}

func TestExhaustedListsOnlyAttemptedModels(t *testing.T) {
	breakers := resilience.NewBreakerSet(resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	breakers.For("gemini-2.5-pro").RecordFailure()

	fake := newFake().on(primary,
		step{openErr: rateLimited("quota")},
		step{openErr: rateLimited("quota")},
		step{openErr: rateLimited("quota")},
	)
	for _, m := range DefaultModels[1:] {
		fake.on(m, step{openErr: &provider.APIError{Provider: "gemini", StatusCode: 500, Body: "internal"}})
	}
	_, err := newHarness(t, fake, breakers).run("p")

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	want := []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"}
	if strings.Join(exhausted.Models, ",") != strings.Join(want, ",") {
		t.Errorf("models = %v, want %v", exhausted.Models, want)
	}
	if len(exhausted.Skipped) != 1 || exhausted.Skipped[0] != "gemini-2.5-pro" {
		t.Errorf("skipped = %v", exhausted.Skipped)
	}
	if !strings.Contains(err.Error(), "circuit open: gemini-2.5-pro") {
		t.Errorf("message = %q", err)
	}
}

func TestAuthErrorNamesProvider(t *testing.T) {
	fake := newFake().on(primary, step{openErr: &provider.APIError{Provider: "fake", StatusCode: 401, Body: "bad key"}})
	_, err := newHarness(t, fake, nil).run("p")

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Provider != "fake" {
		t.Fatalf("err = %#v", err)
	}
	if strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("message points at the Gemini key: %q", err)
	}

	openaiErr := &AuthError{Provider: "openai", Model: "llama-3.3-70b-versatile", Err: errors.New("401")}
	if !strings.Contains(openaiErr.Error(), "OPENAI_API_KEY") {
		t.Errorf("message = %q", openaiErr.Error())
	}
}
