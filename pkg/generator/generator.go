// Package generator streams model output through an ordered list of
// candidate models, retrying the primary on rate limits and falling back
// to the others on failure.
package generator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/metrics"
	"github.com/abdhe/polkadot-devkit/pkg/provider"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
)

var tracer = otel.Tracer("github.com/abdhe/polkadot-devkit/pkg/generator")

var (
	// ErrNoCandidates is returned by New when no model is configured.
	ErrNoCandidates = errors.New("generator: no candidate models configured")

	// ErrNoAPIKey is returned by New when a candidate has no credentials.
	ErrNoAPIKey = errors.New("generator: API key is not configured")

	// ErrEmptyPrompt is yielded when the prompt is blank.
	ErrEmptyPrompt = errors.New("generator: prompt is empty")

	// ErrEmptyOutput marks a model stream that finished without content.
	ErrEmptyOutput = errors.New("model completed without producing any content")
)

// DefaultGenerationConfig is used when a task does not override sampling.
var DefaultGenerationConfig = provider.GenerationConfig{
	Temperature:     0.7,
	TopP:            0.9,
	TopK:            40,
	MaxOutputTokens: 1500,
}

// DefaultModels is the candidate order, primary first.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// Candidate is one model the client may stream from.
type Candidate struct {
	Model    string
	Provider provider.Provider
	Keys     *resilience.KeyPool
}

// Attempt is reported once per model attempt.
type Attempt struct {
	Model   string
	Number  int // 1-based, per model
	Outcome resilience.Outcome
	Err     error
	Wait    time.Duration // Backoff scheduled after this attempt, if any
}

// Options configures a Client.
type Options struct {
	Retry resilience.RetryConfig

	// Breakers gates fallback candidates; the primary is always attempted.
	// Nil disables circuit breaking.
	Breakers *resilience.BreakerSet

	// Sleep waits out a backoff. Defaults to resilience.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Observe is called after every attempt.
	Observe func(Attempt)

	Logger *zap.Logger
}

// Client is the streaming AI client. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	candidates []Candidate
	retry      resilience.RetryConfig
	breakers   *resilience.BreakerSet
	sleep      func(ctx context.Context, d time.Duration) error
	observe    func(Attempt)
	logger     *zap.Logger
}

// New validates the candidates and builds a Client. Every candidate must
// carry a provider and a non-empty key pool, so a missing credential fails
// here before any network call.
func New(candidates []Candidate, opts Options) (*Client, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	for _, c := range candidates {
		if c.Model == "" || c.Provider == nil {
			return nil, fmt.Errorf("generator: candidate %q is incomplete", c.Model)
		}
		if c.Keys == nil || c.Keys.Size() == 0 {
			return nil, fmt.Errorf("%w for %s", ErrNoAPIKey, c.Model)
		}
	}

	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = resilience.DefaultRetryConfig().MaxAttempts
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = resilience.DefaultRetryConfig().BaseDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		candidates: append([]Candidate(nil), candidates...),
		retry:      opts.Retry,
		breakers:   opts.Breakers,
		sleep:      opts.Sleep,
		observe:    opts.Observe,
		logger:     opts.Logger.With(zap.String("component", "generator")),
	}, nil
}

// Models returns the candidate model identifiers, primary first.
func (c *Client) Models() []string {
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.Model
	}
	return out
}

// Breakers exposes the breaker set, nil when disabled.
func (c *Client) Breakers() *resilience.BreakerSet { return c.breakers }

// Prompt is the input sent to every candidate.
type Prompt struct {
	Text    string
	History []provider.Message
}

// Stream returns a lazy sequence of non-empty fragments. The sequence is
// single-use: each range over it starts a new generation. It ends after the
// winning model's stream is exhausted, or with exactly one terminal error.
func (c *Client) Stream(ctx context.Context, p Prompt, cfg provider.GenerationConfig) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.TrimSpace(p.Text) == "" {
			yield("", ErrEmptyPrompt)
			return
		}
		r := &run{client: c, prompt: p, cfg: cfg, state: stateIdle}
		r.loop(ctx, yield)
	}
}

// AuthError aborts a run: the credential is rejected, so no other model can help.
type AuthError struct {
	Provider string
	Model    string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication with %s failed on %s, check %s: %v", e.Provider, e.Model, credentialHint(e.Provider), e.Err)
}

// credentialHint names the setting that holds a provider's key.
func credentialHint(providerName string) string {
	switch providerName {
	case "gemini":
		return "GEMINI_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return "the " + providerName + " API key"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExhaustedError reports that every candidate failed.
type ExhaustedError struct {
	Models  []string // attempted, in order
	Skipped []string // not called because their circuit was open
	Last    error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all models failed (tried: %s", strings.Join(e.Models, ", "))
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, "; skipped, circuit open: %s", strings.Join(e.Skipped, ", "))
	}
	b.WriteString(")")
	if e.Last != nil {
		fmt.Fprintf(&b, ": %v", e.Last)
	}
	if resilience.IsNotFound(e.Last) {
		b.WriteString("; the models may be unavailable to this key, run check-models to list the ones that are")
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

type state int

const (
	stateIdle state = iota
	stateAttempting
	stateBackoff
	stateFallbackExhausted
	stateDone
	stateFailed
)

func (s state) String() string {
	return [...]string{"idle", "attempting", "backoff", "fallback_exhausted", "done", "failed"}[s]
}

// run is the per-request state of one Stream call.
type run struct {
	client *Client
	prompt Prompt
	cfg    provider.GenerationConfig

	state   state
	idx     int // current candidate
	attempt int // 1-based attempt on the current candidate
	wait    time.Duration
	lastErr error
	err     error // set on entering stateFailed

	tried   []string
	skipped []string
}

func (r *run) loop(ctx context.Context, yield func(string, error) bool) {
	for {
		switch r.state {
		case stateIdle:
			r.idx, r.attempt = 0, 1
			r.state = stateAttempting

		case stateAttempting:
			r.attemptCurrent(ctx, yield)

		case stateBackoff:
			metrics.BackoffSeconds.Observe(r.wait.Seconds())
			if err := r.client.sleep(ctx, r.wait); err != nil {
				r.fail(err)
				continue
			}
			r.attempt++
			r.state = stateAttempting

		case stateFallbackExhausted:
			r.fail(&ExhaustedError{Models: r.tried, Skipped: r.skipped, Last: r.lastErr})

		case stateDone:
			return

		case stateFailed:
			r.client.logger.Warn("generation failed", zap.Error(r.err))
			yield("", r.err)
			return
		}
	}
}

func (r *run) fail(err error) {
	r.err = err
	r.state = stateFailed
}

// advance moves to the next candidate, or to exhaustion after the last one.
func (r *run) advance() {
	metrics.FallbacksTotal.WithLabelValues(r.client.candidates[r.idx].Model).Inc()
	r.idx++
	r.attempt = 1
	if r.idx >= len(r.client.candidates) {
		r.state = stateFallbackExhausted
		return
	}
	r.client.logger.Info("falling back to next model", zap.String("model", r.client.candidates[r.idx].Model))
	r.state = stateAttempting
}

func (r *run) attemptCurrent(ctx context.Context, yield func(string, error) bool) {
	cand := r.client.candidates[r.idx]

	var breaker *resilience.CircuitBreaker
	if r.client.breakers != nil {
		breaker = r.client.breakers.For(cand.Model)
		if r.idx > 0 && !breaker.Allow() {
			r.record(cand.Model, resilience.OutcomeSkipped, nil, 0)
			r.skipped = append(r.skipped, cand.Model)
			r.advance()
			return
		}
	}
	if r.attempt == 1 {
		r.tried = append(r.tried, cand.Model)
	}

	delivered, stopped, key, err := r.streamOnce(ctx, cand, yield)
	if stopped {
		// Consumer stopped pulling; nothing more may be yielded.
		r.record(cand.Model, resilience.OutcomeSuccess, nil, 0)
		r.state = stateDone
		return
	}
	if err == nil {
		r.record(cand.Model, resilience.OutcomeSuccess, nil, 0)
		if breaker != nil {
			breaker.RecordSuccess()
		}
		r.state = stateDone
		return
	}

	if ctx.Err() != nil {
		r.fail(fmt.Errorf("generator: %s: %w", cand.Model, ctx.Err()))
		return
	}

	outcome := resilience.Classify(err)
	if breaker != nil && outcome != resilience.OutcomeAuthError {
		breaker.RecordFailure()
	}

	// Output already reached the consumer; a retry would duplicate it.
	if delivered > 0 {
		r.record(cand.Model, outcome, err, 0)
		r.fail(fmt.Errorf("generator: %s stream interrupted: %w", cand.Model, err))
		return
	}

	switch outcome {
	case resilience.OutcomeAuthError:
		r.record(cand.Model, outcome, err, 0)
		r.fail(&AuthError{Provider: cand.Provider.Name(), Model: cand.Model, Err: err})

	case resilience.OutcomeRateLimited:
		wait := r.client.retry.Delay(r.attempt, err.Error())
		cand.Keys.MarkRateLimited(key, time.Now().Add(wait))
		if r.idx == 0 && r.attempt < r.client.retry.MaxAttempts {
			r.record(cand.Model, outcome, err, wait)
			r.wait = wait
			r.state = stateBackoff
			return
		}
		r.record(cand.Model, outcome, err, 0)
		r.lastErr = err
		r.advance()

	default:
		r.record(cand.Model, outcome, err, 0)
		r.lastErr = err
		r.advance()
	}
}

// streamOnce runs a single attempt against one candidate. delivered counts
// fragments handed to the consumer; stopped reports that the consumer quit.
func (r *run) streamOnce(ctx context.Context, cand Candidate, yield func(string, error) bool) (delivered int, stopped bool, key string, err error) {
	ctx, span := tracer.Start(ctx, "generator.attempt")
	span.SetAttributes(
		attribute.String("model", cand.Model),
		attribute.String("provider", cand.Provider.Name()),
		attribute.Int("attempt", r.attempt),
	)
	defer func() {
		span.SetAttributes(attribute.Int("fragments", delivered))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Cancelling on return releases the provider goroutine when the
	// consumer stops early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	key = cand.Keys.Next()
	r.client.logger.Debug("attempting model",
		zap.String("model", cand.Model),
		zap.Int("attempt", r.attempt),
	)

	ch, err := cand.Provider.InferStream(ctx, provider.Request{
		Model:   cand.Model,
		Prompt:  r.prompt.Text,
		History: r.prompt.History,
		Config:  r.cfg,
		APIKey:  key,
	})
	if err != nil {
		return 0, false, key, err
	}

	for chunk := range ch {
		if chunk.Err != nil {
			return delivered, false, key, chunk.Err
		}
		if chunk.Done {
			if chunk.PromptTokens > 0 {
				metrics.TokenUsageTotal.WithLabelValues(cand.Model, "input").Add(float64(chunk.PromptTokens))
			}
			if chunk.OutputTokens > 0 {
				metrics.TokenUsageTotal.WithLabelValues(cand.Model, "output").Add(float64(chunk.OutputTokens))
			}
			continue
		}
		if chunk.Text == "" {
			continue
		}
		delivered++
		if !yield(chunk.Text, nil) {
			return delivered, true, key, nil
		}
	}

	if ctx.Err() != nil {
		return delivered, false, key, ctx.Err()
	}
	if delivered == 0 {
		return 0, false, key, fmt.Errorf("%s: %w", cand.Model, ErrEmptyOutput)
	}
	return delivered, false, key, nil
}

func (r *run) record(model string, outcome resilience.Outcome, err error, wait time.Duration) {
	metrics.ModelAttemptsTotal.WithLabelValues(model, outcome.String()).Inc()
	if r.client.breakers != nil {
		metrics.CircuitBreakerState.WithLabelValues(model).Set(float64(r.client.breakers.For(model).State()))
	}

	fields := []zap.Field{
		zap.String("model", model),
		zap.Int("attempt", r.attempt),
		zap.String("outcome", outcome.String()),
	}
	if wait > 0 {
		fields = append(fields, zap.Duration("wait", wait))
	}
	switch outcome {
	case resilience.OutcomeSuccess:
		r.client.logger.Info("model attempt finished", fields...)
	case resilience.OutcomeSkipped:
		r.client.logger.Info("model skipped, circuit open", fields...)
	default:
		r.client.logger.Warn("model attempt failed", append(fields, zap.Error(err))...)
	}

	if r.client.observe != nil {
		r.client.observe(Attempt{Model: model, Number: r.attempt, Outcome: outcome, Err: err, Wait: wait})
	}
}
