// Package assist runs the DevKit tasks: each builds a prompt and streams the
// answer through a fallback-aware generator.
package assist

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/errparse"
	"github.com/abdhe/polkadot-devkit/pkg/generator"
	"github.com/abdhe/polkadot-devkit/pkg/prompts"
	"github.com/abdhe/polkadot-devkit/pkg/provider"
)

// Streamer produces fragments for a prompt. *generator.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, p generator.Prompt, cfg provider.GenerationConfig) iter.Seq2[string, error]
}

// Assistant exposes one method per task.
type Assistant struct {
	gen    Streamer
	logger *zap.Logger
}

// New creates an Assistant.
func New(gen Streamer, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{gen: gen, logger: logger.With(zap.String("component", "assist"))}
}

// Run streams a prebuilt task. A terminal error is prefixed with the task name.
func (a *Assistant) Run(ctx context.Context, t prompts.Task) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		a.logger.Debug("task started", zap.String("task", t.Name), zap.Int("prompt_len", len(t.Text)))
		for frag, err := range a.gen.Stream(ctx, generator.Prompt{Text: t.Text, History: t.History}, t.Config) {
			if err != nil {
				a.logger.Warn("task failed", zap.String("task", t.Name), zap.Error(err))
				yield("", fmt.Errorf("%s: %w", t.Name, err))
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// GenerateContract streams a new contract.
func (a *Assistant) GenerateContract(ctx context.Context, r prompts.ContractRequest) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.ContractTask(r))
}

// ExplainCode streams an explanation of code.
func (a *Assistant) ExplainCode(ctx context.Context, code string, focus prompts.Focus) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.ExplainTask(code, focus))
}

// DebugError streams a diagnosis. The error is classified locally first and
// the category is passed to the model.
func (a *Assistant) DebugError(ctx context.Context, errMsg, code, extra string) iter.Seq2[string, error] {
	parsed := errparse.Parse(errMsg)
	r := prompts.DebugRequest{ErrorMessage: errMsg, Code: code, Context: extra}
	if parsed.Type != errparse.KindUnknown {
		r.Category = string(parsed.Type)
	}
	return a.Run(ctx, prompts.DebugTask(r))
}

// Chat streams a reply to message given earlier turns.
func (a *Assistant) Chat(ctx context.Context, message string, history []provider.Message) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.ChatTask(message, history))
}

func (a *Assistant) GenerateTests(ctx context.Context, code string, lang prompts.Language) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.TestsTask(code, lang))
}

func (a *Assistant) ExplainTemplate(ctx context.Context, code, name string) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.TemplateExplainTask(code, name))
}

func (a *Assistant) TemplateVariation(ctx context.Context, code, variation string) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.TemplateVariationTask(code, variation))
}

func (a *Assistant) MarketplaceSearch(ctx context.Context, query string, templates []prompts.TemplateSummary) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.MarketplaceSearchTask(query, templates))
}

func (a *Assistant) LearningTutor(ctx context.Context, question, path string, progress float64) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.LearningTutorTask(question, path, progress))
}

func (a *Assistant) DocsSearch(ctx context.Context, query string, sections []prompts.DocSection) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.DocsSearchTask(query, sections))
}

func (a *Assistant) DeploymentGuide(ctx context.Context, code, question string) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.DeploymentTask(code, question))
}

func (a *Assistant) AnalyticsInsights(ctx context.Context, data prompts.AnalyticsData, question string) iter.Seq2[string, error] {
	return a.Run(ctx, prompts.AnalyticsTask(data, question))
}
