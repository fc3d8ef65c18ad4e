package generator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/provider"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
)

// ProbeModels is the wider list checked when no explicit list is given.
var ProbeModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.5-flash-lite",
	"gemini-2.0-flash",
	"gemini-2.0-pro",
	"gemini-2.0-flash-exp",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-1.5-flash-8b",
	"gemini-1.5-flash-latest",
	"gemini-1.5-pro-latest",
}

// ProbeResult is the availability of one model.
type ProbeResult struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Recommendation suggests a candidate order from the available models.
type Recommendation struct {
	Primary  string   `json:"primary,omitempty"`
	Fallback []string `json:"fallback,omitempty"`
	Message  string   `json:"message"`
}

// ProbeReport summarises a probe run.
type ProbeReport struct {
	Available      []string       `json:"availableModels"`
	Unavailable    []ProbeResult  `json:"unavailableModels"`
	TotalTested    int            `json:"totalTested"`
	Recommendation Recommendation `json:"recommendation"`
}

// Prober checks which models a key can use with a tiny unary call per model.
type Prober struct {
	provider provider.Provider
	keys     *resilience.KeyPool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber builds a Prober. The key pool must not be nil.
func NewProber(p provider.Provider, keys *resilience.KeyPool, logger *zap.Logger) (*Prober, error) {
	if keys == nil || keys.Size() == 0 {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		provider: p,
		keys:     keys,
		timeout:  20 * time.Second,
		logger:   logger.With(zap.String("component", "prober")),
	}, nil
}

// Probe tests the models one after another, in order.
func (p *Prober) Probe(ctx context.Context, models []string) ProbeReport {
	if len(models) == 0 {
		models = ProbeModels
	}

	report := ProbeReport{TotalTested: len(models), Available: []string{}, Unavailable: []ProbeResult{}}
	for _, model := range models {
		res := p.probeOne(ctx, model)
		if res.Available {
			report.Available = append(report.Available, model)
			p.logger.Info("model available", zap.String("model", model))
		} else {
			report.Unavailable = append(report.Unavailable, res)
			p.logger.Info("model unavailable", zap.String("model", model), zap.String("error", res.Error))
		}
	}

	if len(report.Available) > 0 {
		report.Recommendation = Recommendation{
			Primary:  report.Available[0],
			Fallback: report.Available[1:],
			Message:  fmt.Sprintf("use %s as the primary model", report.Available[0]),
		}
	} else {
		report.Recommendation = Recommendation{
			Message: "no model is available; check that the API key has Gemini API access and the models are enabled for the project",
		}
	}
	return report
}

func (p *Prober) probeOne(ctx context.Context, model string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.provider.Infer(ctx, provider.Request{
		Model:  model,
		Prompt: "Hi",
		Config: provider.GenerationConfig{Temperature: 0.7, MaxOutputTokens: 10},
		APIKey: p.keys.Next(),
	})
	if err != nil {
		return ProbeResult{Model: model, Error: err.Error()}
	}
	if resp.Text == "" {
		return ProbeResult{Model: model, Error: "empty response"}
	}
	return ProbeResult{Model: model, Available: true}
}
