package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/abdhe/polkadot-devkit/pkg/cache"
	"github.com/abdhe/polkadot-devkit/pkg/errparse"
	"github.com/abdhe/polkadot-devkit/pkg/prompts"
	"github.com/abdhe/polkadot-devkit/pkg/provider"
)

// bind decodes the JSON body into req and answers 400 on failure.
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, lowerFirst(fe.Field()))
		}
		badRequest(c, strings.Join(fields, ", ")+" is required")
	case errors.Is(err, io.EOF):
		badRequest(c, "request body is empty")
	default:
		badRequest(c, "invalid JSON body: "+err.Error())
	}
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ---------------------------------------------------------------------------
// Contract generation and code tools
// ---------------------------------------------------------------------------

type generateRequest struct {
	Prompt       string   `json:"prompt" binding:"required"`
	ContractType string   `json:"contractType" binding:"required"`
	Complexity   string   `json:"complexity"`
	Features     []string `json:"features"`
	Language     string   `json:"language"`
}

func (s *Server) generate(c *gin.Context) {
	var req generateRequest
	if !bind(c, &req) {
		return
	}
	r := prompts.ContractRequest{
		Description:  req.Prompt,
		ContractType: req.ContractType,
		Complexity:   prompts.ParseComplexity(req.Complexity),
		Features:     req.Features,
		Language:     prompts.ParseLanguage(req.Language),
	}
	s.stream(c, "generate", "failed to generate the contract", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.GenerateContract(ctx, r)
	})
}

type explainRequest struct {
	Code  string `json:"code" binding:"required"`
	Focus string `json:"focus"`
}

func (s *Server) explain(c *gin.Context) {
	var req explainRequest
	if !bind(c, &req) {
		return
	}
	focus, err := prompts.ParseFocus(req.Focus)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	s.stream(c, "explain", "failed to explain the code", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.ExplainCode(ctx, req.Code, focus)
	})
}

type debugRequest struct {
	ErrorMessage string `json:"errorMessage" binding:"required"`
	Code         string `json:"code"`
	Context      string `json:"context"`
}

func (s *Server) debug(c *gin.Context) {
	var req debugRequest
	if !bind(c, &req) {
		return
	}
	s.stream(c, "debug", "failed to analyse the error", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.DebugError(ctx, req.ErrorMessage, req.Code, req.Context)
	})
}

type parseRequest struct {
	ErrorMessage string `json:"errorMessage" binding:"required"`
}

func (s *Server) debugParse(c *gin.Context) {
	var req parseRequest
	if !bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, errparse.Parse(req.ErrorMessage))
}

type testsRequest struct {
	ContractCode string `json:"contractCode" binding:"required"`
	ContractType string `json:"contractType"`
}

func (s *Server) generateTests(c *gin.Context) {
	var req testsRequest
	if !bind(c, &req) {
		return
	}
	lang := prompts.ParseLanguage(req.ContractType)
	s.stream(c, "generate-tests", "failed to generate tests", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.GenerateTests(ctx, req.ContractCode, lang)
	})
}

type deployRequest struct {
	ContractCode string `json:"contractCode" binding:"required"`
	Question     string `json:"question" binding:"required"`
}

func (s *Server) deployAssistant(c *gin.Context) {
	var req deployRequest
	if !bind(c, &req) {
		return
	}
	s.stream(c, "deploy-assistant", "failed to build the deployment guide", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.DeploymentGuide(ctx, req.ContractCode, req.Question)
	})
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

// turnText accepts either a plain string or a list of {"text": ...} parts.
type turnText string

func (t *turnText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = turnText(s)
		return nil
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("parts must be a string or a list of text parts")
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	*t = turnText(b.String())
	return nil
}

type chatTurn struct {
	Role  string   `json:"role"`
	Parts turnText `json:"parts"`
}

type chatRequest struct {
	Message string     `json:"message"`
	Prompt  string     `json:"prompt"`
	History []chatTurn `json:"history"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if !bind(c, &req) {
		return
	}
	message := req.Message
	if message == "" {
		message = req.Prompt
	}
	if strings.TrimSpace(message) == "" {
		badRequest(c, "message is required")
		return
	}

	history := make([]provider.Message, 0, len(req.History))
	for i, turn := range req.History {
		var role provider.Role
		switch turn.Role {
		case "user":
			role = provider.RoleUser
		case "model", "assistant":
			role = provider.RoleModel
		default:
			badRequest(c, fmt.Sprintf("history[%d].role must be user or model", i))
			return
		}
		history = append(history, provider.Message{Role: role, Text: string(turn.Parts)})
	}

	s.stream(c, "chat", "failed to answer the message", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.Chat(ctx, message, history)
	})
}

// ---------------------------------------------------------------------------
// Templates, search, learning and analytics
// ---------------------------------------------------------------------------

type templateExplainRequest struct {
	TemplateCode string `json:"templateCode" binding:"required"`
	TemplateName string `json:"templateName" binding:"required"`
}

func (s *Server) templateExplain(c *gin.Context) {
	var req templateExplainRequest
	if !bind(c, &req) {
		return
	}
	s.stream(c, "template-explain", "failed to explain the template", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.ExplainTemplate(ctx, req.TemplateCode, req.TemplateName)
	})
}

type templateVariationRequest struct {
	TemplateCode     string `json:"templateCode" binding:"required"`
	VariationRequest string `json:"variationRequest" binding:"required"`
}

func (s *Server) templateVariation(c *gin.Context) {
	var req templateVariationRequest
	if !bind(c, &req) {
		return
	}
	s.stream(c, "template-variation", "failed to generate the variation", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.TemplateVariation(ctx, req.TemplateCode, req.VariationRequest)
	})
}

type templateSummary struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

type marketplaceRequest struct {
	SearchQuery        string            `json:"searchQuery" binding:"required"`
	AvailableTemplates []templateSummary `json:"availableTemplates"`
}

func (s *Server) marketplaceSearch(c *gin.Context) {
	var req marketplaceRequest
	if !bind(c, &req) {
		return
	}
	templates := make([]prompts.TemplateSummary, len(req.AvailableTemplates))
	for i, t := range req.AvailableTemplates {
		templates[i] = prompts.TemplateSummary{Title: t.Title, Description: t.Description, Category: t.Category, Tags: t.Tags}
	}
	s.stream(c, "marketplace-search", "failed to search the marketplace", s.cached(c, "marketplace-search", req, func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.MarketplaceSearch(ctx, req.SearchQuery, templates)
	}))
}

type docSection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type docsRequest struct {
	SearchQuery string       `json:"searchQuery" binding:"required"`
	DocSections []docSection `json:"docSections"`
}

func (s *Server) docsSearch(c *gin.Context) {
	var req docsRequest
	if !bind(c, &req) {
		return
	}
	sections := make([]prompts.DocSection, len(req.DocSections))
	for i, d := range req.DocSections {
		sections[i] = prompts.DocSection{Title: d.Title, Description: d.Description}
	}
	s.stream(c, "docs-search", "failed to search the documentation", s.cached(c, "docs-search", req, func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.DocsSearch(ctx, req.SearchQuery, sections)
	}))
}

type tutorRequest struct {
	Question     string  `json:"question" binding:"required"`
	LearningPath string  `json:"learningPath"`
	Progress     float64 `json:"progress"`
}

func (s *Server) learningTutor(c *gin.Context) {
	var req tutorRequest
	if !bind(c, &req) {
		return
	}
	s.stream(c, "learning-tutor", "failed to answer the question", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.LearningTutor(ctx, req.Question, req.LearningPath, req.Progress)
	})
}

type analyticsData struct {
	ContractsGenerated int    `json:"contractsGenerated"`
	UsersActive        int    `json:"usersActive"`
	TimeSaved          string `json:"timeSaved"`
	Deployments        int    `json:"deployments"`
}

type analyticsRequest struct {
	AnalyticsData analyticsData `json:"analyticsData"`
	Question      string        `json:"question"`
}

func (s *Server) analyticsInsights(c *gin.Context) {
	var req analyticsRequest
	if !bind(c, &req) {
		return
	}
	data := prompts.AnalyticsData(req.AnalyticsData)
	s.stream(c, "analytics-insights", "failed to analyse the data", func(ctx context.Context) iter.Seq2[string, error] {
		return s.assistant.AnalyticsInsights(ctx, data, req.Question)
	})
}

// cached routes the stream through the answer cache when one is configured.
func (s *Server) cached(c *gin.Context, route string, req any, open func(ctx context.Context) iter.Seq2[string, error]) func(ctx context.Context) iter.Seq2[string, error] {
	if s.cache == nil {
		return open
	}
	key, err := cache.Key(route, req)
	if err != nil {
		_ = c.Error(err)
		return open
	}
	return func(ctx context.Context) iter.Seq2[string, error] {
		return s.cache.Through(ctx, key, open(ctx))
	}
}

// ---------------------------------------------------------------------------
// Models and health
// ---------------------------------------------------------------------------

type modelStatus struct {
	Model   string `json:"model"`
	Role    string `json:"role"`
	Circuit string `json:"circuit"`
}

func (s *Server) listModels(c *gin.Context) {
	models := s.models.Models()
	breakers := s.models.Breakers()

	out := make([]modelStatus, len(models))
	for i, m := range models {
		st := modelStatus{Model: m, Role: "fallback", Circuit: "disabled"}
		if i == 0 {
			st.Role = "primary"
		}
		if breakers != nil && i > 0 {
			st.Circuit = breakers.For(m).State().String()
		}
		out[i] = st
	}
	c.JSON(http.StatusOK, gin.H{"primary": models[0], "models": out})
}

type checkModelsRequest struct {
	Models []string `json:"models"`
}

func (s *Server) checkModels(c *gin.Context) {
	if s.prober == nil {
		unavailable(c, "model probing is not configured")
		return
	}
	var req checkModelsRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	c.JSON(http.StatusOK, s.prober.Probe(ctx, req.Models))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "polkadot-devkit",
		"models":  s.models.Models(),
		"cache":   s.cache != nil,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}
