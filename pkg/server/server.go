// Package server exposes the DevKit HTTP API: streaming task routes under
// /api plus health and Prometheus endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/assist"
	"github.com/abdhe/polkadot-devkit/pkg/cache"
	"github.com/abdhe/polkadot-devkit/pkg/generator"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
)

var tracer = otel.Tracer("github.com/abdhe/polkadot-devkit/pkg/server")

// DefaultRequestTimeout bounds every streaming request.
const DefaultRequestTimeout = 5 * time.Minute

// ModelSource reports the configured candidate models.
type ModelSource interface {
	Models() []string
	Breakers() *resilience.BreakerSet
}

// Prober checks model availability.
type Prober interface {
	Probe(ctx context.Context, models []string) generator.ProbeReport
}

// Config wires a Server.
type Config struct {
	Assistant *assist.Assistant
	Models    ModelSource
	Prober    Prober               // Optional; check-models answers 503 without it
	Cache     *cache.ResponseCache // Optional; search routes bypass caching without it

	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	assistant *assist.Assistant
	models    ModelSource
	prober    Prober
	cache     *cache.ResponseCache
	timeout   time.Duration
	logger    *zap.Logger
	router    *gin.Engine
	started   time.Time
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{
		assistant: cfg.Assistant,
		models:    cfg.Models,
		prober:    cfg.Prober,
		cache:     cfg.Cache,
		timeout:   cfg.RequestTimeout,
		logger:    cfg.Logger.With(zap.String("component", "server")),
		started:   time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(s.logger))
	router.Use(Metrics())
	router.Use(CORS())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/generate", s.generate)
		api.POST("/explain", s.explain)
		api.POST("/debug", s.debug)
		api.POST("/debug/parse", s.debugParse)
		api.POST("/chat", s.chat)
		api.POST("/generate-tests", s.generateTests)
		api.POST("/marketplace-search", s.marketplaceSearch)
		api.POST("/docs-search", s.docsSearch)
		api.POST("/deploy-assistant", s.deployAssistant)
		api.POST("/analytics-insights", s.analyticsInsights)
		api.POST("/learning-tutor", s.learningTutor)
		api.POST("/template/explain", s.templateExplain)
		api.POST("/template/variation", s.templateVariation)
		api.GET("/models", s.listModels)
		api.POST("/check-models", s.checkModels)
	}

	s.router = router
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }
