package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/assist"
	"github.com/abdhe/polkadot-devkit/pkg/cache"
	"github.com/abdhe/polkadot-devkit/pkg/config"
	"github.com/abdhe/polkadot-devkit/pkg/generator"
	"github.com/abdhe/polkadot-devkit/pkg/health"
	"github.com/abdhe/polkadot-devkit/pkg/provider"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
	"github.com/abdhe/polkadot-devkit/pkg/server"
	"github.com/abdhe/polkadot-devkit/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := flags.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// app holds everything serve builds from the config.
type app struct {
	gen    *generator.Client
	prober *generator.Prober
	cache  *cache.RedisCache
}

func build(cfg *config.Config, logger *zap.Logger) (*app, error) {
	geminiKeys, err := resilience.NewKeyPool(cfg.Gemini.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("gemini key pool: %w", err)
	}
	gemini := provider.NewGeminiProvider(cfg.Gemini.BaseURL, nil)

	var candidates []generator.Candidate
	for _, m := range cfg.Gemini.Models() {
		candidates = append(candidates, generator.Candidate{Model: m, Provider: gemini, Keys: geminiKeys})
	}
	if cfg.OpenAI.Enabled() {
		openaiKeys, err := resilience.NewKeyPool(cfg.OpenAI.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("openai key pool: %w", err)
		}
		openai := provider.NewOpenAIProvider(cfg.OpenAI.BaseURL, nil)
		for _, m := range cfg.OpenAI.Models {
			candidates = append(candidates, generator.Candidate{Model: m, Provider: openai, Keys: openaiKeys})
		}
		logger.Info("openai-compatible fallback enabled", zap.Strings("models", cfg.OpenAI.Models))
	}

	var breakers *resilience.BreakerSet
	if cfg.Breaker.FailureThreshold > 0 {
		breakers = resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		})
	}

	gen, err := generator.New(candidates, generator.Options{
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
		Breakers: breakers,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	prober, err := generator.NewProber(gemini, geminiKeys, logger)
	if err != nil {
		return nil, err
	}

	a := &app{gen: gen, prober: prober}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("answer cache disabled", zap.Error(err))
			return a, nil
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, answer cache disabled", zap.Error(err))
			_ = rc.Close()
			return a, nil
		}
		logger.Info("answer cache enabled", zap.Duration("ttl", cfg.Cache.TTL))
		a.cache = rc
	}
	return a, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Assistant:      assist.New(a.gen, logger),
		Models:         a.gen,
		Prober:         a.prober,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}
	if a.cache != nil {
		defer a.cache.Close()
		srvCfg.Cache = cache.NewResponseCache(a.cache, logger)
	}
	srv := server.NewServer(srvCfg)

	// Streams may legitimately run for minutes, so no write timeout.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("primary", cfg.Gemini.Primary),
			zap.Strings("fallbacks", cfg.Gemini.Fallbacks),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var hs *health.Server
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCHealthAddr, err)
		}
		hs = health.NewServer(logger)
		go func() {
			if err := hs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()
		hs.SetServing(true)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	}

	if hs != nil {
		hs.Stop()
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	logger.Info("DevKit shut down")
	return nil
}
