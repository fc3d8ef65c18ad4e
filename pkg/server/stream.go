package server

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/generator"
	"github.com/abdhe/polkadot-devkit/pkg/metrics"
	"github.com/abdhe/polkadot-devkit/pkg/sse"
)

// errNoContent is reported when a generation finished cleanly but produced
// nothing to send.
var errNoContent = errors.New("no content was generated")

// stream answers with an event stream of the fragments produced by open.
// The request has already been validated, so the status is always 200 and
// failures travel as an error frame. The sentinel is always written last.
func (s *Server) stream(c *gin.Context, route, failure string, open func(ctx context.Context) iter.Seq2[string, error]) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "stream "+route)
	defer span.End()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	sse.SetHeaders(c.Writer.Header())
	c.Status(200)
	w := sse.NewWriter(c.Writer)
	logger := s.logger.With(zap.String("route", route), zap.String("request_id", c.GetString(requestIDKey)))

	var fragments int
	var streamErr error
	for frag, err := range open(ctx) {
		if err != nil {
			streamErr = err
			break
		}
		if err := w.Content(frag); err != nil {
			// The client is gone; nothing else can be delivered.
			streamErr = err
			break
		}
		fragments++
		metrics.FragmentsTotal.WithLabelValues(route).Inc()
	}
	if streamErr == nil && fragments == 0 {
		streamErr = errNoContent
	}

	span.SetAttributes(attribute.Int("devkit.fragments", fragments))
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		c.Set(outcomeKey, "error")
		logger.Warn("stream failed", zap.Int("fragments", fragments), zap.Error(streamErr))
		if err := w.Error(errorMessage(streamErr, failure), streamErr.Error()); err != nil {
			logger.Debug("write error frame", zap.Error(err))
		}
	} else {
		c.Set(outcomeKey, "ok")
		logger.Info("stream completed", zap.Int("fragments", fragments))
	}
	if err := w.Done(); err != nil {
		logger.Debug("write sentinel", zap.Error(err))
	}
}

// errorMessage picks the user-facing summary for a failed stream.
func errorMessage(err error, failure string) string {
	var authErr *generator.AuthError
	var exhausted *generator.ExhaustedError
	switch {
	case errors.As(err, &authErr):
		return fmt.Sprintf("the %s API key was rejected", providerLabel(authErr.Provider))
	case errors.As(err, &exhausted):
		return "every model is unavailable, try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, errNoContent):
		return errNoContent.Error()
	default:
		return failure
	}
}

func providerLabel(name string) string {
	switch name {
	case "gemini":
		return "Gemini"
	case "openai":
		return "OpenAI-compatible"
	default:
		return name
	}
}
