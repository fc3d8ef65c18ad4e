package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/client"
	"github.com/abdhe/polkadot-devkit/pkg/config"
)

func TestBuildCandidateOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Gemini.APIKeys = []string{"g-key"}
	cfg.OpenAI = config.OpenAIConfig{APIKeys: []string{"o-key"}, Models: []string{"llama-3.3-70b-versatile"}}

	a, err := build(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := a.gen.Models()
	want := append(cfg.Gemini.Models(), "llama-3.3-70b-versatile")
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("models = %v, want %v", got, want)
	}
	if a.gen.Breakers() == nil {
		t.Error("breakers should be enabled by default")
	}
	if a.cache != nil {
		t.Error("cache should be disabled without REDIS_URL")
	}
}

func TestBuildWithoutBreakers(t *testing.T) {
	cfg := config.Default()
	cfg.Gemini.APIKeys = []string{"g-key"}
	cfg.Breaker.FailureThreshold = 0

	a, err := build(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.gen.Breakers() != nil {
		t.Error("threshold 0 should disable breakers")
	}
}

func TestBuildRequiresKey(t *testing.T) {
	if _, err := build(config.Default(), zap.NewNop()); err == nil {
		t.Fatal("expected error without a Gemini key")
	}
}

func TestChatLoopKeepsHistory(t *testing.T) {
	var bodies []client.ChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		bodies = append(bodies, req)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"content\":\"hi \"}\n\ndata: {\"content\":\"there\"}\n\ndata: [DONE]\n\n"))
	}))
	defer ts.Close()

	var out, errOut bytes.Buffer
	in := strings.NewReader("hello\n\nagain\n")
	if err := chatLoop(context.Background(), client.New(ts.URL), in, &out, &errOut); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if errOut.Len() != 0 {
		t.Errorf("stderr = %q", errOut.String())
	}
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	h := bodies[1].History
	if len(h) != 2 || h[0].Role != "user" || h[0].Parts != "hello" || h[1].Role != "model" || h[1].Parts != "hi there" {
		t.Errorf("history = %+v", h)
	}
	if !strings.Contains(out.String(), "hi there") {
		t.Errorf("output = %q", out.String())
	}
}
