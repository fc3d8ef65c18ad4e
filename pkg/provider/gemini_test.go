package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collect(t *testing.T, ch <-chan StreamChunk) ([]string, StreamChunk, error) {
	t.Helper()
	var texts []string
	var last StreamChunk
	for c := range ch {
		if c.Err != nil {
			return texts, last, c.Err
		}
		if c.Done {
			last = c
			continue
		}
		texts = append(texts, c.Text)
	}
	return texts, last, nil
}

func TestGeminiInferStream(t *testing.T) {
	var gotBody geminiRequest
	var gotPath, gotKey, gotAlt string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAlt = r.URL.Query().Get("alt")
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":7,\"candidatesTokenCount\":2}}\r\n\r\n")
	}))
	defer srv.Close()

	g := NewGeminiProvider(srv.URL, srv.Client())
	ch, err := g.InferStream(context.Background(), Request{
		Model:   "gemini-2.5-flash",
		Prompt:  "say hello",
		History: []Message{{Role: RoleUser, Text: "system"}, {Role: RoleModel, Text: "ok"}},
		Config:  GenerationConfig{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxOutputTokens: 1500},
		APIKey:  "k1",
	})
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}

	texts, last, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := strings.Join(texts, ""); got != "Hello" {
		t.Errorf("text = %q, want %q", got, "Hello")
	}
	if last.PromptTokens != 7 || last.OutputTokens != 2 {
		t.Errorf("usage = %d/%d, want 7/2", last.PromptTokens, last.OutputTokens)
	}

	if gotPath != "/models/gemini-2.5-flash:streamGenerateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAlt != "sse" {
		t.Errorf("alt = %q, want sse", gotAlt)
	}
	if gotKey != "k1" {
		t.Errorf("api key header = %q", gotKey)
	}
	if len(gotBody.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gotBody.Contents))
	}
	if gotBody.Contents[1].Role != "model" || gotBody.Contents[2].Parts[0].Text != "say hello" {
		t.Errorf("unexpected contents: %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig.TopK != 40 || gotBody.GenerationConfig.MaxOutputTokens != 1500 {
		t.Errorf("generation config = %+v", gotBody.GenerationConfig)
	}
}

func TestGeminiRateLimitError(t *testing.T) {
	body := `{"error":{"code":429,"message":"Quota exceeded. Please retry in 12.5s.","status":"RESOURCE_EXHAUSTED","details":[{"retryDelay":"12s"}]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	g := NewGeminiProvider(srv.URL, srv.Client())
	_, err := g.InferStream(context.Background(), Request{Model: "m", Prompt: "p", APIKey: "k"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Quota exceeded. Please retry in 12.5s." {
		t.Errorf("message = %q", apiErr.Message)
	}
	if !strings.Contains(err.Error(), "retry in 12.5s") {
		t.Errorf("error text lost the retry hint: %v", err)
	}
}

func TestGeminiStreamBadFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer srv.Close()

	g := NewGeminiProvider(srv.URL, srv.Client())
	ch, err := g.InferStream(context.Background(), Request{Model: "m", Prompt: "p", APIKey: "k"})
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	texts, _, err := collect(t, ch)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(texts) != 1 || texts[0] != "a" {
		t.Errorf("texts before error = %v", texts)
	}
}

func TestGeminiInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hi","thought":false},{"text":"!"}]}}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2}}`)
	}))
	defer srv.Close()

	resp, err := NewGeminiProvider(srv.URL, srv.Client()).Infer(context.Background(), Request{Model: "m", Prompt: "Hi", APIKey: "k"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if resp.Text != "Hi!" || resp.OutputTokens != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGeminiStreamCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewGeminiProvider(srv.URL, srv.Client()).InferStream(ctx, Request{Model: "m", Prompt: "p", APIKey: "k"})
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	first := <-ch
	if first.Text != "a" {
		t.Fatalf("first chunk = %+v", first)
	}
	cancel()
	for range ch {
		// drain until the goroutine closes the channel
	}
}

func TestGeminiSendsZeroTemperature(t *testing.T) {
	body, err := json.Marshal(buildGeminiRequest(Request{
		Model:  "m",
		Prompt: "p",
		Config: GenerationConfig{Temperature: 0, TopP: 0.9, TopK: 40, MaxOutputTokens: 128},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"temperature":0`) {
		t.Errorf("request = %s, want an explicit zero temperature", body)
	}
}
