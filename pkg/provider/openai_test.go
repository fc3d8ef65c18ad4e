package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIInferStream(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gk" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"O\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"K\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, srv.Client())
	ch, err := p.InferStream(context.Background(), Request{
		Model:   "llama-3.3-70b-versatile",
		Prompt:  "ping",
		History: []Message{{Role: RoleModel, Text: "earlier"}},
		APIKey:  "gk",
	})
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	texts, _, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(texts, "") != "OK" {
		t.Errorf("texts = %v", texts)
	}
	if !got.Stream || len(got.Messages) != 2 || got.Messages[0].Role != "assistant" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API Key"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(srv.URL, srv.Client()).Infer(context.Background(), Request{Model: "m", Prompt: "p", APIKey: "bad"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Message != "Invalid API Key" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestOpenAIStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"Rate limit reached\",\"type\":\"tokens\",\"code\":\"rate_limit_exceeded\"}}\n\n")
	}))
	defer srv.Close()

	ch, err := NewOpenAIProvider(srv.URL, srv.Client()).InferStream(context.Background(), Request{Model: "m", Prompt: "p", APIKey: "k"})
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	texts, _, err := collect(t, ch)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want a 429 APIError", err)
	}
	if apiErr.Message != "Rate limit reached" || strings.Join(texts, "") != "par" {
		t.Errorf("message = %q texts = %v", apiErr.Message, texts)
	}
}

func TestOpenAISendsZeroTemperature(t *testing.T) {
	body, err := json.Marshal(buildOpenAIRequest(Request{Model: "m", Prompt: "p"}, true))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"temperature":0`) {
		t.Errorf("request = %s", body)
	}
}
