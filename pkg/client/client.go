// Package client is a Go client for the DevKit HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a whole request, including the streamed body.
const DefaultTimeout = 5 * time.Minute

// HTTPError is a non-200 answer from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string { return e.Message }

// Client calls a DevKit server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for skipped frames.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the server at baseURL (for example
// http://localhost:3000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HistoryTurn is one earlier chat turn. Role is "user" or "model".
type HistoryTurn struct {
	Role  string `json:"role"`
	Parts string `json:"parts"`
}

// ChatRequest is the body of /api/chat.
type ChatRequest struct {
	Message string        `json:"message"`
	History []HistoryTurn `json:"history"`
}

// GenerateRequest is the body of /api/generate.
type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	ContractType string   `json:"contractType"`
	Complexity   string   `json:"complexity,omitempty"`
	Features     []string `json:"features,omitempty"`
	Language     string   `json:"language,omitempty"`
}

// ExplainRequest is the body of /api/explain.
type ExplainRequest struct {
	Code  string `json:"code"`
	Focus string `json:"focus,omitempty"`
}

// DebugRequest is the body of /api/debug.
type DebugRequest struct {
	ErrorMessage string `json:"errorMessage"`
	Code         string `json:"code,omitempty"`
	Context      string `json:"context,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	if req.History == nil {
		req.History = []HistoryTurn{}
	}
	return c.Stream(ctx, "/api/chat", req)
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) iter.Seq2[string, error] {
	return c.Stream(ctx, "/api/generate", req)
}

func (c *Client) Explain(ctx context.Context, req ExplainRequest) iter.Seq2[string, error] {
	return c.Stream(ctx, "/api/explain", req)
}

func (c *Client) Debug(ctx context.Context, req DebugRequest) iter.Seq2[string, error] {
	return c.Stream(ctx, "/api/debug", req)
}

// Stream posts body to path and yields the streamed fragments.
func (c *Client) Stream(ctx context.Context, path string, body any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.post(ctx, path, body)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		for frag, err := range Fragments(resp.Body, c.logger) {
			if !yield(frag, err) || err != nil {
				return
			}
		}
	}
}

// Probe runs a model availability check and decodes the report into out.
func (c *Client) Probe(ctx context.Context, models []string, out any) error {
	resp, err := c.post(ctx, "/api/check-models", map[string][]string{"models": models})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newHTTPError(resp)
	}
	return resp, nil
}

func newHTTPError(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Message != "":
			msg = body.Message
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// Collect drains seq into a single string. On error the text received so
// far is returned with it.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}
