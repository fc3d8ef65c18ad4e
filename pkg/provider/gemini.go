package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is the public Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements the Provider interface for Google's Gemini API.
type GeminiProvider struct {
	client  *http.Client
	baseURL string
}

// NewGeminiProvider creates a new Gemini provider. An empty baseURL selects
// the public endpoint; a nil client selects a client without timeout, since
// callers bound each request through its context.
func NewGeminiProvider(baseURL string, client *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (g *GeminiProvider) Name() string { return "gemini" }

// geminiRequest is the Gemini API request body.
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature"` // 0 is a valid setting
	TopP            float32 `json:"topP,omitempty"`
	TopK            int32   `json:"topK,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is one Gemini response, or one SSE event of a streamed one.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int32 `json:"promptTokenCount"`
		CandidatesTokenCount int32 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// text joins the visible parts of the first candidate.
func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func buildGeminiRequest(req Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == RoleModel {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}})

	return geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Config.Temperature,
			TopP:            req.Config.TopP,
			TopK:            req.Config.TopK,
			MaxOutputTokens: req.Config.MaxOutputTokens,
		},
	}
}

func (g *GeminiProvider) endpoint(model, method string, query url.Values) string {
	return fmt.Sprintf("%s/models/%s:%s?%s", g.baseURL, url.PathEscape(model), method, query.Encode())
}

func (g *GeminiProvider) post(ctx context.Context, endpoint string, req Request) (*http.Response, error) {
	jsonBody, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, newAPIError("gemini", httpResp)
	}
	return httpResp, nil
}

// Infer performs a unary inference call to the Gemini API.
func (g *GeminiProvider) Infer(ctx context.Context, req Request) (Response, error) {
	httpResp, err := g.post(ctx, g.endpoint(req.Model, "generateContent", url.Values{}), req)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	var gemResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gemResp); err != nil {
		return Response{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	return Response{
		Text:         gemResp.text(),
		PromptTokens: gemResp.UsageMetadata.PromptTokenCount,
		OutputTokens: gemResp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// InferStream performs a streaming inference call to the Gemini API.
// The upstream answers with server-sent events, one JSON response per
// "data:" line.
func (g *GeminiProvider) InferStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	httpResp, err := g.post(ctx, g.endpoint(req.Model, "streamGenerateContent", url.Values{"alt": {"sse"}}), req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		send := func(c StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var promptTokens, outputTokens int32

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var gemResp geminiResponse
			if err := json.Unmarshal([]byte(data), &gemResp); err != nil {
				send(StreamChunk{Err: fmt.Errorf("gemini: stream decode: %w", err)})
				return
			}
			if gemResp.Error != nil {
				send(StreamChunk{Err: &APIError{
					Provider:   "gemini",
					StatusCode: gemResp.Error.Code,
					Message:    gemResp.Error.Message,
					Body:       data,
				}})
				return
			}

			if gemResp.UsageMetadata.PromptTokenCount > 0 {
				promptTokens = gemResp.UsageMetadata.PromptTokenCount
			}
			if gemResp.UsageMetadata.CandidatesTokenCount > 0 {
				outputTokens = gemResp.UsageMetadata.CandidatesTokenCount
			}

			if text := gemResp.text(); text != "" {
				if !send(StreamChunk{Text: text}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(StreamChunk{Err: fmt.Errorf("gemini: stream scan: %w", err)})
			return
		}

		send(StreamChunk{Done: true, PromptTokens: promptTokens, OutputTokens: outputTokens})
	}()

	return ch, nil
}
