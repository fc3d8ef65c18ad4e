package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultOpenAIBaseURL points at Groq's OpenAI-compatible endpoint, the
// secondary backend this gateway is usually paired with.
const DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider implements the Provider interface for any backend speaking
// the OpenAI Chat Completions protocol (Groq, OpenAI).
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(baseURL string, client *http.Client) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Request / Response types for Chat Completions
// ---------------------------------------------------------------------------

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	TopP        float32         `json:"top_p,omitempty"`
	MaxTokens   int32           `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *openAIStreamError `json:"error,omitempty"`
}

// openAIStreamError is an error event sent inside a 200 stream.
type openAIStreamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// status maps the error code onto the HTTP status the same failure would
// have carried before the stream started.
func (e *openAIStreamError) status() int {
	code := fmt.Sprint(e.Code)
	switch {
	case code == "rate_limit_exceeded" || code == "429" || e.Type == "rate_limit_error":
		return http.StatusTooManyRequests
	case code == "invalid_api_key" || code == "401" || e.Type == "authentication_error":
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// buildOpenAIRequest maps the conversation onto chat roles. Top-k has no
// equivalent in this protocol and is dropped.
func buildOpenAIRequest(req Request, stream bool) openAIRequest {
	msgs := make([]openAIMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, openAIMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, openAIMessage{Role: "user", Content: req.Prompt})

	return openAIRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Config.Temperature,
		TopP:        req.Config.TopP,
		MaxTokens:   req.Config.MaxOutputTokens,
		Stream:      stream,
	}
}

func (o *OpenAIProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	jsonBody, err := json.Marshal(buildOpenAIRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, newAPIError("openai", httpResp)
	}
	return httpResp, nil
}

// ---------------------------------------------------------------------------
// Infer performs a unary call.
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) Infer(ctx context.Context, req Request) (Response, error) {
	httpResp, err := o.post(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return Response{}, fmt.Errorf("openai: decode response: %w", err)
	}

	var text string
	if len(oaiResp.Choices) > 0 {
		text = oaiResp.Choices[0].Message.Content
	}

	return Response{
		Text:         text,
		PromptTokens: oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
	}, nil
}

// ---------------------------------------------------------------------------
// InferStream opens an SSE stream.
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) InferStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	httpResp, err := o.post(ctx, req, true)
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
		var totalPromptTokens, totalOutputTokens int32

		for scanner.Scan() {
			line := scanner.Text()

			// SSE format: lines starting with "data: "
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")

			// End of stream
			if data == "[DONE]" {
				send(StreamChunk{
					Done:         true,
					PromptTokens: totalPromptTokens,
					OutputTokens: totalOutputTokens,
				})
				return
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(StreamChunk{Err: fmt.Errorf("openai: stream decode: %w", err)})
				return
			}

			if chunk.Error != nil {
				send(StreamChunk{Err: &APIError{
					Provider:   "openai",
					StatusCode: chunk.Error.status(),
					Message:    chunk.Error.Message,
					Body:       data,
				}})
				return
			}

			if chunk.Usage != nil {
				totalPromptTokens = chunk.Usage.PromptTokens
				totalOutputTokens = chunk.Usage.CompletionTokens
			}

			var text string
			if len(chunk.Choices) > 0 {
				text = chunk.Choices[0].Delta.Content
			}

			if text != "" {
				if !send(StreamChunk{Text: text}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			send(StreamChunk{Err: fmt.Errorf("openai: stream scan: %w", err)})
			return
		}

		// Body ended without the [DONE] marker.
		send(StreamChunk{Done: true, PromptTokens: totalPromptTokens, OutputTokens: totalOutputTokens})
	}()

	return ch, nil
}
