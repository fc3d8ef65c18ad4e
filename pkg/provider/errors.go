package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// APIError is a non-200 answer from an upstream API. Body is kept verbatim
// because rate-limit answers carry the suggested retry delay inside it.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" && e.Message != e.Body {
		return fmt.Sprintf("%s: API error %d: %s (%s)", e.Provider, e.StatusCode, e.Message, e.Body)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus reports the upstream status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// newAPIError drains and closes resp.Body.
func newAPIError(provider string, resp *http.Response) *APIError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}

	// Both Gemini and OpenAI-compatible APIs wrap errors as {"error":{"message":...}}.
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
