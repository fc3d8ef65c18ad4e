// Package provider defines the generative backend interface and shared types.
package provider

import "context"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role Role
	Text string
}

// GenerationConfig holds the sampling parameters sent with every request.
type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
}

// Request represents an inference request to a generative backend.
type Request struct {
	Model   string
	Prompt  string    // Final user turn
	History []Message // Earlier turns, oldest first
	Config  GenerationConfig
	APIKey  string // Injected by the key pool
}

// Response represents a complete inference response.
type Response struct {
	Text         string
	PromptTokens int32
	OutputTokens int32
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Text         string
	Done         bool
	PromptTokens int32 // Set on final chunk
	OutputTokens int32 // Set on final chunk
	Err          error // Non-nil if the stream encountered an error
}

// Provider is the interface that all generative backends must implement.
type Provider interface {
	// Name returns a human-readable identifier for this provider (e.g. "gemini").
	Name() string

	// Infer performs a unary (non-streaming) inference call.
	// The context should carry a deadline/timeout.
	Infer(ctx context.Context, req Request) (Response, error)

	// InferStream performs a streaming inference call and returns a channel
	// of StreamChunks. The channel is closed when the stream finishes or
	// the context is cancelled.
	InferStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
