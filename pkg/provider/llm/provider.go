// Package llm defines the Provider interface for the generative scoring backend.
//
// A provider wraps a remote model API (OpenAI, Gemini, Anthropic, a local Ollama
// instance, ...) and exposes a single request/response completion call. The
// feedback pipeline asks for a JSON document conforming to a schema and treats
// anything else as a generation fault, so implementations only need to return
// the raw text content; parsing and validation happen in the caller.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Messages is the ordered prompt. For scoring this is a single "user" message
	// holding the rendered transcript prompt.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero means
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// ResponseSchema, when set, asks the model for a JSON object conforming to
	// the schema. Providers with native structured output enforce it server-side;
	// others append the schema to the system prompt.
	ResponseSchema *JSONSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns an error if the request fails or ctx is cancelled first. It never
	// retries on its own.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns a short identifier for logs and metrics (e.g. "openai/gpt-4o").
	Name() string
}
