package llm

import (
	"encoding/json"
	"fmt"
)

// Message represents a single message in an LLM prompt.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// JSONSchema names and describes a structured output contract.
type JSONSchema struct {
	// Name is a short identifier for the schema (letters, digits, underscores).
	Name string

	// Description is passed to providers that accept one.
	Description string

	// Schema is the JSON Schema document.
	Schema map[string]any

	// Strict requests exact schema adherence where the provider supports it.
	Strict bool
}

// Instruction renders the schema as a plain-text instruction for providers
// without native structured output.
func (s *JSONSchema) Instruction() (string, error) {
	raw, err := json.MarshalIndent(s.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("llm: marshal schema %q: %w", s.Name, err)
	}
	return "Respond with a single JSON object and nothing else. The object must conform to this JSON Schema:\n" + string(raw), nil
}
