// Package llm defines the narrow LLM capability interface the agents
// consume (spec.md §6) and a concrete client over the OpenAI API,
// adapted from this codebase's ai/providers/openaiv2/api wrapper.
package llm

import (
	"context"
)

// ResponseFormat selects whether the model must reply with a raw JSON
// object, used by the Search and Validation agents.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = ""
	ResponseFormatJSON ResponseFormat = "json_object"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest is the input to a single, non-streaming chat completion call.
type ChatRequest struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	ResponseFormat ResponseFormat
}

// ChatResponse is the normalized result of a chat completion call.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// EmbedResponse is the normalized result of an embedding call.
type EmbedResponse struct {
	Vectors      [][]float32
	PromptTokens int
	Cost         float64
}

// Client is the capability interface the retrieval library and agent
// nodes depend on; it is satisfied by the OpenAI-backed implementation in
// this package and by test doubles.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Embed(ctx context.Context, model string, texts []string) (EmbedResponse, error)
}
