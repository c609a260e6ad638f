// Package llm provides upstream chat-completion clients for the gateway.
// It includes adapters for an OpenAI-compatible LLM proxy and for Anthropic's
// API, both mapping SDK failures to one shared error taxonomy so the
// resilience layer can classify them uniformly.
package llm

import "context"

// Message is a single chat message sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports the token accounting echoed by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request contains the parameters of one chat-completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response contains the upstream completion result.
type Response struct {
	// Text is the completion content of the first choice.
	Text string

	// Usage is the upstream token accounting.
	Usage Usage

	// Model is the model identifier echoed by the upstream, which may be a
	// more specific revision than the one requested.
	Model string
}

// Upstream is the chat-completion dependency consumed by the resilience
// core. Implementations must return *Error values so the retry predicate
// can classify failures.
type Upstream interface {
	// ChatCompletion performs one upstream call. It must respect ctx for
	// cancellation and per-attempt timeouts.
	ChatCompletion(ctx context.Context, req Request) (*Response, error)
}
