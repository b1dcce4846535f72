// Package llm defines the Provider interface for the language-model backend
// behind the console's ai action.
//
// A provider wraps a remote or local model API (a local Ollama instance by
// default, or any hosted model reachable through any-llm-go) and exposes a
// uniform completion interface so the console never couples to a specific
// SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a streamed [Chunk] carrying a mid-stream failure.
// The chunk's Text holds the error message.
const FinishReasonError = "error"

// Message is a single turn in a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting reported by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically the
	// user's utterance.
	Messages []Message

	// SystemPrompt is injected before Messages. Providers without a dedicated
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Chunk is a fragment of a streamed completion.
type Chunk struct {
	// Text is the incremental content. Empty on a bare finish chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or
	// [FinishReasonError]).
	FinishReason string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any language-model backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel emitting chunks as they
	// arrive. The channel is closed when generation finishes or ctx is
	// cancelled, and is never nil when the error is nil. Failures after the
	// stream opened arrive as a chunk with FinishReason [FinishReasonError].
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
