// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling
// - Streaming transport details

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the provider's default model.
	Model() string

	// Chat sends a non-streamed chat completion request.
	// opts may be nil for provider defaults.
	Chat(ctx context.Context, messages []ChatMessage, opts *ChatOptions) (LLMResponse, error)

	// Stream opens a streamed chat completion. The returned Stream
	// yields frames until a frame with Done=true, after which Recv
	// returns io.EOF. Close releases the stream early; it is safe to
	// call after the stream is exhausted and safe to call more than
	// once.
	Stream(ctx context.Context, req StreamRequest) (Stream, error)
}

// Stream is an open streamed completion.
type Stream interface {
	// Recv blocks for the next frame. Returns io.EOF after the
	// terminal frame has been delivered.
	Recv() (Frame, error)

	// Close ends the stream, releasing the underlying connection.
	Close() error
}
