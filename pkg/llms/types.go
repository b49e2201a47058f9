// Package llms provides the streaming model-client interface and its
// OpenAI-compatible implementation.
package llms

import "context"

type ChunkType string

const (
	// ChunkTypeText carries visible answer tokens, think tags included.
	ChunkTypeText ChunkType = "text"
	// ChunkTypeThinking carries reasoning tokens backends expose out of
	// band (reasoning_content deltas).
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeError    ChunkType = "error"
	ChunkTypeDone     ChunkType = "done"
)

// StreamChunk is one unit of a model stream. Error chunks surface mid-call
// failures on the consumer side; done chunks carry token usage when the
// backend reports it.
type StreamChunk struct {
	Type         ChunkType
	Text         string
	Error        error
	InputTokens  int
	OutputTokens int
}

// Client streams chat completions for a rendered transcript. The returned
// channel is closed after the done or error chunk; the stream is bounded by
// ctx.
type Client interface {
	Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
	Model() string
}
