package llms

import "context"

// Stream is started lazily: the request goes out once Chunks is ranged over
// and stops when the range is left.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

// StreamChunk is one delta of a streamed reply. Callers switch on the
// narrower chunk interfaces below.
type StreamChunk interface {
	FinishReason() *string
}

type StreamRoleChunk interface {
	StreamChunk
	Role() string
}

// StreamReasoningChunk carries thinking tokens of reasoning models. They are
// never part of the reply.
type StreamReasoningChunk interface {
	StreamChunk
	Reasoning() string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

// StreamUsageChunk usually arrives last, after the final content chunk.
type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage is the token accounting of one request.
type Usage struct {
	InputTokens       int
	CachedInputTokens int // served from the provider's prompt cache
	OutputTokens      int
	ReasoningTokens   int
	TotalTokens       int
}
