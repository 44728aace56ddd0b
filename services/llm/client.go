package llm

import "context"

// ChunkFunc receives one chunk of generated text. Returning an error
// aborts the stream.
type ChunkFunc func(chunk string) error

// Client defines the standard interface for any LLM backend.
type Client interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

// StreamingClient is implemented by backends that can deliver text
// incrementally. Backends without it get simulated streaming upstream.
type StreamingClient interface {
	Client
	GenerateStream(ctx context.Context, model string, prompt string, onChunk ChunkFunc) error
}
