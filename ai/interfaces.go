package ai

import (
	"context"

	"github.com/poiesic/groundrag/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// WebSearcher retrieves ranked snippets from an external search engine.
// Implementations must be thread-safe for concurrent use.
type WebSearcher interface {
	// Search returns at most maxResults results, best first.
	// Relevance values are in [0,1]. An empty slice is not an error.
	Search(ctx context.Context, query string, maxResults int) ([]core.WebResult, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// WebSearcher returns the web search service, or nil when web search
	// is not configured.
	WebSearcher() WebSearcher

	// EmbeddingModel names the model behind Embedder.
	EmbeddingModel() string

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
