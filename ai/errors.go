package ai

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrEmbedderRequired is returned when a nil Embedder is wrapped.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmptyEmbedding is returned when a provider answers without vectors.
	ErrEmptyEmbedding = errors.New("provider returned no embedding")
)
