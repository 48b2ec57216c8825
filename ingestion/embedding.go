package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/core"
)

// DefaultBatchSize is the number of chunk texts sent to the embedder per call.
const DefaultBatchSize = 32

// embeddingProcessor chunks documents and embeds their chunks.
type embeddingProcessor struct {
	chunker   *chunker.Chunker
	embedder  ai.Embedder
	dimension int
	batchSize int
	logger    *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(c *chunker.Chunker, embedder ai.Embedder, dimension, batchSize int, logger *slog.Logger) (processor, error) {
	if c == nil {
		return nil, fmt.Errorf("chunker required")
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		chunker:   c,
		embedder:  embedder,
		dimension: dimension,
		batchSize: batchSize,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

// prepare chunks doc and embeds every chunk. Vectors are unit-normalized and
// must match the index dimension.
func (ep *embeddingProcessor) prepare(ctx context.Context, doc *core.Document) ([]core.IndexedEntry, error) {
	chunks := ep.chunker.Chunk(doc)
	ep.logger.Debug("chunked document", "document", doc.ID, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ep.batchSize {
		end := min(start+ep.batchSize, len(texts))
		batch, err := ep.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			ep.logger.Error("error generating embeddings", "document", doc.ID, "err", err)
			return nil, core.NewProviderError("embedder", "embed chunks", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, end-start, len(batch))
		}
		vectors = append(vectors, batch...)
	}

	entries := make([]core.IndexedEntry, len(chunks))
	for i, chunk := range chunks {
		vector := ai.NormalizeVector(vectors[i])
		if err := core.ValidateVector(vector, ep.dimension); err != nil {
			return nil, err
		}
		chunk.Embedding = vector
		entries[i] = core.EntryFromChunk(chunk, doc.SourceName)
	}
	return entries, nil
}
