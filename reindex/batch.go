package reindex

import (
	"context"
	"fmt"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/core"
)

// DefaultEmbedBatchSize is the default number of chunk texts per embedder call.
const DefaultEmbedBatchSize = 32

// BatchProcessor turns batches of documents into index entries.
type BatchProcessor struct {
	chunker        *chunker.Chunker
	embedder       ai.Embedder
	dimension      int
	embedBatchSize int
}

// NewBatchProcessor creates a new batch processor.
// The embedder should already carry retries and timeouts.
func NewBatchProcessor(c *chunker.Chunker, embedder ai.Embedder, dimension, embedBatchSize int) *BatchProcessor {
	if embedBatchSize <= 0 {
		embedBatchSize = DefaultEmbedBatchSize
	}
	return &BatchProcessor{
		chunker:        c,
		embedder:       embedder,
		dimension:      dimension,
		embedBatchSize: embedBatchSize,
	}
}

// Process chunks every document and embeds all chunks of the batch, packing
// texts from several documents into each embedder call. Entries come back
// in document order, then chunk order. Vectors are normalized after
// embedding to ensure compatibility with cosine similarity.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.Document) ([]core.IndexedEntry, error) {
	var chunks []core.Chunk
	var sources []string
	for _, doc := range docs {
		for _, chunk := range bp.chunker.Chunk(doc) {
			chunks = append(chunks, chunk)
			sources = append(sources, doc.SourceName)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	entries := make([]core.IndexedEntry, 0, len(chunks))
	for start := 0; start < len(texts); start += bp.embedBatchSize {
		end := min(start+bp.embedBatchSize, len(texts))

		embeddings, err := bp.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to generate embeddings: %w", core.NewProviderError("embedder", "embed chunks", err))
		}
		if len(embeddings) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", end-start, len(embeddings))
		}

		for i, embedding := range embeddings {
			chunk := chunks[start+i]
			chunk.Embedding = ai.NormalizeVector(embedding)
			if err := core.ValidateVector(chunk.Embedding, bp.dimension); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
			}
			entries = append(entries, core.EntryFromChunk(chunk, sources[start+i]))
		}
	}

	return entries, nil
}
