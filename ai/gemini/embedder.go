// Package gemini provides an ai.AIProvider backed by Google Gemini embeddings.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/core"
	"google.golang.org/genai"
)

const (
	providerName = "gemini"

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// Embedder implements ai.Embedder with the Gemini embedding API.
// Single texts are embedded as queries, batches as documents.
type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	logger    *slog.Logger
}

func newEmbedder(ctx context.Context, config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewProviderError(providerName, "connect", err)
	}
	return &Embedder{
		client:    client,
		model:     config.EmbeddingModel,
		dimension: config.EmbeddingDimension,
		logger:    slog.Default().With("component", "gemini-embedder"),
	}, nil
}

// NewEmbedder creates a Gemini embedder.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(ctx context.Context, config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(ctx, config)
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds a batch of texts in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.embed(ctx, texts, taskRetrievalDocument)
}

func (e *Embedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	e.logger.Debug("generating embeddings", "count", len(texts), "task", task)

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedConfig(task))
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, core.NewProviderError(providerName, "embed", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, core.NewProviderError(providerName, "embed",
			fmt.Errorf("%w: got %d embeddings for %d texts", ai.ErrEmptyEmbedding, got, len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, core.NewProviderError(providerName, "embed", ai.ErrEmptyEmbedding)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (e *Embedder) embedConfig(task string) *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if e.dimension > 0 {
		dim := int32(e.dimension)
		cfg.OutputDimensionality = &dim
	}
	return cfg
}
