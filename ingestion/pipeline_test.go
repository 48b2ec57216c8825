package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/groundrag/ai/mock"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
	"github.com/poiesic/groundrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

func setupTestStores(t *testing.T) (*badger.Index, *badger.DocumentRepository) {
	t.Helper()
	index, docs, backend, err := badger.NewMemoryStores(testDimension)
	require.NoError(t, err)
	t.Cleanup(func() {
		docs.Close()
		index.Close()
		backend.Close()
	})
	return index, docs
}

func setupTestPipeline(t *testing.T, embedder *mock.MockEmbedder, opts ...Option) (*Pipeline, *badger.Index, *badger.DocumentRepository) {
	t.Helper()
	index, docs := setupTestStores(t)
	if embedder == nil {
		embedder = mock.NewMockEmbedderWithDimension(testDimension)
	}
	p, err := NewPipeline(index, docs, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p, index, docs
}

// text2500 has no sentence or whitespace boundaries, so cuts are exact.
var text2500 = strings.Repeat("abcdefghij", 250)

func TestNewPipeline(t *testing.T) {
	index, docs := setupTestStores(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)

	_, err := NewPipeline(nil, docs, embedder)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewPipeline(index, nil, embedder)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewPipeline(index, docs, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	p, err := NewPipeline(index, docs, embedder)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, chunker.DefaultSize, p.chunker.Size())
	assert.Equal(t, DefaultBatchSize, p.batchSize)
}

func TestPipeline_WithOptions(t *testing.T) {
	index, docs := setupTestStores(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	c, err := chunker.New(100, 10)
	require.NoError(t, err)

	p, err := NewPipeline(index, docs, embedder, WithPoolSize(0), WithChunker(c), WithBatchSize(4), WithLogger(nil))
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 1, p.pool.Cap())
	assert.Same(t, c, p.chunker)
	assert.Equal(t, 4, p.batchSize)

	_, err = NewPipeline(index, docs, embedder, WithBatchSize(0))
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = NewPipeline(index, docs, embedder, WithChunker(nil))
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestPipeline_AddDocument(t *testing.T) {
	p, index, docs := setupTestPipeline(t, nil)
	ctx := context.Background()

	result, err := p.AddDocument(ctx, &core.Document{SourceName: "notes.txt", Text: text2500})
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, core.DocumentIDFromSource("notes.txt"), result.Document.ID)
	assert.NotZero(t, result.Document.Seq)
	assert.False(t, result.Document.IngestedAt.IsZero())

	assert.Equal(t, 3, index.Count())
	assert.Equal(t, []string{result.Document.ID}, index.DocumentIDs())

	stored, err := docs.GetDocument(ctx, result.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, text2500, stored.Text)
	assert.Equal(t, "notes.txt", stored.SourceName)

	// The chunk whose text we query for comes back first.
	vector, err := mock.NewMockEmbedderWithDimension(testDimension).EmbedText(ctx, text2500[1600:])
	require.NoError(t, err)
	results, err := index.Query(ctx, vector, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.ChunkID(result.Document.ID, 2), results[0].ChunkID)
	assert.Equal(t, 1600, results[0].Start)
	assert.Equal(t, 2500, results[0].End)
	assert.Equal(t, "notes.txt", results[0].SourceName)
}

func TestPipeline_AddDocumentReplaces(t *testing.T) {
	p, index, docs := setupTestPipeline(t, nil)
	ctx := context.Background()

	first, err := p.AddDocument(ctx, &core.Document{ID: "doc", Text: text2500})
	require.NoError(t, err)
	second, err := p.AddDocument(ctx, &core.Document{ID: "doc", Text: "short replacement"})
	require.NoError(t, err)

	assert.Equal(t, 1, index.Count())
	assert.Equal(t, first.Document.Seq, second.Document.Seq)

	stored, err := docs.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "short replacement", stored.Text)
	assert.Equal(t, "doc", stored.SourceName)
}

func TestPipeline_AddDocumentsPartialFailure(t *testing.T) {
	p, index, _ := setupTestPipeline(t, nil)

	results, err := p.AddDocuments(context.Background(),
		&core.Document{ID: "a", Text: "alpha"},
		&core.Document{ID: "empty", Text: "   "},
		nil,
		&core.Document{ID: "b", Text: "bravo"},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
	assert.ErrorIs(t, err, core.ErrEmptyText)
	assert.Contains(t, err.Error(), "document 1 (empty)")

	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Document)
	assert.Error(t, results[2].Err)
	assert.NoError(t, results[3].Err)
	assert.ElementsMatch(t, []string{"a", "b"}, index.DocumentIDs())
}

func TestPipeline_WritesInInputOrder(t *testing.T) {
	p, _, docs := setupTestPipeline(t, nil, WithPoolSize(4))

	var batch []*core.Document
	for i := range 20 {
		batch = append(batch, &core.Document{ID: fmt.Sprintf("doc-%02d", i), Text: fmt.Sprintf("document number %d", i)})
	}
	_, err := p.AddDocuments(context.Background(), batch...)
	require.NoError(t, err)

	listed, err := docs.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 20)
	for i, d := range listed {
		assert.Equal(t, batch[i].ID, d.ID)
	}
}

func TestPipeline_EmbedderFailureKeepsPreviousVersion(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	p, index, docs := setupTestPipeline(t, embedder)
	ctx := context.Background()

	_, err := p.AddDocument(ctx, &core.Document{ID: "doc", Text: "original"})
	require.NoError(t, err)

	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	result, err := p.AddDocument(ctx, &core.Document{ID: "doc", Text: "updated"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProvider)
	assert.Nil(t, result.Document)

	assert.Equal(t, 1, index.Count())
	stored, err := docs.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Text)
}

func TestPipeline_EmbeddingMismatch(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}
	p, _, _ := setupTestPipeline(t, embedder, WithChunker(mustChunker(t, 10, 2)))

	_, err := p.AddDocument(context.Background(), &core.Document{ID: "doc", Text: strings.Repeat("x", 50)})
	assert.ErrorIs(t, err, ErrEmbeddingMismatch)
}

func TestPipeline_DimensionMismatch(t *testing.T) {
	p, index, _ := setupTestPipeline(t, mock.NewMockEmbedderWithDimension(3))

	_, err := p.AddDocument(context.Background(), &core.Document{ID: "doc", Text: "text"})
	assert.ErrorIs(t, err, core.ErrDimension)
	var dimErr *core.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, testDimension, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Got)
	assert.Zero(t, index.Count())
}

func TestPipeline_Batching(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	var mu sync.Mutex
	var sizes []int
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		sizes = append(sizes, len(texts))
		mu.Unlock()
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0, 0, 0, 0, 0, float32(i)}
		}
		return out, nil
	}
	p, index, _ := setupTestPipeline(t, embedder, WithChunker(mustChunker(t, 10, 0)), WithBatchSize(2))

	result, err := p.AddDocument(context.Background(), &core.Document{ID: "doc", Text: strings.Repeat("y", 50)})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Chunks)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 5, index.Count())
}

func TestPipeline_RemoveDocument(t *testing.T) {
	p, index, docs := setupTestPipeline(t, nil)
	ctx := context.Background()

	_, err := p.AddDocuments(ctx,
		&core.Document{ID: "keep", Text: text2500},
		&core.Document{ID: "drop", Text: text2500 + "!"},
	)
	require.NoError(t, err)
	require.Equal(t, 6, index.Count())

	removed, err := p.RemoveDocument(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = docs.GetDocument(ctx, "drop")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	vector, err := mock.NewMockEmbedderWithDimension(testDimension).EmbedText(ctx, text2500[1600:]+"!")
	require.NoError(t, err)
	results, err := index.Query(ctx, vector, 100)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NotEqual(t, "drop", r.DocumentID)
	}

	_, err = p.RemoveDocument(ctx, "drop")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = p.RemoveDocument(ctx, "never-added")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPipeline_RemoveOrphanedEntries(t *testing.T) {
	p, index, _ := setupTestPipeline(t, nil)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, core.IndexedEntry{
		ChunkID:    core.ChunkID("orphan", 0),
		DocumentID: "orphan",
		Text:       "left behind",
		End:        11,
		Vector:     []float32{1, 0, 0, 0, 0, 0, 0, 0},
	}))

	removed, err := p.RemoveDocument(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, index.Count())
}

func TestPipeline_CancelledContext(t *testing.T) {
	p, index, _ := setupTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.AddDocument(ctx, &core.Document{ID: "doc", Text: "text"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, index.Count())
}

func TestPipeline_ConcurrentWritesSameDocument(t *testing.T) {
	p, index, docs := setupTestPipeline(t, nil, WithChunker(mustChunker(t, 20, 5)), WithPoolSize(4))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := strings.Repeat(fmt.Sprintf("v%d ", i), 10+i)
			_, err := p.AddDocument(ctx, &core.Document{ID: "shared", Text: text})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := docs.GetDocument(ctx, "shared")
	require.NoError(t, err)
	expected := len(mustChunker(t, 20, 5).Chunk(stored))
	assert.Equal(t, expected, index.Count(), "index holds exactly the stored version")
	assert.Zero(t, p.locks.size())
}

func TestPipeline_Release(t *testing.T) {
	index, docs := setupTestStores(t)
	p, err := NewPipeline(index, docs, mock.NewMockEmbedderWithDimension(testDimension))
	require.NoError(t, err)

	p.Release()
	_, err = p.AddDocument(context.Background(), &core.Document{ID: "doc", Text: "text"})
	assert.Error(t, err)
}

func mustChunker(t *testing.T, size, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(size, overlap)
	require.NoError(t, err)
	return c
}
