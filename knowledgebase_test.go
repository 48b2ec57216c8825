package groundrag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/ai/mock"
	"github.com/poiesic/groundrag/config"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/retrieval"
	"github.com/poiesic/groundrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 16

// text2500 has no sentence or whitespace boundaries, so chunk cuts are exact.
var text2500 = strings.Repeat("abcdefghij", 250)

func testConfig(t *testing.T, opts ...config.Option) *config.Config {
	t.Helper()
	base := []config.Option{
		config.WithDataDir(filepath.Join(t.TempDir(), "kb")),
		config.WithEmbeddingProvider(ai.ProviderMock, "", testDimension),
	}
	return config.NewConfig(append(base, opts...)...)
}

func openTestKB(t *testing.T, cfg *config.Config, opts ...Option) *KnowledgeBase {
	t.Helper()
	kb, err := Open(context.Background(), cfg, append([]Option{WithInMemory()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })
	return kb
}

type stateRecorder struct {
	mu     sync.Mutex
	states []retrieval.State
}

func (s *stateRecorder) Start(_, _ string) {}

func (s *stateRecorder) Transition(_ string, _, to retrieval.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, to)
}

func (s *stateRecorder) AfterVectorRetrieval(_ string, _ []core.RetrievalResult, _ float64) {}
func (s *stateRecorder) AfterWebSearch(_ string, _ []core.WebResult, _ error)               {}
func (s *stateRecorder) Finish(_ *retrieval.Retrieval)                                       {}

func (s *stateRecorder) recorded() []retrieval.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.State(nil), s.states...)
}

func TestOpen(t *testing.T) {
	kb := openTestKB(t, testConfig(t))

	stats, err := kb.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
	assert.Equal(t, testDimension, stats.Dimension)
	assert.Equal(t, mock.ModelName, stats.EmbeddingModel)
	assert.NoError(t, kb.Err())
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, config.WithChunking(100, 100))
	_, err := Open(context.Background(), cfg, WithInMemory())
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestOpen_GeminiWithoutKey(t *testing.T) {
	cfg := testConfig(t, config.WithEmbeddingProvider(ai.ProviderGemini, "text-embedding-004", 768))
	_, err := Open(context.Background(), cfg, WithInMemory())
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestKnowledgeBase_AddAndQuery(t *testing.T) {
	kb := openTestKB(t, testConfig(t))
	ctx := context.Background()

	result, err := kb.AddDocument(ctx, &core.Document{SourceName: "notes.txt", Text: text2500})
	require.NoError(t, err)
	require.Equal(t, 3, result.Chunks)

	answer, err := kb.Query(ctx, text2500[1600:], false)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Context.Items)

	first := answer.Context.Items[0].Citation
	assert.Equal(t, core.ChunkID(result.Document.ID, 2), first.ChunkID)
	assert.Equal(t, 1600, first.Start)
	assert.Equal(t, 2500, first.End)
	assert.Equal(t, "notes.txt", first.SourceName)
	assert.LessOrEqual(t, answer.Context.Size, kb.Config().ContextBudget)
	assert.Contains(t, answer.Prompt, "[1] notes.txt (chars 1600-2500)")
	assert.False(t, answer.UsedWebSearch)
	assert.NotEmpty(t, answer.QueryID)
}

func TestKnowledgeBase_QueryRespectsBudget(t *testing.T) {
	kb := openTestKB(t, testConfig(t, config.WithContextBudget(1500)))
	ctx := context.Background()

	_, err := kb.AddDocument(ctx, &core.Document{ID: "doc", Text: text2500})
	require.NoError(t, err)

	answer, err := kb.Query(ctx, "abcdefghij", false)
	require.NoError(t, err)
	assert.LessOrEqual(t, answer.Context.Size, 1500)
	assert.True(t, answer.Context.Truncated)
}

func TestKnowledgeBase_LowConfidenceFallsBackToWeb(t *testing.T) {
	searcher := mock.NewMockWebSearcher(
		core.WebResult{Title: "Go", Snippet: "Go is a programming language.", SourceURL: "https://go.dev/", Relevance: 0.9},
		core.WebResult{Title: "Tour", Snippet: "A tour of Go.", SourceURL: "https://go.dev/tour", Relevance: 0.7},
	)
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(testDimension), searcher)
	recorder := &stateRecorder{}
	kb := openTestKB(t, testConfig(t), WithProvider(provider), WithMonitor(recorder))
	ctx := context.Background()

	answer, err := kb.Query(ctx, "what is go?", true)
	require.NoError(t, err)

	assert.True(t, answer.UsedWebSearch)
	assert.False(t, answer.Degraded)
	assert.Zero(t, answer.Confidence)
	require.Len(t, answer.Context.Items, 2)
	assert.Equal(t, core.CandidateWeb, answer.Context.Items[0].Citation.Kind)
	assert.Equal(t, "https://go.dev/", answer.Sources[0].SourceURL)
	assert.Equal(t, []string{"what is go?"}, searcher.Queries())

	states := recorder.recorded()
	assert.Contains(t, states, retrieval.StateSearchFallback)
	assert.Equal(t, retrieval.StateContextReady, states[len(states)-1])
}

func TestKnowledgeBase_WebSearchNotAllowed(t *testing.T) {
	searcher := mock.NewMockWebSearcher(core.WebResult{Snippet: "web", SourceURL: "https://example.com", Relevance: 1})
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(testDimension), searcher)
	kb := openTestKB(t, testConfig(t), WithProvider(provider))

	answer, err := kb.Query(context.Background(), "anything", false)
	require.NoError(t, err)
	assert.True(t, answer.Context.Empty())
	assert.Zero(t, searcher.CallCount())
}

func TestKnowledgeBase_WebFailureDegrades(t *testing.T) {
	searcher := &mock.MockWebSearcher{Err: errors.New("search backend unavailable")}
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(testDimension), searcher)
	kb := openTestKB(t, testConfig(t, config.WithConfidenceThreshold(1)), WithProvider(provider))
	ctx := context.Background()

	_, err := kb.AddDocuments(ctx,
		&core.Document{ID: "a", Text: "Badger is an embeddable key-value store."},
		&core.Document{ID: "b", Text: "Ants is a goroutine pool."},
	)
	require.NoError(t, err)

	answer, err := kb.Query(ctx, "how do I store keys?", true)
	require.NoError(t, err)

	assert.True(t, answer.Degraded)
	assert.False(t, answer.UsedWebSearch)
	assert.Contains(t, answer.DegradedReason, "unavailable")
	require.NotEmpty(t, answer.Context.Items)
	for _, item := range answer.Context.Items {
		assert.Equal(t, core.CandidateVector, item.Citation.Kind)
	}
	assert.Equal(t, 1, searcher.CallCount())
}

func TestKnowledgeBase_EmbeddingFailureFailsQuery(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(testDimension).
		WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("model not loaded")
		})
	provider := mock.NewMockProviderWithServices(embedder, nil)
	recorder := &stateRecorder{}
	cfg := testConfig(t)
	cfg.RetryBaseDelay = time.Millisecond
	kb := openTestKB(t, cfg, WithProvider(provider), WithMonitor(recorder))

	answer, err := kb.Query(context.Background(), "question", true)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, core.ErrProvider)
	assert.Equal(t, cfg.EmbeddingMaxAttempts, embedder.CallCount())

	states := recorder.recorded()
	require.NotEmpty(t, states)
	assert.Equal(t, retrieval.StateFailed, states[len(states)-1])
}

func TestKnowledgeBase_RemoveDocument(t *testing.T) {
	kb := openTestKB(t, testConfig(t))
	ctx := context.Background()

	_, err := kb.AddDocuments(ctx,
		&core.Document{ID: "keep", Text: text2500},
		&core.Document{ID: "drop", Text: text2500 + "!"},
	)
	require.NoError(t, err)

	removed, err := kb.RemoveDocument(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	answer, err := kb.Query(ctx, text2500[1600:]+"!", false)
	require.NoError(t, err)
	for _, item := range answer.Context.Items {
		assert.Equal(t, "keep", item.Citation.DocumentID)
	}

	docs, err := kb.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep", docs[0].ID)
}

func TestKnowledgeBase_ReindexAllIdempotent(t *testing.T) {
	kb := openTestKB(t, testConfig(t, config.WithChunking(60, 10)))
	ctx := context.Background()

	_, err := kb.AddDocuments(ctx,
		&core.Document{ID: "one", Text: "The first document describes chunking. It has several sentences about text."},
		&core.Document{ID: "two", Text: "The second document describes embeddings. Vectors are compared by cosine."},
		&core.Document{ID: "three", Text: "The third document describes web search fallback and degraded answers."},
	)
	require.NoError(t, err)

	before, err := kb.Query(ctx, "cosine vectors", false)
	require.NoError(t, err)
	chunks := kb.index.Count()

	summary, err := kb.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Documents)
	assert.Equal(t, chunks, summary.Chunks)

	after, err := kb.Query(ctx, "cosine vectors", false)
	require.NoError(t, err)
	assert.Equal(t, before.Context.Items, after.Context.Items)
}

func TestKnowledgeBase_ReindexRecoversCorruptIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	kb, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = kb.AddDocument(ctx, &core.Document{ID: "doc", SourceName: "doc.txt", Text: text2500})
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	backend, err := badger.OpenBackend(cfg.DataDir, false)
	require.NoError(t, err)
	require.NoError(t, badger.InterruptRebuild(backend))
	require.NoError(t, backend.Close())

	kb, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer kb.Close()

	require.ErrorIs(t, kb.Err(), core.ErrIndexCorrupt)
	_, err = kb.Query(ctx, "abc", false)
	require.ErrorIs(t, err, core.ErrIndexCorrupt)

	summary, err := kb.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Documents)
	assert.Equal(t, 3, summary.Chunks)
	assert.NoError(t, kb.Err())

	answer, err := kb.Query(ctx, text2500[1600:], false)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Context.Items)
	assert.Equal(t, core.ChunkID("doc", 2), answer.Context.Items[0].Citation.ChunkID)
}

func TestKnowledgeBase_Persistence(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	kb, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = kb.AddDocument(ctx, &core.Document{ID: "doc", SourceName: "doc.txt", Text: text2500})
	require.NoError(t, err)
	require.NoError(t, kb.Close())

	kb, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer kb.Close()

	stats, err := kb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, []string{"doc.txt"}, stats.Sources)
}

func TestKnowledgeBase_AddPath(t *testing.T) {
	kb := openTestKB(t, testConfig(t))
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("plain text notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# Heading\n\nMarkdown *notes*."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte{0, 1, 2}, 0o644))

	results, err := kb.AddPath(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = kb.AddPath(ctx, filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	stats, err := kb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents, "re-adding a file replaces it")

	_, err = kb.AddPath(ctx, filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKnowledgeBase_Watch(t *testing.T) {
	kb := openTestKB(t, testConfig(t))
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- kb.Watch(ctx, dir) }()

	path := filepath.Join(dir, "live.txt")
	assert.Eventually(t, func() bool {
		// Rewrite until the watcher is up and has seen the file.
		_ = os.WriteFile(path, []byte("watched content"), 0o644)
		docs, err := kb.Documents(context.Background())
		return err == nil && len(docs) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestKnowledgeBase_Closed(t *testing.T) {
	kb, err := Open(context.Background(), testConfig(t), WithInMemory())
	require.NoError(t, err)
	require.NoError(t, kb.Close())
	require.NoError(t, kb.Close())

	_, err = kb.AddDocument(context.Background(), &core.Document{ID: "doc", Text: "text"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.RemoveDocument(context.Background(), "doc")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = kb.ReindexAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKnowledgeBase_ConcurrentAddsDuringReindex(t *testing.T) {
	kb := openTestKB(t, testConfig(t, config.WithChunking(40, 5)))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := kb.AddDocument(ctx, &core.Document{
				ID:   string(rune('a' + i)),
				Text: strings.Repeat("concurrent document text ", 5+i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := kb.ReindexAll(ctx)
		assert.NoError(t, err)
	}()
	wg.Wait()

	// A final rebuild must reproduce exactly what incremental adds produced.
	chunks := kb.index.Count()
	summary, err := kb.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Documents)
	assert.Equal(t, chunks, summary.Chunks)
}
