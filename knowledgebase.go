// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package groundrag is a retrieval core for grounded question answering.
// A KnowledgeBase indexes documents as embedded chunks, answers queries from
// the index, falls back to web search when the index is not confident, and
// assembles a bounded, attributed context for answer generation.
package groundrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/ai/gemini"
	"github.com/poiesic/groundrag/ai/mock"
	"github.com/poiesic/groundrag/ai/openai"
	"github.com/poiesic/groundrag/assembly"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/config"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/ingestion"
	"github.com/poiesic/groundrag/loader"
	"github.com/poiesic/groundrag/reindex"
	"github.com/poiesic/groundrag/retrieval"
	"github.com/poiesic/groundrag/storage/badger"
)

// SourcesPerKind caps the knowledge-base and web citations listed in an Answer.
const SourcesPerKind = 3

// ErrClosed is returned by operations on a closed KnowledgeBase.
var ErrClosed = errors.New("knowledge base closed")

// KnowledgeBase wires storage, embedding, retrieval and assembly together.
// It is safe for concurrent use. Document changes run concurrently with
// each other; ReindexAll runs alone.
type KnowledgeBase struct {
	cfg       *config.Config
	backend   *badger.Backend
	index     *badger.Index
	documents *badger.DocumentRepository
	provider  ai.AIProvider
	ownsAI    bool
	cache     *ai.CachedEmbedder
	pipeline  *ingestion.Pipeline
	fusion    *retrieval.Fusion
	assembler *assembly.Assembler
	reindexer *reindex.Reindexer
	logger    *slog.Logger

	maintenance sync.RWMutex
	closeOnce   sync.Once
	closed      bool
}

// Option configures a KnowledgeBase.
type Option func(*options)

type options struct {
	provider  ai.AIProvider
	aiOptions []ai.ConfigOption
	monitor   retrieval.Monitor
	progress  io.Writer
	inMemory  bool
	logger    *slog.Logger
}

// WithProvider uses provider instead of building one from the config.
// The caller keeps ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithAIOptions adds provider settings, typically API keys, on top of the
// ones derived from the config.
func WithAIOptions(opts ...ai.ConfigOption) Option {
	return func(o *options) {
		o.aiOptions = append(o.aiOptions, opts...)
	}
}

// WithMonitor observes every query's state transitions.
func WithMonitor(monitor retrieval.Monitor) Option {
	return func(o *options) {
		o.monitor = monitor
	}
}

// WithProgress sets where ReindexAll reports progress. Default discards it.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// WithInMemory keeps all data in memory. DataDir is ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Answer is the retrieval outcome for one question.
type Answer struct {
	QueryID string

	// Context is the assembled evidence and Prompt its rendered form.
	Context *core.FusedContext
	Prompt  string

	Confidence     float64
	UsedWebSearch  bool
	Degraded       bool
	DegradedReason string
	Sources        []core.Citation
}

// Open opens or creates a knowledge base as described by cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*KnowledgeBase, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	kb := &KnowledgeBase{
		cfg:    cfg,
		logger: o.logger.With("component", "knowledge-base"),
	}
	if err := kb.init(ctx, o); err != nil {
		kb.release()
		return nil, err
	}
	kb.logger.Info("knowledge base opened",
		"dir", cfg.DataDir,
		"chunks", kb.index.Count(),
		"model", kb.provider.EmbeddingModel(),
	)
	return kb, nil
}

func (kb *KnowledgeBase) init(ctx context.Context, o *options) error {
	cfg := kb.cfg
	var err error

	kb.backend, err = badger.OpenBackend(cfg.DataDir, o.inMemory)
	if err != nil {
		return err
	}
	kb.index, err = badger.OpenIndex(kb.backend, cfg.EmbeddingDimension, badger.WithLogger(o.logger))
	if err != nil {
		return err
	}
	if err := kb.index.Err(); err != nil {
		kb.logger.Warn("index needs a rebuild before queries succeed", "err", err)
	}
	kb.documents, err = badger.NewDocumentRepository(kb.backend)
	if err != nil {
		return err
	}

	kb.provider = o.provider
	if kb.provider == nil {
		kb.provider, err = newProvider(ctx, cfg, o.aiOptions)
		if err != nil {
			return err
		}
		kb.ownsAI = true
	}

	embedder, err := ai.NewRetryingEmbedder(kb.provider.Embedder(), cfg.EmbeddingProvider,
		ai.WithAttemptTimeout(cfg.EmbeddingTimeout),
		ai.WithMaxAttempts(cfg.EmbeddingMaxAttempts),
		ai.WithBaseDelay(cfg.RetryBaseDelay),
		ai.WithRetryLogger(o.logger),
	)
	if err != nil {
		return err
	}
	var queryEmbedder ai.Embedder = embedder
	if cfg.QueryCacheSize > 0 && cfg.QueryCacheTTL > 0 {
		kb.cache, err = ai.NewCachedEmbedder(embedder, cfg.QueryCacheSize, cfg.QueryCacheTTL)
		if err != nil {
			return err
		}
		queryEmbedder = kb.cache
	}

	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithChunker(c),
		ingestion.WithBatchSize(cfg.EmbedBatchSize),
		ingestion.WithLogger(o.logger),
	}
	if cfg.PoolSize > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(cfg.PoolSize))
	}
	kb.pipeline, err = ingestion.NewPipeline(kb.index, kb.documents, embedder, pipelineOpts...)
	if err != nil {
		return err
	}

	scorer, err := retrieval.NewScorer(cfg.ConfidenceTopK, cfg.ConfidenceMaxWeight)
	if err != nil {
		return err
	}
	kb.fusion, err = retrieval.NewFusion(kb.index, queryEmbedder,
		retrieval.WithWebSearcher(kb.provider.WebSearcher()),
		retrieval.WithScorer(scorer),
		retrieval.WithConfidenceThreshold(cfg.ConfidenceThreshold),
		retrieval.WithWebSearch(cfg.WebSearchEnabled, cfg.MaxWebResults),
		retrieval.WithWebSearchTimeout(cfg.WebSearchTimeout),
		retrieval.WithMonitor(o.monitor),
		retrieval.WithLogger(o.logger),
	)
	if err != nil {
		return err
	}

	kb.assembler, err = assembly.NewAssembler(assembly.WithLogger(o.logger))
	if err != nil {
		return err
	}

	reindexConfig := reindex.DefaultConfig()
	reindexConfig.EmbedBatchSize = cfg.EmbedBatchSize
	kb.reindexer, err = reindex.NewReindexer(kb.documents, kb.index, embedder, c, reindexConfig, o.progress, o.logger)
	return err
}

// newProvider builds the configured AI provider.
func newProvider(ctx context.Context, cfg *config.Config, aiOptions []ai.ConfigOption) (ai.AIProvider, error) {
	aiConfig := cfg.AIConfig(aiOptions...)
	if err := aiConfig.Validate(); err != nil {
		return nil, err
	}
	switch aiConfig.Provider {
	case ai.ProviderGemini:
		return gemini.NewProvider(ctx, aiConfig)
	case ai.ProviderMock:
		return mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(cfg.EmbeddingDimension), nil), nil
	default:
		return openai.NewProvider(aiConfig)
	}
}

// Config returns the configuration the knowledge base was opened with.
func (kb *KnowledgeBase) Config() *config.Config {
	return kb.cfg
}

// Err reports whether the index must be rebuilt with ReindexAll before
// queries succeed.
func (kb *KnowledgeBase) Err() error {
	return kb.index.Err()
}

// AddDocument indexes doc, replacing any previous version with the same id.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, doc *core.Document) (ingestion.Result, error) {
	if err := kb.shared(); err != nil {
		return ingestion.Result{}, err
	}
	defer kb.maintenance.RUnlock()
	return kb.pipeline.AddDocument(ctx, doc)
}

// AddDocuments indexes docs concurrently. See ingestion.Pipeline.AddDocuments.
func (kb *KnowledgeBase) AddDocuments(ctx context.Context, docs ...*core.Document) ([]ingestion.Result, error) {
	if err := kb.shared(); err != nil {
		return nil, err
	}
	defer kb.maintenance.RUnlock()
	return kb.pipeline.AddDocuments(ctx, docs...)
}

// AddPath loads a file, or every supported file below a directory, and
// indexes the result.
func (kb *KnowledgeBase) AddPath(ctx context.Context, path string) ([]ingestion.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		doc, err := loader.Load(path)
		if err != nil {
			return nil, err
		}
		result, err := kb.AddDocument(ctx, doc)
		return []ingestion.Result{result}, err
	}

	docs, loadErr := loader.LoadDir(ctx, path)
	if len(docs) == 0 {
		return nil, loadErr
	}
	results, err := kb.AddDocuments(ctx, docs...)
	return results, errors.Join(loadErr, err)
}

// RemoveDocument deletes a document and its chunks and returns how many
// chunks were removed.
func (kb *KnowledgeBase) RemoveDocument(ctx context.Context, id string) (int, error) {
	if err := kb.shared(); err != nil {
		return 0, err
	}
	defer kb.maintenance.RUnlock()
	return kb.pipeline.RemoveDocument(ctx, id)
}

// ReindexAll rebuilds the index from the stored documents. Document changes
// wait until it finishes; queries keep reading the previous index until the
// new one is swapped in. A corrupt index is repaired by a successful run.
func (kb *KnowledgeBase) ReindexAll(ctx context.Context) (*reindex.Summary, error) {
	kb.maintenance.Lock()
	defer kb.maintenance.Unlock()
	if kb.closed {
		return nil, ErrClosed
	}
	return kb.reindexer.Run(ctx)
}

// Query retrieves evidence for question and assembles it into a context
// of at most ContextBudget characters. allowWebSearch lets low-confidence
// queries consult the web searcher.
func (kb *KnowledgeBase) Query(ctx context.Context, question string, allowWebSearch bool) (*Answer, error) {
	r, err := kb.fusion.Retrieve(ctx, question, kb.cfg.TopK, allowWebSearch)
	if err != nil {
		return nil, err
	}

	fused, err := kb.assembler.Assemble(r.Candidates, kb.cfg.ContextBudget)
	if err != nil {
		r.MarkFailed()
		return nil, fmt.Errorf("assemble context: %w", err)
	}
	r.MarkContextReady()

	return &Answer{
		QueryID:        r.QueryID,
		Context:        fused,
		Prompt:         fused.Render(),
		Confidence:     r.Confidence,
		UsedWebSearch:  r.UsedWebSearch,
		Degraded:       r.Degraded,
		DegradedReason: r.DegradedReason,
		Sources:        fused.Sources(SourcesPerKind),
	}, nil
}

// Documents lists the stored documents in ingestion order.
func (kb *KnowledgeBase) Documents(ctx context.Context) ([]*core.Document, error) {
	return kb.documents.ListDocuments(ctx)
}

// Stats summarizes the knowledge base.
func (kb *KnowledgeBase) Stats(ctx context.Context) (*core.Stats, error) {
	docs, err := kb.documents.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]string, len(docs))
	for i, doc := range docs {
		sources[i] = doc.SourceName
	}
	return &core.Stats{
		Documents:      len(docs),
		Chunks:         kb.index.Count(),
		Dimension:      kb.index.Dimension(),
		EmbeddingModel: kb.provider.EmbeddingModel(),
		Sources:        sources,
	}, nil
}

// Watch keeps the knowledge base in sync with the files below dir until
// ctx is cancelled.
func (kb *KnowledgeBase) Watch(ctx context.Context, dir string) error {
	w, err := ingestion.NewWatcher(kb, dir, ingestion.WithWatcherLogger(kb.logger))
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}

// Close releases all resources. It waits for a running ReindexAll.
func (kb *KnowledgeBase) Close() error {
	var err error
	kb.closeOnce.Do(func() {
		kb.maintenance.Lock()
		kb.closed = true
		kb.maintenance.Unlock()
		err = kb.release()
	})
	return err
}

func (kb *KnowledgeBase) shared() error {
	kb.maintenance.RLock()
	if kb.closed {
		kb.maintenance.RUnlock()
		return ErrClosed
	}
	return nil
}

// release closes whatever init managed to open.
func (kb *KnowledgeBase) release() error {
	var errs []error
	if kb.pipeline != nil {
		kb.pipeline.Release()
	}
	if kb.provider != nil && kb.ownsAI {
		if err := kb.provider.Close(); err != nil {
			kb.logger.Error("error closing AI provider", "err", err)
		}
	}
	if kb.documents != nil {
		if err := kb.documents.Close(); err != nil {
			kb.logger.Error("error closing document repository", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.index != nil {
		if err := kb.index.Close(); err != nil {
			kb.logger.Error("error closing vector index", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.backend != nil {
		if err := kb.backend.Close(); err != nil {
			kb.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
