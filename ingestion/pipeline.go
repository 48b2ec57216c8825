package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
)

// Pipeline orchestrates the indexing of documents.
// It chunks and embeds documents concurrently and writes them to the index
// and the document store one document at a time.
type Pipeline struct {
	index     storage.VectorIndex
	documents storage.DocumentRepository
	pool      *ants.Pool
	proc      processor
	chunker   *chunker.Chunker
	batchSize int
	locks     *keyedMutex
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunker sets the chunker.
// Default is chunker.DefaultSize with chunker.DefaultOverlap.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c == nil {
			return fmt.Errorf("%w: chunker must not be nil", core.ErrConfig)
		}
		p.chunker = c
		return nil
	}
}

// WithBatchSize sets how many chunk texts are embedded per call.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: embed batch size must be positive, got %d", core.ErrConfig, size)
		}
		p.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline. The embedder should already
// carry retries and timeouts (see ai.RetryingEmbedder).
func NewPipeline(
	index storage.VectorIndex,
	documents storage.DocumentRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	defaultChunker, err := chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
	if err != nil {
		pool.Release()
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		index:     index,
		documents: documents,
		pool:      pool,
		chunker:   defaultChunker,
		batchSize: DefaultBatchSize,
		locks:     newKeyedMutex(),
		logger:    slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Create processor after options are applied (so it gets final config)
	proc, err := newEmbeddingProcessor(p.chunker, embedder, index.Dimension(), p.batchSize, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.proc = proc

	return p, nil
}

// Result reports the outcome of indexing one document.
type Result struct {
	// Document is the stored document, with its id, sequence and ingestion
	// time filled in. Nil on failure.
	Document *core.Document
	Chunks   int
	Err      error
}

// AddDocument indexes a single document, replacing any earlier version with
// the same id.
func (p *Pipeline) AddDocument(ctx context.Context, doc *core.Document) (Result, error) {
	results, err := p.AddDocuments(ctx, doc)
	return results[0], err
}

// AddDocuments indexes documents, replacing earlier versions with the same
// id. A document without an id gets one derived from its source name.
//
// Documents are chunked and embedded concurrently; index writes happen in
// input order, serialized per document id. One result is returned per input.
// A failed document does not stop the others; all failures are joined in the
// returned error.
func (p *Pipeline) AddDocuments(ctx context.Context, docs ...*core.Document) ([]Result, error) {
	results := make([]Result, len(docs))
	prepared := make([][]core.IndexedEntry, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		d, err := normalizeDocument(doc)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Document = d

		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			prepared[i], results[i].Err = p.proc.prepare(ctx, d)
		})
		if submitErr != nil {
			wg.Done()
			results[i].Err = submitErr
		}
	}
	wg.Wait()

	var errs []error
	for i := range results {
		r := &results[i]
		if r.Err == nil {
			if err := ctx.Err(); err != nil {
				r.Err = err
			} else {
				r.Document, r.Err = p.write(ctx, r.Document, prepared[i])
				r.Chunks = len(prepared[i])
			}
		}
		if r.Err != nil {
			r.Document = nil
			r.Chunks = 0
			errs = append(errs, fmt.Errorf("document %d (%s): %w", i, describe(docs[i]), r.Err))
			continue
		}
		p.logger.Info("indexed document", "document", r.Document.ID, "source", r.Document.SourceName, "chunks", r.Chunks)
	}

	return results, errors.Join(errs...)
}

// write replaces the document's index entries and stores the document.
func (p *Pipeline) write(ctx context.Context, doc *core.Document, entries []core.IndexedEntry) (*core.Document, error) {
	unlock := p.locks.lock(doc.ID)
	defer unlock()

	removed, err := p.index.DeleteByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		p.logger.Debug("replaced previous version", "document", doc.ID, "removed", removed)
	}
	if err := p.index.Upsert(ctx, entries...); err != nil {
		return nil, err
	}
	return p.documents.PutDocument(ctx, doc)
}

// RemoveDocument deletes a document and its index entries and returns the
// number of entries removed. Unknown ids fail with storage.ErrNotFound.
func (p *Pipeline) RemoveDocument(ctx context.Context, id string) (int, error) {
	unlock := p.locks.lock(id)
	defer unlock()

	removed, err := p.index.DeleteByDocument(ctx, id)
	if err != nil {
		return 0, err
	}

	err = p.documents.DeleteDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) && removed > 0 {
		// Orphaned entries without a stored document.
		err = nil
	}
	if err != nil {
		return removed, fmt.Errorf("remove document %s: %w", id, err)
	}

	p.logger.Info("removed document", "document", id, "chunks", removed)
	return removed, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// normalizeDocument validates doc and returns a copy with its id filled in.
func normalizeDocument(doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	d := *doc
	if d.ID == "" {
		d.ID = core.DocumentIDFromSource(d.SourceName)
	}
	if d.SourceName == "" {
		d.SourceName = d.ID
	}
	return &d, nil
}

func describe(doc *core.Document) string {
	switch {
	case doc == nil:
		return "nil"
	case doc.SourceName != "":
		return doc.SourceName
	default:
		return doc.ID
	}
}
