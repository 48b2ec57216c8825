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

package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/chunker"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
)

// Config holds configuration for the rebuild.
type Config struct {
	// BatchSize is the number of documents to process in each batch
	BatchSize int

	// EmbedBatchSize is the number of chunk texts per embedder call
	EmbedBatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		EmbedBatchSize: DefaultEmbedBatchSize,
		ReportInterval: 10,
	}
}

// Summary describes a completed rebuild.
type Summary struct {
	Documents int
	Chunks    int
	Elapsed   time.Duration
}

// Reindexer rebuilds a vector index from a document repository.
type Reindexer struct {
	documents storage.DocumentRepository
	index     storage.VectorIndex
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr; nil discards it)
func NewReindexer(
	documents storage.DocumentRepository,
	index storage.VectorIndex,
	embedder ai.Embedder,
	c *chunker.Chunker,
	config *Config,
	progress io.Writer,
	logger *slog.Logger,
) (*Reindexer, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if c == nil {
		return nil, ErrChunkerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reindexer{
		documents: documents,
		index:     index,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(c, embedder, index.Dimension(), config.EmbedBatchSize),
		iterator:  NewDocumentIterator(documents, config.BatchSize),
		logger:    logger.With("component", "reindex"),
	}, nil
}

// Run re-chunks and re-embeds every stored document, then replaces the
// index contents in one atomic swap. Entries are inserted in document
// ingestion order. If anything fails before the swap, the index is left
// untouched; once the swap has started, cancelling ctx no longer stops it.
// A corrupt index is repaired by a successful Run.
func (r *Reindexer) Run(ctx context.Context) (*Summary, error) {
	total, err := r.documents.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	fmt.Fprintf(r.progress, "Starting rebuild of %d documents (batch size: %d)\n",
		total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	var entries []core.IndexedEntry
	processed := 0

	err = r.iterator.ForEach(ctx, func(docs []*core.Document) error {
		batch, err := r.processor.Process(ctx, docs)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		entries = append(entries, batch...)

		processed += len(docs)
		tracker.Update(processed)
		return nil
	})
	if err != nil {
		r.logger.Error("rebuild aborted, index unchanged", "err", err)
		return nil, err
	}

	if err := r.index.Rebuild(ctx, entries); err != nil {
		r.logger.Error("error swapping rebuilt index", "err", err)
		return nil, err
	}

	tracker.Finish()

	summary := &Summary{
		Documents: processed,
		Chunks:    len(entries),
		Elapsed:   tracker.Elapsed(),
	}
	fmt.Fprintf(r.progress, "Rebuild complete. Indexed %d chunks from %d documents in %v\n",
		summary.Chunks, summary.Documents, summary.Elapsed.Round(time.Millisecond))
	r.logger.Info("index rebuilt", "documents", summary.Documents, "chunks", summary.Chunks)

	return summary, nil
}
