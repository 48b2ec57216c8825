package storage

import (
	"context"

	"github.com/poiesic/groundrag/core"
)

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
// Implementations must be thread-safe. Queries never observe a partially
// applied write or rebuild.
type VectorIndex interface {
	// Upsert inserts or replaces entries by chunk id. A replaced entry keeps
	// its original insertion order. Every vector must match the index
	// dimension or the whole batch fails with core.ErrDimension.
	Upsert(ctx context.Context, entries ...core.IndexedEntry) error

	// Query returns up to k entries by descending similarity, ties broken by
	// insertion order. k <= 0 fails with core.ErrConfig. An empty index
	// returns an empty slice.
	Query(ctx context.Context, vector []float32, k int) ([]core.RetrievalResult, error)

	// DeleteByDocument removes every entry of a document and returns how many
	// were removed. Unknown documents are a no-op.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// Rebuild replaces the whole index with entries, inserted in order.
	// Concurrent queries see either the old or the new state.
	Rebuild(ctx context.Context, entries []core.IndexedEntry) error

	// Count returns the number of stored entries.
	Count() int

	// DocumentIDs returns the distinct document ids present in the index.
	DocumentIDs() []string

	// Dimension returns the configured vector dimension.
	Dimension() int

	// Err reports a load failure (core.ErrIndexCorrupt or core.ErrDimension)
	// that must be cleared by Rebuild. Nil when the index is healthy.
	Err() error

	// Close releases resources.
	Close() error
}

// DocumentRepository stores source documents so the index can be rebuilt.
type DocumentRepository interface {
	// PutDocument stores or replaces a document. New documents get the next
	// ingestion sequence; replaced documents keep theirs.
	PutDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// DeleteDocument returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns all documents in ingestion order.
	ListDocuments(ctx context.Context) ([]*core.Document, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
