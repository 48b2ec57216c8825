// Package ingestion indexes documents into the knowledge base.
//
// The Pipeline type manages the indexing workflow for documents:
//   - Chunking the document text
//   - Generating and normalizing chunk embeddings
//   - Replacing the document's entries in the vector index
//   - Storing the document so the index can be rebuilt later
//
// Chunking and embedding run concurrently on a worker pool. Index writes are
// serialized per document id and applied in input order.
//
// The Watcher type keeps a directory and the knowledge base in sync by
// re-adding files that change and removing files that disappear.
package ingestion
