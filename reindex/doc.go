// Package reindex rebuilds the vector index from the stored documents.
//
// Every stored document is re-chunked and re-embedded with the current
// chunker and embedder, and the resulting entries replace the whole index
// in one atomic swap. This is the recovery path for a corrupt index and the
// way to move a knowledge base to a new embedding model or chunk size.
package reindex
