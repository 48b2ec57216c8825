package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact content hash used for cache keys and deduplication.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// DocumentIDFromSource derives a stable document id from a source name, so
// re-adding the same file replaces the earlier version.
func DocumentIDFromSource(source string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID returns the id of the chunk at sequence within a document.
func ChunkID(documentID string, sequence int) string {
	return documentID + ":" + strconv.Itoa(sequence)
}

// Document is a unit of source text. Documents are never patched in place;
// a new version replaces the old one wholesale.
type Document struct {
	ID         string
	SourceName string
	Text       string
	Metadata   map[string]string
	Seq        uint64    // Ingestion order, assigned by the document store
	IngestedAt time.Time // When the document was first stored
}

// Chunk is a contiguous, possibly overlapping segment of a document.
// Start and End are rune offsets into the document text, End exclusive.
type Chunk struct {
	ID         string
	DocumentID string
	Sequence   int
	Text       string
	Start      int
	End        int
	Embedding  []float32 // Attached after embedding
}

// Len returns the length of the chunk in runes.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// IndexedEntry is the record a vector index stores for one chunk.
type IndexedEntry struct {
	ChunkID    string
	DocumentID string
	SourceName string
	Sequence   int
	Text       string
	Start      int
	End        int
	Vector     []float32
	Order      uint64 // Insertion order, assigned by the index
}

// EntryFromChunk builds an index entry from an embedded chunk.
func EntryFromChunk(chunk Chunk, sourceName string) IndexedEntry {
	return IndexedEntry{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		SourceName: sourceName,
		Sequence:   chunk.Sequence,
		Text:       chunk.Text,
		Start:      chunk.Start,
		End:        chunk.End,
		Vector:     chunk.Embedding,
	}
}

// IndexMeta describes the persisted index as a whole.
type IndexMeta struct {
	Dimension int
	UpdatedAt time.Time
}

// RetrievalResult is a single hit from a vector index query.
// Similarity is cosine similarity mapped onto [0,1].
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	SourceName string
	Sequence   int
	Text       string
	Start      int
	End        int
	Similarity float64
}

// WebResult is a snippet returned by a web search provider.
// It lives only for the duration of one query.
type WebResult struct {
	Title     string
	Snippet   string
	SourceURL string
	Relevance float64
}

// CandidateKind identifies where a candidate came from.
type CandidateKind int

const (
	// CandidateVector is a chunk retrieved from the vector index.
	CandidateVector CandidateKind = iota + 1
	// CandidateWeb is a snippet retrieved from web search.
	CandidateWeb
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateVector:
		return "knowledge_base"
	case CandidateWeb:
		return "web_search"
	default:
		return "unknown"
	}
}

// Citation carries enough metadata to attribute text back to its evidence.
type Citation struct {
	Kind       CandidateKind
	DocumentID string
	SourceName string
	ChunkID    string
	Start      int
	End        int
	SourceURL  string
	Title      string
}

// Candidate is one element of the merged, ranked list produced by retrieval.
type Candidate struct {
	Kind     CandidateKind
	Text     string
	Score    float64
	Citation Citation
}

// CandidateFromResult converts a vector hit into a candidate.
func CandidateFromResult(r RetrievalResult) Candidate {
	return Candidate{
		Kind:  CandidateVector,
		Text:  r.Text,
		Score: r.Similarity,
		Citation: Citation{
			Kind:       CandidateVector,
			DocumentID: r.DocumentID,
			SourceName: r.SourceName,
			ChunkID:    r.ChunkID,
			Start:      r.Start,
			End:        r.End,
		},
	}
}

// CandidateFromWeb converts a web snippet into a candidate.
func CandidateFromWeb(w WebResult) Candidate {
	return Candidate{
		Kind:  CandidateWeb,
		Text:  w.Snippet,
		Score: w.Relevance,
		Citation: Citation{
			Kind:      CandidateWeb,
			SourceURL: w.SourceURL,
			Title:     w.Title,
		},
	}
}

// Stats summarizes the state of a knowledge base.
type Stats struct {
	Documents      int
	Chunks         int
	Dimension      int
	EmbeddingModel string
	Sources        []string
}
