package chunker

import (
	"fmt"
	"unicode"

	"github.com/poiesic/groundrag/core"
)

const (
	// DefaultSize is the default chunk length in characters.
	DefaultSize = 1000
	// DefaultOverlap is the default number of characters shared by neighbouring chunks.
	DefaultOverlap = 200
)

// Chunker splits document text into overlapping, bounded segments.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithLookback sets how far before the target offset a boundary may be taken.
// Default is size/10. The window is always capped so that every chunk advances.
func WithLookback(n int) Option {
	return func(c *Chunker) error {
		if n < 0 {
			return fmt.Errorf("%w: lookback must not be negative", core.ErrConfig)
		}
		c.lookback = n
		return nil
	}
}

// New creates a Chunker. size must be positive and overlap must satisfy
// 0 <= overlap < size.
func New(size, overlap int, opts ...Option) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", core.ErrConfig, size, overlap)
	}

	c := &Chunker{
		size:     size,
		overlap:  overlap,
		lookback: max(1, size/10),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Split chunks doc with the given parameters.
func Split(doc *core.Document, size, overlap int) ([]core.Chunk, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(doc), nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits the document text. Offsets are in runes. Consecutive chunks
// share exactly overlap runes, the last chunk ends at the text length, and
// the same input always yields the same chunks. Empty text yields no chunks.
func (c *Chunker) Chunk(doc *core.Document) []core.Chunk {
	if doc == nil {
		return nil
	}
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	// The boundary window must leave end > start+overlap so the next start advances.
	window := min(c.lookback, c.size-c.overlap-1)

	var chunks []core.Chunk
	start := 0
	for {
		end := len(runes)
		if end-start > c.size {
			end = boundary(runes, start+c.size, window)
		}
		seq := len(chunks)
		chunks = append(chunks, core.Chunk{
			ID:         core.ChunkID(doc.ID, seq),
			DocumentID: doc.ID,
			Sequence:   seq,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
		if end == len(runes) {
			return chunks
		}
		start = end - c.overlap
	}
}

// boundary returns the cut offset for a chunk whose hard end is target.
// It prefers the sentence end nearest target within window, then the
// nearest whitespace, and otherwise cuts at target.
func boundary(runes []rune, target, window int) int {
	if window <= 0 {
		return target
	}
	floor := target - window
	for end := target; end > floor; end-- {
		if isSentenceEnd(runes, end) {
			return end
		}
	}
	for end := target; end > floor; end-- {
		if unicode.IsSpace(runes[end-1]) {
			return end
		}
	}
	return target
}

// isSentenceEnd reports whether a sentence ends just before offset end.
// Terminal punctuation only counts when followed by whitespace, so "3.14"
// is not split.
func isSentenceEnd(runes []rune, end int) bool {
	switch runes[end-1] {
	case '\n':
		return true
	case '.', '!', '?':
		return end == len(runes) || unicode.IsSpace(runes[end])
	}
	return false
}
