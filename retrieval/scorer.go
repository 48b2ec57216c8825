package retrieval

import (
	"fmt"
	"math"
	"slices"

	"github.com/poiesic/groundrag/core"
)

const (
	// DefaultConfidenceTopK is the number of best similarities averaged.
	DefaultConfidenceTopK = 3

	// DefaultMaxWeight is the share of the score given to the best match.
	DefaultMaxWeight = 0.6
)

// Scorer reduces a list of similarities to one confidence value in [0,1].
// The score blends the best similarity with the mean of the top k.
type Scorer struct {
	topK      int
	maxWeight float64
}

// NewScorer creates a scorer. topK must be positive and maxWeight in [0,1].
func NewScorer(topK int, maxWeight float64) (*Scorer, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: confidence top-k must be positive, got %d", core.ErrConfig, topK)
	}
	if maxWeight < 0 || maxWeight > 1 {
		return nil, fmt.Errorf("%w: confidence max weight must be in [0,1], got %g", core.ErrConfig, maxWeight)
	}
	return &Scorer{topK: topK, maxWeight: maxWeight}, nil
}

// DefaultScorer returns a scorer with the default weights.
func DefaultScorer() *Scorer {
	return &Scorer{topK: DefaultConfidenceTopK, maxWeight: DefaultMaxWeight}
}

// Score returns 0 for no input. Inputs are clamped to [0,1] first; the
// result is non-decreasing in every input.
func (s *Scorer) Score(similarities []float64) float64 {
	if len(similarities) == 0 {
		return 0
	}

	sorted := make([]float64, len(similarities))
	for i, v := range similarities {
		sorted[i] = clamp01(v)
	}
	slices.SortFunc(sorted, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})

	top := sorted[:min(s.topK, len(sorted))]
	var sum float64
	for _, v := range top {
		sum += v
	}
	mean := sum / float64(len(top))

	return clamp01(s.maxWeight*sorted[0] + (1-s.maxWeight)*mean)
}

// ScoreResults scores the similarities of vector results.
func (s *Scorer) ScoreResults(results []core.RetrievalResult) float64 {
	sims := make([]float64, len(results))
	for i, r := range results {
		sims[i] = r.Similarity
	}
	return s.Score(sims)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
