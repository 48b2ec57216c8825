package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
)

const (
	// DefaultConfidenceThreshold is the confidence below which web search is consulted.
	DefaultConfidenceThreshold = 0.7

	// DefaultMaxWebResults caps the number of web results per query.
	DefaultMaxWebResults = 5

	// DefaultWebSearchTimeout bounds the single web search attempt.
	DefaultWebSearchTimeout = 15 * time.Second
)

// Retrieval is the outcome of one query.
type Retrieval struct {
	QueryID string
	Query   string

	// Candidates holds vector and web evidence merged by score, best first.
	Candidates []core.Candidate

	// Confidence is computed from vector similarities only.
	Confidence float64

	VectorResults []core.RetrievalResult
	WebResults    []core.WebResult

	UsedWebSearch  bool
	Degraded       bool
	DegradedReason string

	State State

	monitor Monitor
	logger  *slog.Logger
}

func (r *Retrieval) transition(to State) {
	from := r.State
	r.State = to
	r.logger.Debug("query state", "from", from, "to", to)
	r.monitor.Transition(r.QueryID, from, to)
}

// MarkContextReady records that a context was assembled from the candidates.
// It is a no-op unless the retrieval is FUSED.
func (r *Retrieval) MarkContextReady() {
	if r.State != StateFused {
		return
	}
	r.transition(StateContextReady)
	r.monitor.Finish(r)
}

// MarkFailed moves a non-terminal retrieval to FAILED.
func (r *Retrieval) MarkFailed() {
	if r.State.Terminal() {
		return
	}
	r.transition(StateFailed)
	r.monitor.Finish(r)
}

// Fusion retrieves evidence from the vector index and, when confidence is
// low, from a web searcher.
type Fusion struct {
	index         storage.VectorIndex
	embedder      ai.Embedder
	searcher      ai.WebSearcher
	scorer        *Scorer
	threshold     float64
	webEnabled    bool
	maxWebResults int
	webTimeout    time.Duration
	monitor       Monitor
	logger        *slog.Logger
}

// Option configures a Fusion.
type Option func(*Fusion) error

// WithWebSearcher sets the web searcher. Nil disables web search.
func WithWebSearcher(searcher ai.WebSearcher) Option {
	return func(f *Fusion) error {
		f.searcher = searcher
		return nil
	}
}

// WithScorer sets the confidence scorer.
// Default is DefaultScorer().
func WithScorer(scorer *Scorer) Option {
	return func(f *Fusion) error {
		if scorer == nil {
			scorer = DefaultScorer()
		}
		f.scorer = scorer
		return nil
	}
}

// WithConfidenceThreshold sets the threshold below which web search runs.
// Default is 0.7.
func WithConfidenceThreshold(threshold float64) Option {
	return func(f *Fusion) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("%w: confidence threshold must be in [0,1], got %g", core.ErrConfig, threshold)
		}
		f.threshold = threshold
		return nil
	}
}

// WithWebSearch enables or disables web search and caps its results.
// Defaults are enabled with 5 results.
func WithWebSearch(enabled bool, maxResults int) Option {
	return func(f *Fusion) error {
		if maxResults < 0 {
			return fmt.Errorf("%w: max web results must not be negative", core.ErrConfig)
		}
		f.webEnabled = enabled
		f.maxWebResults = maxResults
		return nil
	}
}

// WithWebSearchTimeout bounds each web search.
// Default is 15 seconds.
func WithWebSearchTimeout(d time.Duration) Option {
	return func(f *Fusion) error {
		if d <= 0 {
			return fmt.Errorf("%w: web search timeout must be positive", core.ErrConfig)
		}
		f.webTimeout = d
		return nil
	}
}

// WithMonitor sets the default monitor for every query.
func WithMonitor(monitor Monitor) Option {
	return func(f *Fusion) error {
		f.monitor = monitor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fusion) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// NewFusion creates a Fusion. The embedder should already carry retries
// and timeouts (see ai.RetryingEmbedder).
func NewFusion(index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Fusion, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	f := &Fusion{
		index:         index,
		embedder:      embedder,
		scorer:        DefaultScorer(),
		threshold:     DefaultConfidenceThreshold,
		webEnabled:    true,
		maxWebResults: DefaultMaxWebResults,
		webTimeout:    DefaultWebSearchTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	f.logger = f.logger.With("component", "fusion")
	return f, nil
}

// Retrieve runs one query. See RetrieveWithMonitor.
func (f *Fusion) Retrieve(ctx context.Context, query string, k int, allowWebSearch bool) (*Retrieval, error) {
	return f.RetrieveWithMonitor(ctx, query, k, allowWebSearch, nil)
}

// RetrieveWithMonitor runs one query, reporting each step to monitor.
// On success the returned Retrieval is FUSED. On failure the error is
// returned together with the FAILED Retrieval, which carries no candidates.
func (f *Fusion) RetrieveWithMonitor(ctx context.Context, query string, k int, allowWebSearch bool, monitor Monitor) (*Retrieval, error) {
	if monitor == nil {
		monitor = f.monitor
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	r := &Retrieval{
		QueryID: uuid.NewString(),
		Query:   query,
		State:   StateReceived,
		monitor: monitor,
	}
	r.logger = f.logger.With("query_id", r.QueryID)
	monitor.Start(r.QueryID, query)

	fail := func(err error) (*Retrieval, error) {
		r.Candidates = nil
		r.MarkFailed()
		return r, err
	}

	if strings.TrimSpace(query) == "" {
		return fail(fmt.Errorf("%w: query must not be empty", core.ErrConfig))
	}
	if k <= 0 {
		return fail(fmt.Errorf("%w: k must be positive, got %d", core.ErrConfig, k))
	}

	// 1. Embed the query
	vector, err := f.embedder.EmbedText(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		r.logger.Error("error generating embedding for query", "err", err)
		return fail(core.NewProviderError("embedder", "embed query", err))
	}
	r.transition(StateEmbedded)

	// 2. Nearest chunks and confidence
	results, err := f.index.Query(ctx, ai.NormalizeVector(vector), k)
	if err != nil {
		r.logger.Error("error querying vector index", "err", err)
		return fail(err)
	}
	r.VectorResults = results
	r.Confidence = f.scorer.ScoreResults(results)
	r.transition(StateVectorRetrieved)
	monitor.AfterVectorRetrieval(r.QueryID, results, r.Confidence)

	// 3. Fallback decision
	if f.shouldSearch(allowWebSearch, r.Confidence, len(results)) {
		r.transition(StateSearchFallback)
		web, err := f.search(ctx, query)
		monitor.AfterWebSearch(r.QueryID, web, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			r.Degraded = true
			r.DegradedReason = err.Error()
			r.logger.Warn("web search failed, continuing with indexed results", "err", err)
		} else {
			r.WebResults = web
			r.UsedWebSearch = true
		}
	} else {
		r.transition(StateSkipped)
	}

	// 4. Merge
	r.Candidates = Merge(r.VectorResults, r.WebResults)
	r.transition(StateFused)

	r.logger.Info("retrieval complete",
		"vector_results", len(r.VectorResults),
		"web_results", len(r.WebResults),
		"confidence", r.Confidence,
		"degraded", r.Degraded,
	)
	return r, nil
}

// shouldSearch reports whether a query with the given confidence and
// number of vector results consults the web searcher.
func (f *Fusion) shouldSearch(allowWebSearch bool, confidence float64, vectorResults int) bool {
	if !allowWebSearch || !f.webEnabled || f.searcher == nil || f.maxWebResults <= 0 {
		return false
	}
	return vectorResults == 0 || confidence < f.threshold
}

func (f *Fusion) search(ctx context.Context, query string) ([]core.WebResult, error) {
	sctx, cancel := context.WithTimeout(ctx, f.webTimeout)
	defer cancel()

	results, err := f.searcher.Search(sctx, query, f.maxWebResults)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", f.webTimeout, err)
		}
		return nil, core.NewProviderError("web", "search", err)
	}
	if len(results) > f.maxWebResults {
		results = results[:f.maxWebResults]
	}
	return results, nil
}

// Merge combines vector and web evidence into one list, best score first.
// Scores are clamped to [0,1].
// At equal scores vector candidates precede web candidates; otherwise the
// input order is kept.
func Merge(vector []core.RetrievalResult, web []core.WebResult) []core.Candidate {
	candidates := make([]core.Candidate, 0, len(vector)+len(web))
	for _, r := range vector {
		candidates = append(candidates, core.CandidateFromResult(r))
	}
	for _, w := range web {
		candidates = append(candidates, core.CandidateFromWeb(w))
	}
	for i := range candidates {
		candidates[i].Score = clamp01(candidates[i].Score)
	}

	slices.SortStableFunc(candidates, func(a, b core.Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Kind == core.CandidateVector && b.Kind != core.CandidateVector:
			return -1
		case a.Kind != core.CandidateVector && b.Kind == core.CandidateVector:
			return 1
		}
		return 0
	})
	return candidates
}
