package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/core"
	"golang.org/x/time/rate"
)

const (
	providerName = "tavily"

	// DefaultEndpoint is the Tavily search API.
	DefaultEndpoint = "https://api.tavily.com/search"

	// DefaultMaxResults applies when Search is called with maxResults <= 0.
	DefaultMaxResults = 5

	defaultTitle = "No title"
)

// ErrAPIKeyRequired is returned when a Searcher is created without a key.
var ErrAPIKeyRequired = errors.New("tavily api key required")

type searchRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Searcher implements ai.WebSearcher against the Tavily search API.
type Searcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ ai.WebSearcher = (*Searcher)(nil)

// Option configures a Searcher.
type Option func(*Searcher) error

// WithEndpoint overrides the search endpoint.
func WithEndpoint(endpoint string) Option {
	return func(s *Searcher) error {
		if strings.TrimSpace(endpoint) == "" {
			return fmt.Errorf("%w: tavily endpoint must not be empty", core.ErrConfig)
		}
		s.endpoint = endpoint
		return nil
	}
}

// WithHTTPClient sets the HTTP client.
// Default is http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Searcher) error {
		if client == nil {
			client = http.DefaultClient
		}
		s.client = client
		return nil
	}
}

// WithRateLimit throttles searches to perSecond with the given burst.
// Default is one request per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Searcher) error {
		if perSecond <= 0 || burst <= 0 {
			return fmt.Errorf("%w: tavily rate limit must be positive", core.ErrConfig)
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// newSearcher returns the concrete type for package tests.
func newSearcher(apiKey string, opts ...Option) (*Searcher, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	s := &Searcher{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		client:   http.DefaultClient,
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "tavily-searcher")
	return s, nil
}

// NewSearcher creates a Tavily web searcher.
//
// Returns ai.WebSearcher interface to enforce abstraction.
func NewSearcher(apiKey string, opts ...Option) (ai.WebSearcher, error) {
	return newSearcher(apiKey, opts...)
}

// FromConfig builds a searcher from config, or returns nil, nil when no
// Tavily key is configured.
func FromConfig(config *ai.Config, opts ...Option) (ai.WebSearcher, error) {
	if config.TavilyAPIKey == "" {
		return nil, nil
	}
	burst := max(1, int(config.SearchRatePerSecond))
	opts = append([]Option{WithRateLimit(config.SearchRatePerSecond, burst)}, opts...)
	return newSearcher(config.TavilyAPIKey, opts...)
}

// Search queries Tavily. A single attempt is made; failures are returned as
// *core.ProviderError so callers can degrade instead of failing.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]core.WebResult, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s.logger.Debug("performing web search", "query_length", len(query), "max_results", maxResults)

	body, err := json.Marshal(searchRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, core.NewProviderError(providerName, "search", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError(providerName, "search", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.NewProviderError(providerName, "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		s.logger.Warn("web search failed", "status", resp.StatusCode)
		return nil, core.NewProviderError(providerName, "search", err)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.NewProviderError(providerName, "decode", err)
	}

	results := make([]core.WebResult, 0, min(len(out.Results), maxResults))
	for _, r := range out.Results {
		if len(results) == maxResults {
			break
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = defaultTitle
		}
		results = append(results, core.WebResult{
			Title:     title,
			Snippet:   r.Content,
			SourceURL: r.URL,
			Relevance: clamp01(r.Score),
		})
	}

	s.logger.Debug("web search complete", "results", len(results))
	return results, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
