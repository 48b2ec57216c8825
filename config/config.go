// Package config holds the knowledge base settings and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/core"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the retrieval core. API keys are not part
// of it; they come from the environment.
type Config struct {
	// DataDir is the Badger directory holding documents and the index.
	DataDir string `yaml:"data_dir"`

	// Chunking
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Embedding
	EmbeddingProvider    string        `yaml:"embedding_provider"`
	EmbeddingHost        string        `yaml:"embedding_host"`
	EmbeddingModel       string        `yaml:"embedding_model"`
	EmbeddingDimension   int           `yaml:"embedding_dimension"`
	EmbeddingTimeout     time.Duration `yaml:"embedding_timeout"`
	EmbeddingMaxAttempts int           `yaml:"embedding_max_attempts"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
	EmbedBatchSize       int           `yaml:"embed_batch_size"`
	QueryCacheSize       int           `yaml:"query_cache_size"` // 0 disables the cache
	QueryCacheTTL        time.Duration `yaml:"query_cache_ttl"`

	// Retrieval
	TopK                int     `yaml:"top_k"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ConfidenceTopK      int     `yaml:"confidence_top_k"`
	ConfidenceMaxWeight float64 `yaml:"confidence_max_weight"`
	ContextBudget       int     `yaml:"context_budget"`

	// Web search
	WebSearchEnabled    bool          `yaml:"web_search_enabled"`
	MaxWebResults       int           `yaml:"max_web_results"`
	WebSearchTimeout    time.Duration `yaml:"web_search_timeout"`
	SearchRatePerSecond float64       `yaml:"search_rate_per_second"`

	// PoolSize is the ingestion worker count. 0 picks one from the CPU count.
	PoolSize int `yaml:"pool_size"`
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithDataDir sets the storage directory.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithChunking sets the chunk size and overlap in characters.
func WithChunking(size, overlap int) Option {
	return func(c *Config) {
		c.ChunkSize = size
		c.ChunkOverlap = overlap
	}
}

// WithEmbeddingProvider selects the embedding provider and its model.
func WithEmbeddingProvider(provider, model string, dimension int) Option {
	return func(c *Config) {
		c.EmbeddingProvider = provider
		c.EmbeddingModel = model
		c.EmbeddingDimension = dimension
	}
}

// WithTopK sets how many chunks are retrieved per query.
func WithTopK(k int) Option {
	return func(c *Config) {
		c.TopK = k
	}
}

// WithConfidenceThreshold sets the confidence below which web search runs.
func WithConfidenceThreshold(threshold float64) Option {
	return func(c *Config) {
		c.ConfidenceThreshold = threshold
	}
}

// WithContextBudget sets the assembled context size in characters.
func WithContextBudget(budget int) Option {
	return func(c *Config) {
		c.ContextBudget = budget
	}
}

// WithWebSearch enables or disables web search and caps its results.
func WithWebSearch(enabled bool, maxResults int) Option {
	return func(c *Config) {
		c.WebSearchEnabled = enabled
		c.MaxWebResults = maxResults
	}
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		DataDir:              "groundrag_data",
		ChunkSize:            1000,
		ChunkOverlap:         200,
		EmbeddingProvider:    aiDefaults.Provider,
		EmbeddingHost:        aiDefaults.EmbeddingHost,
		EmbeddingModel:       aiDefaults.EmbeddingModel,
		EmbeddingDimension:   384,
		EmbeddingTimeout:     30 * time.Second,
		EmbeddingMaxAttempts: 3,
		RetryBaseDelay:       500 * time.Millisecond,
		EmbedBatchSize:       32,
		QueryCacheSize:       256,
		QueryCacheTTL:        10 * time.Minute,
		TopK:                 5,
		ConfidenceThreshold:  0.7,
		ConfidenceTopK:       3,
		ConfidenceMaxWeight:  0.6,
		ContextBudget:        4000,
		WebSearchEnabled:     true,
		MaxWebResults:        5,
		WebSearchTimeout:     15 * time.Second,
		SearchRatePerSecond:  aiDefaults.SearchRatePerSecond,
	}
}

// NewConfig creates a Config with the default values and applies opts.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects invalid settings with core.ErrConfig.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir is required")
	check(c.ChunkSize > 0, "chunk_size must be positive, got %d", c.ChunkSize)
	check(c.ChunkOverlap >= 0 && c.ChunkOverlap < c.ChunkSize,
		"chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	check(c.EmbeddingDimension > 0, "embedding_dimension must be positive, got %d", c.EmbeddingDimension)
	check(c.EmbeddingTimeout > 0, "embedding_timeout must be positive")
	check(c.EmbeddingMaxAttempts > 0, "embedding_max_attempts must be positive, got %d", c.EmbeddingMaxAttempts)
	check(c.RetryBaseDelay >= 0, "retry_base_delay must not be negative")
	check(c.EmbedBatchSize > 0, "embed_batch_size must be positive, got %d", c.EmbedBatchSize)
	check(c.QueryCacheSize >= 0, "query_cache_size must not be negative")
	check(c.QueryCacheSize == 0 || c.QueryCacheTTL >= 0, "query_cache_ttl must not be negative")
	check(c.TopK > 0, "top_k must be positive, got %d", c.TopK)
	check(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1,
		"confidence_threshold must be in [0,1], got %g", c.ConfidenceThreshold)
	check(c.ConfidenceTopK > 0, "confidence_top_k must be positive, got %d", c.ConfidenceTopK)
	check(c.ConfidenceMaxWeight >= 0 && c.ConfidenceMaxWeight <= 1,
		"confidence_max_weight must be in [0,1], got %g", c.ConfidenceMaxWeight)
	check(c.ContextBudget > 0, "context_budget must be positive, got %d", c.ContextBudget)
	check(c.MaxWebResults >= 0, "max_web_results must not be negative, got %d", c.MaxWebResults)
	check(c.WebSearchTimeout > 0, "web_search_timeout must be positive")
	check(c.PoolSize >= 0, "pool_size must not be negative, got %d", c.PoolSize)

	switch strings.ToLower(strings.TrimSpace(c.EmbeddingProvider)) {
	case ai.ProviderOpenAI:
		check(c.EmbeddingHost != "", "embedding_host is required for the openai provider")
		check(c.EmbeddingModel != "", "embedding_model is required")
	case ai.ProviderGemini:
		check(c.EmbeddingModel != "", "embedding_model is required")
	case ai.ProviderMock:
	default:
		check(false, "unknown embedding_provider %q", c.EmbeddingProvider)
	}
	check(c.SearchRatePerSecond > 0, "search_rate_per_second must be positive, got %g", c.SearchRatePerSecond)

	if len(problems) > 0 {
		errs := make([]error, len(problems))
		for i, p := range problems {
			errs[i] = fmt.Errorf("%w: %s", core.ErrConfig, p)
		}
		return errors.Join(errs...)
	}
	return nil
}

// AIConfig returns the provider settings. API keys are passed in opts and
// checked by ai.Config.Validate.
func (c *Config) AIConfig(opts ...ai.ConfigOption) *ai.Config {
	base := []ai.ConfigOption{
		ai.WithProvider(c.EmbeddingProvider),
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithEmbeddingDimension(c.EmbeddingDimension),
		ai.WithSearchRate(c.SearchRatePerSecond),
	}
	return ai.NewConfig(append(base, opts...)...)
}
