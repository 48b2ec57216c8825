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


package ai

import (
	"fmt"
	"strings"

	"github.com/poiesic/groundrag/core"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the embedding backend: "openai", "gemini" or "mock".
	Provider string

	// EmbeddingHost is the base URL for an OpenAI-compatible embedding API.
	// Example: "http://localhost:11434/v1" for a local Ollama server
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "all-minilm", "text-embedding-3-small", "text-embedding-004"
	EmbeddingModel string

	// EmbeddingDimension requests a vector size from providers that support
	// it. Zero keeps the model default.
	EmbeddingDimension int

	// GeminiAPIKey authenticates the Gemini embedder.
	GeminiAPIKey string

	// TavilyAPIKey enables web search. Empty disables the web searcher.
	TavilyAPIKey string

	// SearchRatePerSecond throttles outgoing web searches.
	// Default: 1
	SearchRatePerSecond float64
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider selects the embedding provider.
func WithProvider(name string) ConfigOption {
	return func(c *Config) {
		c.Provider = name
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithEmbeddingDimension requests an output dimension from the provider.
func WithEmbeddingDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimension = dim
	}
}

// WithGeminiAPIKey sets the Gemini API key.
func WithGeminiAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.GeminiAPIKey = key
	}
}

// WithTavilyAPIKey sets the Tavily API key.
func WithTavilyAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.TavilyAPIKey = key
	}
}

// WithSearchRate sets the web search throttle in requests per second.
func WithSearchRate(perSecond float64) ConfigOption {
	return func(c *Config) {
		c.SearchRatePerSecond = perSecond
	}
}

// DefaultConfig returns a Config with sensible defaults for a local
// OpenAI-compatible embedding service.
func DefaultConfig() *Config {
	return &Config{
		Provider:            ProviderOpenAI,
		EmbeddingHost:       "http://localhost:11434/v1",
		EmbeddingModel:      "all-minilm",
		SearchRatePerSecond: 1,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("http://localhost:11434"),
//	    WithEmbeddingModel("nomic-embed-text"),
//	    WithTavilyAPIKey(os.Getenv("TAVILY_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to the embedding host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.GeminiAPIKey = strings.TrimSpace(c.GeminiAPIKey)
	c.TavilyAPIKey = strings.TrimSpace(c.TavilyAPIKey)

	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Provider {
	case ProviderOpenAI:
		if c.EmbeddingHost == "" {
			return fmt.Errorf("%w: ai config: EmbeddingHost is required", core.ErrConfig)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: ai config: GeminiAPIKey is required for the gemini provider", core.ErrConfig)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("%w: ai config: unknown provider %q", core.ErrConfig, c.Provider)
	}

	if c.Provider != ProviderMock && c.EmbeddingModel == "" {
		return fmt.Errorf("%w: ai config: EmbeddingModel is required", core.ErrConfig)
	}
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("%w: ai config: EmbeddingDimension must not be negative", core.ErrConfig)
	}
	if c.SearchRatePerSecond <= 0 {
		return fmt.Errorf("%w: ai config: SearchRatePerSecond must be positive", core.ErrConfig)
	}
	return nil
}
