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


package gemini

import (
	"context"
	"log/slog"

	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/ai/tavily"
)

// Provider implements ai.AIProvider with a Gemini embedder and an optional
// Tavily web searcher.
type Provider struct {
	config   *ai.Config
	embedder *Embedder
	searcher ai.WebSearcher
	logger   *slog.Logger
}

// NewProvider creates a Gemini-backed provider.
//
// Returns ai.AIProvider interface to enforce abstraction.
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}
	searcher, err := tavily.FromConfig(config)
	if err != nil {
		return nil, err
	}
	return &Provider{
		config:   config,
		embedder: embedder,
		searcher: searcher,
		logger:   slog.Default().With("component", "gemini-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// WebSearcher returns the web search service, or nil when none is configured.
func (p *Provider) WebSearcher() ai.WebSearcher {
	return p.searcher
}

// EmbeddingModel names the configured embedding model.
func (p *Provider) EmbeddingModel() string {
	return p.config.EmbeddingModel
}

// Close is a no-op; the genai client holds no resources that need release.
func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return nil
}
