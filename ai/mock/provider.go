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


package mock

import "github.com/poiesic/groundrag/ai"

// ModelName is reported by MockProvider.EmbeddingModel.
const ModelName = "mock-embedder"

// MockProvider is a test double for ai.AIProvider.
// It aggregates a mock embedder and an optional mock web searcher.
type MockProvider struct {
	embedder *MockEmbedder
	searcher *MockWebSearcher
}

// NewMockProvider creates a new mock provider with a default embedder and
// no web searcher.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use GetMockEmbedder()/GetMockWebSearcher() to access concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return &MockProvider{
		embedder: NewMockEmbedder(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// searcher may be nil to disable web search.
func NewMockProviderWithServices(embedder *MockEmbedder, searcher *MockWebSearcher) ai.AIProvider {
	return &MockProvider{
		embedder: embedder,
		searcher: searcher,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// WebSearcher returns the mock web searcher, or a nil interface when none is set.
func (p *MockProvider) WebSearcher() ai.WebSearcher {
	if p.searcher == nil {
		return nil
	}
	return p.searcher
}

// EmbeddingModel returns ModelName.
func (p *MockProvider) EmbeddingModel() string {
	return ModelName
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockWebSearcher returns the underlying mock searcher, which may be nil.
func (p *MockProvider) GetMockWebSearcher() *MockWebSearcher {
	return p.searcher
}
