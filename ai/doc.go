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


// Package ai provides abstractions for the external model services used by
// groundrag: text embeddings and web search.
//
// The package defines three interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - WebSearcher: Returns ranked snippets for a query
//   - AIProvider: Aggregates both for convenient initialization
//
// and the decorators every caller composes around an Embedder:
//
//   - RetryingEmbedder: per-attempt timeout and bounded exponential backoff,
//     failures surface as *core.ProviderError
//   - CachedEmbedder: expiring LRU keyed by text
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible embeddings (Ollama, LocalAI, vLLM)
//   - ai/gemini: Google Gemini embeddings
//   - ai/tavily: Tavily web search
//   - ai/mock: Test doubles
//
// Public constructors in the implementation packages return interface types.
// Mock constructors return concrete types so tests can inject behavior and
// inspect call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithTavilyAPIKey(os.Getenv("TAVILY_API_KEY")))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder, err := ai.NewRetryingEmbedder(provider.Embedder(), "openai")
//	vector, err := embedder.EmbedText(ctx, "Hello world")
package ai
