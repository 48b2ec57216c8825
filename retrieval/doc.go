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


// Package retrieval turns a question into a ranked list of evidence.
//
// Fusion embeds the query, reads the nearest chunks from the vector index
// and scores how well they cover the question. When the score falls below
// the configured threshold, or the index has nothing to offer, it asks a
// web searcher for more evidence and merges both lists on a common [0,1]
// scale. Indexed evidence wins ties.
//
// A failing web search never fails the query: the result is marked
// Degraded and carries the vector evidence alone. A failing embedding call
// does fail it, with a *core.ProviderError.
//
// Each query walks a small state machine that a Monitor can observe:
//
//	RECEIVED -> EMBEDDED -> VECTOR_RETRIEVED -> SEARCH_FALLBACK | SKIPPED -> FUSED -> CONTEXT_READY
//
// with FAILED reachable from any non-terminal state.
package retrieval
