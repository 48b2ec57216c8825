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


// Package storage provides the storage abstraction layer for groundrag.
//
// Two stores are defined:
//
//   - VectorIndex: chunk vectors with their attribution metadata, queried by
//     cosine similarity
//   - DocumentRepository: the source documents, kept so the index can be
//     rebuilt from scratch
//
// Text lives in both stores. The only path that re-synchronises them is a
// full rebuild.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	index, err := badger.OpenIndex(backend, 384)
//	docs, err := badger.NewDocumentRepository(backend)
//
// Use in tests with in-memory storage:
//
//	index, docs, backend, err := badger.NewMemoryStores(384)
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
//
// # Serialization
//
// Records are encoded with mus-go. The serializers live in core and are
// regenerated by cmd/musgen.
package storage
