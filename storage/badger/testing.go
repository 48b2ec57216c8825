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


package badger

import (
	"github.com/dgraph-io/badger/v4"
)

// NewMemoryStores creates an in-memory index and document repository for testing.
// Returns index, docRepo, backend, and error.
// Caller must close both stores and the backend when done.
func NewMemoryStores(dimension int) (*Index, *DocumentRepository, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, nil, err
	}

	index, err := OpenIndex(backend, dimension)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}

	docRepo, err := NewDocumentRepository(backend)
	if err != nil {
		index.Close()
		backend.Close()
		return nil, nil, nil, err
	}

	return index, docRepo, backend, nil
}

// NewMemoryIndex creates an in-memory index for testing.
// Closing the returned backend releases the index storage.
func NewMemoryIndex(dimension int) (*Index, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}

	index, err := OpenIndex(backend, dimension)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return index, backend, nil
}

// InterruptRebuild leaves the marker an unfinished Rebuild would leave, so
// the next OpenIndex on backend reports core.ErrIndexCorrupt.
func InterruptRebuild(backend *Backend) error {
	return backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(rebuildMarkerKey, []byte{1}); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
