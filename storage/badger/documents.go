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
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	seq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}

	return &DocumentRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the ingestion sequence.
func (r *DocumentRepository) Close() error {
	return r.seq.Release()
}

// PutDocument stores or replaces a document.
func (r *DocumentRepository) PutDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	stored := *doc
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(stored.ID)
		old, err := r.readDocument(tx, key)
		if err != nil {
			return err
		}

		if old != nil {
			// Replacement keeps its place in ingestion order.
			stored.Seq = old.Seq
			stored.IngestedAt = old.IngestedAt
		} else {
			next, err := r.seq.Next()
			if err != nil {
				return err
			}
			// BadgerDB sequences can return 0 on first call, so we skip it
			if next == 0 {
				next, err = r.seq.Next()
				if err != nil {
					return err
				}
			}
			stored.Seq = next
			if stored.IngestedAt.IsZero() {
				stored.IngestedAt = time.Now().UTC()
			}
		}

		if err := tx.Set(key, storage.MarshalDocument(&stored)); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentSeqKey(stored.Seq), []byte(stored.ID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.readDocument(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// DeleteDocument removes a document and its ordering key.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := r.readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(makeDocumentSeqKey(doc.Seq)); err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListDocuments returns all documents ordered by ingestion sequence.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentSeqBase
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := r.readDocument(tx, makeDocumentKey(string(id)))
			if err != nil {
				return err
			}
			if doc == nil {
				// Ordering key without a record; skip it.
				continue
			}
			docs = append(docs, doc)
		}
		return nil
	}, false)
	return docs, err
}

// CountDocuments returns the number of stored documents.
func (r *DocumentRepository) CountDocuments(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentKeyBase
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// readDocument returns nil, nil when the key is absent.
func (r *DocumentRepository) readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		doc, unmarshalErr = storage.UnmarshalDocument(val)
		return unmarshalErr
	})
	return doc, err
}
