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


package storage

import (
	"fmt"

	"github.com/poiesic/groundrag/core"
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, n, err := core.DocumentMUS.Unmarshal(data)
	if err := checkDecoded("document", data, n, err); err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarshalEntry serializes an IndexedEntry to bytes.
func MarshalEntry(entry *core.IndexedEntry) []byte {
	buf := make([]byte, core.IndexedEntryMUS.Size(*entry))
	core.IndexedEntryMUS.Marshal(*entry, buf)
	return buf
}

// UnmarshalEntry deserializes an IndexedEntry from bytes.
func UnmarshalEntry(data []byte) (*core.IndexedEntry, error) {
	entry, n, err := core.IndexedEntryMUS.Unmarshal(data)
	if err := checkDecoded("index entry", data, n, err); err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarshalIndexMeta serializes IndexMeta to bytes.
func MarshalIndexMeta(meta *core.IndexMeta) []byte {
	buf := make([]byte, core.IndexMetaMUS.Size(*meta))
	core.IndexMetaMUS.Marshal(*meta, buf)
	return buf
}

// UnmarshalIndexMeta deserializes IndexMeta from bytes.
func UnmarshalIndexMeta(data []byte) (*core.IndexMeta, error) {
	meta, n, err := core.IndexMetaMUS.Unmarshal(data)
	if err := checkDecoded("index meta", data, n, err); err != nil {
		return nil, err
	}
	return &meta, nil
}

func checkDecoded(kind string, data []byte, n int, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, kind, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %s: %w: read %d of %d bytes", ErrSerializationFailed, kind, ErrTruncatedData, n, len(data))
	}
	return nil
}
