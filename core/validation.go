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


package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Text must contain something other than whitespace
//   - ID or SourceName must be set
//   - IngestedAt must not be in the future
//
// NOT validated:
//   - Seq (assigned by the document store)
//   - Metadata (free form)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyText)
	}

	if doc.ID == "" && doc.SourceName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrMissingSource)
	}

	if !IsValidTimestamp(doc.IngestedAt) {
		return fmt.Errorf("%w: ingested_at is in the future", ErrInvalidDocument)
	}

	return nil
}

// ValidateVector checks a vector against the configured dimension.
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) != dimension {
		return &DimensionError{Expected: dimension, Got: len(vector)}
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
