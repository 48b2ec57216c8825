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
	"errors"
	"fmt"
)

// Error taxonomy shared by every package.
var (
	// ErrConfig indicates invalid parameters supplied by the caller. Never retried.
	ErrConfig = errors.New("invalid configuration")

	// ErrProvider indicates an embedding or web search call failed.
	ErrProvider = errors.New("provider failure")

	// ErrIndexCorrupt indicates the persisted index could not be loaded.
	// Recovery requires a full reindex.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrDimension indicates a vector whose length differs from the configured dimension.
	ErrDimension = errors.New("vector dimension mismatch")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyText indicates the document text is empty or whitespace only.
	ErrEmptyText = errors.New("document text cannot be empty")

	// ErrMissingSource indicates a document has neither an ID nor a source name.
	ErrMissingSource = errors.New("document requires an id or source name")

	// ErrMalformedRecord indicates a stored record could not be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)

// ProviderError wraps a failure returned by an external provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrProvider, e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports ErrProvider as a match so callers can test with errors.Is.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// NewProviderError wraps err unless it already is a ProviderError.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// DimensionError reports a vector of the wrong length.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimension, e.Expected, e.Got)
}

// Is reports ErrDimension as a match so callers can test with errors.Is.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimension
}
