package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidateDocument(t *testing.T) {
	validTime := time.Now().Add(-1 * time.Hour)
	futureTime := time.Now().Add(1 * time.Hour)

	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "valid document",
			doc:     &Document{SourceName: "a.txt", Text: "Hello world", IngestedAt: validTime},
			wantErr: nil,
		},
		{
			name:    "valid document with explicit id and zero time",
			doc:     &Document{ID: "abc", Text: "Hello world"},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "empty text",
			doc:     &Document{SourceName: "a.txt", Text: ""},
			wantErr: ErrEmptyText,
		},
		{
			name:    "whitespace text",
			doc:     &Document{SourceName: "a.txt", Text: " \n\t "},
			wantErr: ErrEmptyText,
		},
		{
			name:    "no id or source",
			doc:     &Document{Text: "orphan"},
			wantErr: ErrMissingSource,
		},
		{
			name:    "future ingestion time",
			doc:     &Document{SourceName: "a.txt", Text: "x", IngestedAt: futureTime},
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("ValidateDocument() error = %v, should wrap ErrInvalidDocument", err)
			}
		})
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("ValidateVector() error = %v, want nil", err)
	}

	err := ValidateVector([]float32{1, 2}, 3)
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("ValidateVector() error = %v, want DimensionError", err)
	}
	if de.Expected != 3 || de.Got != 2 {
		t.Errorf("DimensionError = %+v", de)
	}
}

func TestIsValidTimestamp(t *testing.T) {
	if !IsValidTimestamp(time.Now().Add(-time.Minute)) {
		t.Errorf("past timestamp should be valid")
	}
	if IsValidTimestamp(time.Now().Add(time.Hour)) {
		t.Errorf("future timestamp should be invalid")
	}
}
