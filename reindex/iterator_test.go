package reindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/groundrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentIterator_Batches(t *testing.T) {
	s := setupTestStores(t)
	s.seed(t, 5, func(i int) string { return fmt.Sprintf("text %d", i) })

	var sizes []int
	var ids []string
	err := NewDocumentIterator(s.docs, 2).ForEach(context.Background(), func(docs []*core.Document) error {
		sizes = append(sizes, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"doc-00", "doc-01", "doc-02", "doc-03", "doc-04"}, ids, "ingestion order")
}

func TestDocumentIterator_Empty(t *testing.T) {
	s := setupTestStores(t)
	called := false
	err := NewDocumentIterator(s.docs, 0).ForEach(context.Background(), func([]*core.Document) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestDocumentIterator_StopsOnError(t *testing.T) {
	s := setupTestStores(t)
	s.seed(t, 6, func(i int) string { return "text" })

	boom := errors.New("boom")
	batches := 0
	err := NewDocumentIterator(s.docs, 2).ForEach(context.Background(), func([]*core.Document) error {
		batches++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, batches)
}

func TestDocumentIterator_CancelBetweenBatches(t *testing.T) {
	s := setupTestStores(t)
	s.seed(t, 6, func(i int) string { return "text" })

	ctx, cancel := context.WithCancel(context.Background())
	batches := 0
	err := NewDocumentIterator(s.docs, 2).ForEach(ctx, func([]*core.Document) error {
		batches++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, batches)
}
