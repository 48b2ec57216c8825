package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(doc string, seq int, vector ...float32) core.IndexedEntry {
	return core.IndexedEntry{
		ChunkID:    core.ChunkID(doc, seq),
		DocumentID: doc,
		SourceName: doc + ".txt",
		Sequence:   seq,
		Text:       fmt.Sprintf("%s chunk %d", doc, seq),
		Start:      seq * 10,
		End:        seq*10 + 10,
		Vector:     vector,
	}
}

func chunkIDs(results []core.RetrievalResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func newTestIndex(t *testing.T, dimension int) *Index {
	t.Helper()
	index, docs, backend, err := NewMemoryStores(dimension)
	require.NoError(t, err)
	t.Cleanup(func() {
		index.Close()
		docs.Close()
		backend.Close()
	})
	return index
}

func TestOpenIndex_InvalidArguments(t *testing.T) {
	_, err := OpenIndex(nil, 3)
	assert.ErrorIs(t, err, ErrBackendRequired)

	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	_, err = OpenIndex(backend, 0)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestIndex_QueryEmpty(t *testing.T) {
	index := newTestIndex(t, 3)

	results, err := index.Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, index.Count())
}

func TestIndex_QueryInvalidK(t *testing.T) {
	index := newTestIndex(t, 3)

	for _, k := range []int{0, -1} {
		_, err := index.Query(context.Background(), []float32{1, 0, 0}, k)
		assert.ErrorIs(t, err, core.ErrConfig, "k=%d", k)
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 3)

	err := index.Upsert(ctx, entry("a", 0, 1, 0, 0), entry("a", 1, 1, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDimension)
	var de *core.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 2, de.Got)
	assert.Equal(t, 0, index.Count(), "rejected batch must not be partially applied")

	_, err = index.Query(ctx, []float32{1, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, core.ErrDimension)

	err = index.Rebuild(ctx, []core.IndexedEntry{entry("a", 0, 1)})
	assert.ErrorIs(t, err, core.ErrDimension)
}

func TestIndex_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 2)

	require.NoError(t, index.Upsert(ctx,
		entry("a", 0, 0, 1),  // orthogonal
		entry("a", 1, 1, 0),  // identical
		entry("b", 0, -1, 0), // opposite
		entry("b", 1, 2, 0),  // identical direction, inserted later
		entry("c", 0, 1, 1),  // 45 degrees
	))

	results, err := index.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1", "c:0", "a:0", "b:0"}, chunkIDs(results),
		"ties must keep insertion order")

	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.InDelta(t, 0.5, results[3].Similarity, 1e-6)
	assert.InDelta(t, 0.0, results[4].Similarity, 1e-6)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}

	top, err := index.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1"}, chunkIDs(top))
	assert.Equal(t, "a", top[0].DocumentID)
	assert.Equal(t, "a.txt", top[0].SourceName)
	assert.Equal(t, "a chunk 1", top[0].Text)
	assert.Equal(t, 10, top[0].Start)
}

func TestIndex_UpsertReplaceKeepsOrder(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 2)

	require.NoError(t, index.Upsert(ctx, entry("a", 0, 1, 0), entry("b", 0, 1, 0)))

	replaced := entry("a", 0, 1, 0)
	replaced.Text = "replacement"
	require.NoError(t, index.Upsert(ctx, replaced))
	assert.Equal(t, 2, index.Count())

	results, err := index.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "b:0"}, chunkIDs(results), "replaced entry keeps its original position")
	assert.Equal(t, "replacement", results[0].Text)
}

func TestIndex_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 2)

	require.NoError(t, index.Upsert(ctx,
		entry("a", 0, 1, 0), entry("a", 1, 0.9, 0.1),
		entry("b", 0, 0.8, 0.2), entry("b", 1, 1, 0),
	))

	removed, err := index.DeleteByDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"b"}, index.DocumentIDs())

	results, err := index.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.DocumentID)
	}
	assert.Len(t, results, 2)

	removed, err = index.DeleteByDocument(ctx, "missing")
	require.NoError(t, err, "deleting an unknown document is a no-op")
	assert.Equal(t, 0, removed)
}

func TestIndex_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	index, err := OpenIndex(backend, 2)
	require.NoError(t, err)

	require.NoError(t, index.Upsert(ctx, entry("a", 0, 1, 0), entry("a", 1, 0, 1), entry("b", 0, 1, 0)))
	_, err = index.DeleteByDocument(ctx, "b")
	require.NoError(t, err)
	before, err := index.Query(ctx, []float32{1, 0.1}, 5)
	require.NoError(t, err)

	require.NoError(t, index.Close())
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	reopened, err := OpenIndex(backend, 2)
	require.NoError(t, err)
	require.NoError(t, reopened.Err())

	assert.Equal(t, 2, reopened.Count())
	after, err := reopened.Query(ctx, []float32{1, 0.1}, 5)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// New entries continue the insertion order after the loaded ones.
	require.NoError(t, reopened.Upsert(ctx, entry("c", 0, 1, 0)))
	results, err := reopened.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "c:0", "a:1"}, chunkIDs(results))
}

func TestIndex_CorruptionDetectedOnLoad(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, backend *Backend)
	}{
		{
			name: "undecodable entry",
			corrupt: func(t *testing.T, backend *Backend) {
				setRaw(t, backend, makeEntryKey("a:0"), []byte{0xff, 0xff, 0xff})
			},
		},
		{
			name: "entry under wrong key",
			corrupt: func(t *testing.T, backend *Backend) {
				e := entry("a", 0, 1, 0)
				setRaw(t, backend, makeEntryKey("z:9"), storage.MarshalEntry(&e))
			},
		},
		{
			name: "entry with wrong vector length",
			corrupt: func(t *testing.T, backend *Backend) {
				e := entry("a", 0, 1, 0, 0)
				setRaw(t, backend, makeEntryKey("a:0"), storage.MarshalEntry(&e))
			},
		},
		{
			name: "interrupted rebuild",
			corrupt: func(t *testing.T, backend *Backend) {
				setRaw(t, backend, rebuildMarkerKey, []byte("x"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend, err := OpenBackend("", true)
			require.NoError(t, err)
			defer backend.Close()

			index, err := OpenIndex(backend, 2)
			require.NoError(t, err)
			require.NoError(t, index.Upsert(ctx, entry("b", 0, 1, 0)))
			tt.corrupt(t, backend)

			reopened, err := OpenIndex(backend, 2)
			require.NoError(t, err, "corruption is reported through Err, not OpenIndex")
			assert.ErrorIs(t, reopened.Err(), core.ErrIndexCorrupt)

			_, err = reopened.Query(ctx, []float32{1, 0}, 1)
			assert.ErrorIs(t, err, core.ErrIndexCorrupt)
			assert.ErrorIs(t, reopened.Upsert(ctx, entry("c", 0, 1, 0)), core.ErrIndexCorrupt)
			_, err = reopened.DeleteByDocument(ctx, "b")
			assert.ErrorIs(t, err, core.ErrIndexCorrupt)

			// Rebuild is the recovery path.
			require.NoError(t, reopened.Rebuild(ctx, []core.IndexedEntry{entry("b", 0, 1, 0)}))
			require.NoError(t, reopened.Err())
			results, err := reopened.Query(ctx, []float32{1, 0}, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"b:0"}, chunkIDs(results))

			healed, err := OpenIndex(backend, 2)
			require.NoError(t, err)
			assert.NoError(t, healed.Err())
			assert.Equal(t, 1, healed.Count())
		})
	}
}

func TestIndex_DimensionDriftOnLoad(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	index, err := OpenIndex(backend, 2)
	require.NoError(t, err)
	require.NoError(t, index.Upsert(context.Background(), entry("a", 0, 1, 0)))

	drifted, err := OpenIndex(backend, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, drifted.Err(), core.ErrDimension)

	require.NoError(t, drifted.Rebuild(context.Background(), []core.IndexedEntry{entry("a", 0, 1, 0, 0)}))
	assert.NoError(t, drifted.Err())
}

func TestIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 2)

	require.NoError(t, index.Upsert(ctx, entry("old", 0, 1, 0), entry("old", 1, 0, 1)))

	require.NoError(t, index.Rebuild(ctx, []core.IndexedEntry{
		entry("new", 0, 1, 0),
		entry("new", 1, 1, 0),
		entry("new", 0, 1, 0), // duplicate keeps the first position
	}))

	assert.Equal(t, 2, index.Count())
	assert.Equal(t, []string{"new"}, index.DocumentIDs())
	results, err := index.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"new:0", "new:1"}, chunkIDs(results))

	require.NoError(t, index.Rebuild(ctx, nil))
	assert.Equal(t, 0, index.Count())
}

func TestIndex_RebuildIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t, 2)

	var old, fresh []core.IndexedEntry
	for i := range 50 {
		old = append(old, entry("old", i, 1, float32(i)/50))
	}
	for i := range 20 {
		fresh = append(fresh, entry("new", i, 1, float32(i)/20))
	}
	require.NoError(t, index.Upsert(ctx, old...))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan string, 8)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := index.Query(ctx, []float32{1, 0}, 100)
				if err != nil {
					failures <- err.Error()
					return
				}
				docs := map[string]int{}
				for _, r := range results {
					docs[r.DocumentID]++
				}
				if !(docs["old"] == 50 && len(docs) == 1) && !(docs["new"] == 20 && len(docs) == 1) {
					failures <- fmt.Sprintf("observed partial state: %v", docs)
					return
				}
			}
		}()
	}

	for range 5 {
		require.NoError(t, index.Rebuild(ctx, fresh))
		require.NoError(t, index.Rebuild(ctx, old))
	}
	close(stop)
	wg.Wait()
	close(failures)

	for msg := range failures {
		t.Error(msg)
	}
}

func TestIndex_CanceledContext(t *testing.T) {
	index := newTestIndex(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, index.Upsert(ctx, entry("a", 0, 1, 0)), context.Canceled)
	_, err := index.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, index.Rebuild(ctx, nil), context.Canceled)
}

// cancelAfter is a context whose Err starts reporting context.Canceled
// after a fixed number of calls.
type cancelAfter struct {
	context.Context
	mu    sync.Mutex
	calls int
	limit int
}

func (c *cancelAfter) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls > c.limit {
		return context.Canceled
	}
	return nil
}

func TestIndex_RebuildCancelKeepsPersistedIndex(t *testing.T) {
	old := []core.IndexedEntry{entry("old", 0, 1, 0), entry("old", 1, 0, 1)}
	var fresh []core.IndexedEntry
	for i := range 600 {
		fresh = append(fresh, entry("new", i, 1, float32(i)/600))
	}

	for limit := range 6 {
		t.Run(fmt.Sprintf("canceled after %d checks", limit), func(t *testing.T) {
			dir := t.TempDir()
			backend, err := OpenBackend(dir, false)
			require.NoError(t, err)
			index, err := OpenIndex(backend, 2)
			require.NoError(t, err)
			require.NoError(t, index.Upsert(context.Background(), old...))

			ctx := &cancelAfter{Context: context.Background(), limit: limit}
			rebuildErr := index.Rebuild(ctx, fresh)
			require.NoError(t, index.Err())
			wantCount := len(old)
			if rebuildErr == nil {
				wantCount = len(fresh)
			} else {
				assert.ErrorIs(t, rebuildErr, context.Canceled)
			}
			assert.Equal(t, wantCount, index.Count())

			require.NoError(t, index.Close())
			require.NoError(t, backend.Close())

			backend, err = OpenBackend(dir, false)
			require.NoError(t, err)
			defer backend.Close()
			reopened, err := OpenIndex(backend, 2)
			require.NoError(t, err)
			require.NoError(t, reopened.Err())
			assert.Equal(t, wantCount, reopened.Count())
		})
	}
}

func TestIndex_Closed(t *testing.T) {
	index := newTestIndex(t, 2)
	require.NoError(t, index.Close())

	_, err := index.Query(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func setRaw(t *testing.T, backend *Backend, key, value []byte) {
	t.Helper()
	err := backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)
}
