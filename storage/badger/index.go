package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/storage"
)

// indexedVector pairs an immutable entry with its precomputed norm.
type indexedVector struct {
	entry *core.IndexedEntry
	norm  float64
}

// snapshot is an immutable view of the index. Writers build a new snapshot
// and swap the root pointer, so readers never lock.
type snapshot struct {
	entries []indexedVector // ascending insertion order
	byChunk map[string]int  // chunk id -> position in entries
	err     error           // load failure; cleared only by Rebuild
}

func newSnapshot(capacity int) *snapshot {
	return &snapshot{
		entries: make([]indexedVector, 0, capacity),
		byChunk: make(map[string]int, capacity),
	}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		entries: slices.Clone(s.entries),
		byChunk: maps.Clone(s.byChunk),
	}
}

// put inserts or replaces an entry. It returns true when a new order was consumed.
func (s *snapshot) put(entry *core.IndexedEntry, order uint64) bool {
	iv := indexedVector{entry: entry, norm: vectorNorm(entry.Vector)}
	if pos, ok := s.byChunk[entry.ChunkID]; ok {
		entry.Order = s.entries[pos].entry.Order
		s.entries[pos] = iv
		return false
	}
	entry.Order = order
	s.byChunk[entry.ChunkID] = len(s.entries)
	s.entries = append(s.entries, iv)
	return true
}

// Index implements storage.VectorIndex. Vectors are held in memory for
// brute-force cosine search and persisted to BadgerDB, one key per chunk.
type Index struct {
	backend   *Backend
	dimension int
	root      atomic.Pointer[snapshot]
	mu        sync.Mutex // serializes writers
	nextOrder uint64     // guarded by mu
	closed    atomic.Bool
	logger    *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

// IndexOption configures an Index.
type IndexOption func(*Index) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

// OpenIndex loads the persisted index from backend. The Backend is shared
// and is not closed by the index.
//
// A store that cannot be loaded does not fail OpenIndex: the index opens
// empty, Err reports the core.ErrIndexCorrupt or core.ErrDimension cause,
// and every operation except Rebuild and Close returns that error. Only
// I/O failures are returned directly.
func OpenIndex(backend *Backend, dimension int, opts ...IndexOption) (*Index, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", core.ErrConfig, dimension)
	}

	idx := &Index{
		backend:   backend,
		dimension: dimension,
		nextOrder: 1,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}
	idx.logger = idx.logger.With("component", "vector-index")

	snap, err := idx.load()
	switch {
	case err == nil:
	case errors.Is(err, core.ErrIndexCorrupt), errors.Is(err, core.ErrDimension):
		idx.logger.Error("index unusable until rebuilt", "err", err)
		snap = newSnapshot(0)
		snap.err = err
	default:
		return nil, err
	}
	idx.root.Store(snap)

	idx.logger.Debug("index opened", "entries", len(snap.entries), "dimension", dimension)
	return idx, nil
}

// load reads every persisted entry and validates the store.
func (i *Index) load() (*snapshot, error) {
	var meta *core.IndexMeta
	var rebuilding bool
	err := i.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(rebuildMarkerKey); err == nil {
			rebuilding = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		item, err := tx.Get(indexMetaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			meta, unmarshalErr = storage.UnmarshalIndexMeta(val)
			if unmarshalErr != nil {
				return fmt.Errorf("%w: %w", core.ErrIndexCorrupt, unmarshalErr)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	if rebuilding {
		return nil, fmt.Errorf("%w: interrupted rebuild", core.ErrIndexCorrupt)
	}
	if meta != nil && meta.Dimension != i.dimension {
		return nil, fmt.Errorf("stored index: %w", &core.DimensionError{Expected: i.dimension, Got: meta.Dimension})
	}

	var loaded []*core.IndexedEntry
	err = i.backend.ForEachPrefix(indexEntryKeyBase, func(key, val []byte) error {
		entry, err := storage.UnmarshalEntry(val)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrIndexCorrupt, err)
		}
		if chunkID := chunkIDFromEntryKey(key); entry.ChunkID != chunkID {
			return fmt.Errorf("%w: key %q holds chunk %q", core.ErrIndexCorrupt, chunkID, entry.ChunkID)
		}
		if len(entry.Vector) != i.dimension {
			return fmt.Errorf("%w: chunk %q has %d-dimensional vector, want %d",
				core.ErrIndexCorrupt, entry.ChunkID, len(entry.Vector), i.dimension)
		}
		loaded = append(loaded, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if meta == nil {
		if len(loaded) > 0 {
			return nil, fmt.Errorf("%w: entries present without index metadata", core.ErrIndexCorrupt)
		}
		if err := i.writeMeta(); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(loaded, func(a, b *core.IndexedEntry) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		}
		return 0
	})

	snap := newSnapshot(len(loaded))
	for _, entry := range loaded {
		if _, dup := snap.byChunk[entry.ChunkID]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk %q", core.ErrIndexCorrupt, entry.ChunkID)
		}
		snap.byChunk[entry.ChunkID] = len(snap.entries)
		snap.entries = append(snap.entries, indexedVector{entry: entry, norm: vectorNorm(entry.Vector)})
		if entry.Order >= i.nextOrder {
			i.nextOrder = entry.Order + 1
		}
	}
	return snap, nil
}

func (i *Index) writeMeta() error {
	return i.backend.WithTx(func(tx *badger.Txn) error {
		meta := &core.IndexMeta{Dimension: i.dimension, UpdatedAt: time.Now().UTC()}
		if err := tx.Set(indexMetaKey, storage.MarshalIndexMeta(meta)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// usable returns the current snapshot, or an error if the index cannot serve requests.
func (i *Index) usable() (*snapshot, error) {
	if i.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	snap := i.root.Load()
	if snap.err != nil {
		return nil, snap.err
	}
	return snap, nil
}

// validate checks a batch before any state is touched.
func (i *Index) validate(entries []core.IndexedEntry) error {
	for _, entry := range entries {
		if entry.ChunkID == "" {
			return fmt.Errorf("%w: entry without chunk id", core.ErrConfig)
		}
		if err := core.ValidateVector(entry.Vector, i.dimension); err != nil {
			return fmt.Errorf("chunk %s: %w", entry.ChunkID, err)
		}
	}
	return nil
}

// Upsert inserts or replaces entries by chunk id.
func (i *Index) Upsert(ctx context.Context, entries ...core.IndexedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.validate(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	snap, err := i.usable()
	if err != nil {
		return err
	}

	next := snap.clone()
	order := i.nextOrder
	staged := make([]*core.IndexedEntry, len(entries))
	for n, entry := range entries {
		e := entry
		e.Vector = slices.Clone(entry.Vector)
		if next.put(&e, order) {
			order++
		}
		staged[n] = &e
	}

	err = i.backend.WithTx(func(tx *badger.Txn) error {
		for _, e := range staged {
			if err := tx.Set(makeEntryKey(e.ChunkID), storage.MarshalEntry(e)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("persist index entries: %w", err)
	}

	i.root.Store(next)
	i.nextOrder = order
	return nil
}

// Query returns up to k nearest entries by cosine similarity.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]core.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrConfig, k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := i.usable()
	if err != nil {
		return nil, err
	}
	if err := core.ValidateVector(vector, i.dimension); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(snap.entries) == 0 {
		return []core.RetrievalResult{}, nil
	}

	type hit struct {
		entry      *core.IndexedEntry
		similarity float64
	}
	qnorm := vectorNorm(vector)
	hits := make([]hit, len(snap.entries))
	for n, iv := range snap.entries {
		hits[n] = hit{entry: iv.entry, similarity: similarity(vector, qnorm, iv)}
	}

	// Entries are in insertion order, so a stable sort keeps the earliest first on ties.
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.similarity > b.similarity:
			return -1
		case a.similarity < b.similarity:
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	results := make([]core.RetrievalResult, len(hits))
	for n, h := range hits {
		results[n] = core.RetrievalResult{
			ChunkID:    h.entry.ChunkID,
			DocumentID: h.entry.DocumentID,
			SourceName: h.entry.SourceName,
			Sequence:   h.entry.Sequence,
			Text:       h.entry.Text,
			Start:      h.entry.Start,
			End:        h.entry.End,
			Similarity: h.similarity,
		}
	}
	return results, nil
}

// DeleteByDocument removes every entry belonging to documentID.
func (i *Index) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	snap, err := i.usable()
	if err != nil {
		return 0, err
	}

	var doomed []string
	next := newSnapshot(len(snap.entries))
	for _, iv := range snap.entries {
		if iv.entry.DocumentID == documentID {
			doomed = append(doomed, iv.entry.ChunkID)
			continue
		}
		next.byChunk[iv.entry.ChunkID] = len(next.entries)
		next.entries = append(next.entries, iv)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	err = i.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunkID := range doomed {
			if err := tx.Delete(makeEntryKey(chunkID)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, fmt.Errorf("delete index entries: %w", err)
	}

	i.root.Store(next)
	i.logger.Debug("deleted document from index", "document", documentID, "entries", len(doomed))
	return len(doomed), nil
}

// Rebuild clears the index and inserts entries in the given order. Readers
// keep the previous snapshot until the new one is fully persisted. A
// marker key brackets the rewrite so an interrupted rebuild is detected as
// corruption on the next open.
//
// ctx is honoured only until the marker is written; from then on the
// rewrite runs to completion. If it still fails, the in-memory index is
// marked corrupt to match what the next open would find.
func (i *Index) Rebuild(ctx context.Context, entries []core.IndexedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.validate(entries); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed.Load() {
		return storage.ErrStorageClosed
	}

	next := newSnapshot(len(entries))
	order := uint64(1)
	for _, entry := range entries {
		e := entry
		e.Vector = slices.Clone(entry.Vector)
		if next.put(&e, order) {
			order++
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.setRebuildMarker(); err != nil {
		return err
	}

	if err := i.rewrite(next); err != nil {
		broken := newSnapshot(0)
		broken.err = fmt.Errorf("%w: rebuild failed: %v", core.ErrIndexCorrupt, err)
		i.root.Store(broken)
		i.logger.Error("rebuild failed, index unusable until rebuilt", "err", err)
		return err
	}

	i.root.Store(next)
	i.nextOrder = order
	i.logger.Info("index rebuilt", "entries", len(next.entries))
	return nil
}

// rewrite replaces the persisted entries with snap and clears the rebuild marker.
func (i *Index) rewrite(snap *snapshot) error {
	if err := i.backend.DropPrefix(indexEntryKeyBase); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	wb := i.backend.NewWriteBatch()
	defer wb.Cancel()
	for _, iv := range snap.entries {
		if err := wb.Set(makeEntryKey(iv.entry.ChunkID), storage.MarshalEntry(iv.entry)); err != nil {
			return fmt.Errorf("write index entries: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush index entries: %w", err)
	}

	err := i.backend.WithTx(func(tx *badger.Txn) error {
		meta := &core.IndexMeta{Dimension: i.dimension, UpdatedAt: time.Now().UTC()}
		if err := tx.Set(indexMetaKey, storage.MarshalIndexMeta(meta)); err != nil {
			return err
		}
		if err := tx.Delete(rebuildMarkerKey); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("finish rebuild: %w", err)
	}
	return nil
}

func (i *Index) setRebuildMarker() error {
	return i.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(rebuildMarkerKey, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Count returns the number of entries in the current snapshot.
func (i *Index) Count() int {
	return len(i.root.Load().entries)
}

// DocumentIDs returns distinct document ids in order of first insertion.
func (i *Index) DocumentIDs() []string {
	snap := i.root.Load()
	seen := make(map[string]bool)
	var ids []string
	for _, iv := range snap.entries {
		if !seen[iv.entry.DocumentID] {
			seen[iv.entry.DocumentID] = true
			ids = append(ids, iv.entry.DocumentID)
		}
	}
	return ids
}

// Dimension returns the configured vector dimension.
func (i *Index) Dimension() int {
	return i.dimension
}

// Err reports a load failure that requires Rebuild.
func (i *Index) Err() error {
	return i.root.Load().err
}

// Close marks the index closed. The shared Backend stays open.
func (i *Index) Close() error {
	i.closed.Store(true)
	return nil
}

// similarity maps cosine similarity onto [0,1]. Zero vectors score 0.
func similarity(query []float32, qnorm float64, iv indexedVector) float64 {
	if qnorm == 0 || iv.norm == 0 {
		return 0
	}
	cos := float64(dotProduct(query, iv.entry.Vector)) / (qnorm * iv.norm)
	return math.Max(0, math.Min(1, (cos+1)/2))
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	return math.Sqrt(float64(dotProduct(v, v)))
}
