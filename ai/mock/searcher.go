package mock

import (
	"context"
	"sync"

	"github.com/poiesic/groundrag/core"
)

// MockWebSearcher is a test double for ai.WebSearcher that returns scripted
// results.
type MockWebSearcher struct {
	// SearchFunc is called by Search if set.
	SearchFunc func(ctx context.Context, query string, maxResults int) ([]core.WebResult, error)

	// Results are returned, truncated to maxResults, when SearchFunc is nil.
	Results []core.WebResult

	// Err is returned when SearchFunc is nil and Err is set.
	Err error

	mu      sync.Mutex
	queries []string
}

// NewMockWebSearcher creates a searcher that answers every query with results.
func NewMockWebSearcher(results ...core.WebResult) *MockWebSearcher {
	return &MockWebSearcher{Results: results}
}

// Search returns the scripted results.
func (m *MockWebSearcher) Search(ctx context.Context, query string, maxResults int) ([]core.WebResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, maxResults)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	n := len(m.Results)
	if maxResults > 0 && maxResults < n {
		n = maxResults
	}
	out := make([]core.WebResult, n)
	copy(out, m.Results[:n])
	return out, nil
}

// CallCount returns the number of Search calls.
func (m *MockWebSearcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// Queries returns the queries received, in order.
func (m *MockWebSearcher) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
