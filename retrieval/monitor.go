package retrieval

import (
	"github.com/poiesic/groundrag/core"
)

// State is a step of a query's lifecycle.
type State int

const (
	StateReceived State = iota
	StateEmbedded
	StateVectorRetrieved
	StateSearchFallback
	StateSkipped
	StateFused
	StateContextReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateEmbedded:
		return "EMBEDDED"
	case StateVectorRetrieved:
		return "VECTOR_RETRIEVED"
	case StateSearchFallback:
		return "SEARCH_FALLBACK"
	case StateSkipped:
		return "SKIPPED"
	case StateFused:
		return "FUSED"
	case StateContextReady:
		return "CONTEXT_READY"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateContextReady || s == StateFailed
}

// Monitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(queryID, query string)
	Transition(queryID string, from, to State)
	AfterVectorRetrieval(queryID string, results []core.RetrievalResult, confidence float64)
	AfterWebSearch(queryID string, results []core.WebResult, err error)
	Finish(r *Retrieval)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                                                  {}
func (n *noopMonitor) Transition(_ string, _, _ State)                                    {}
func (n *noopMonitor) AfterVectorRetrieval(_ string, _ []core.RetrievalResult, _ float64) {}
func (n *noopMonitor) AfterWebSearch(_ string, _ []core.WebResult, _ error)               {}
func (n *noopMonitor) Finish(_ *Retrieval)                                                {}
