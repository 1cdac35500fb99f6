package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexHits tracks searches that returned at least one record
	IndexHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_index_hits_total",
			Help: "Total number of index searches with at least one hit",
		},
		[]string{"backend"},
	)

	// IndexMisses tracks searches with zero hits
	IndexMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_index_misses_total",
			Help: "Total number of index searches with zero hits",
		},
		[]string{"backend"},
	)

	// DocumentsWritten tracks documents stored by bulk writes
	DocumentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_index_documents_written_total",
			Help: "Total number of documents written to the index",
		},
		[]string{"backend"},
	)

	// IndexErrors tracks index operation errors
	IndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_index_errors_total",
			Help: "Total number of index operation errors",
		},
		[]string{"backend", "operation"}, // "search", "bulk", "ping"
	)
)

// observeSearch records a hit or miss for backend.
func observeSearch(backend string, hits int) {
	if hits > 0 {
		IndexHits.WithLabelValues(backend).Inc()
	} else {
		IndexMisses.WithLabelValues(backend).Inc()
	}
}
