package index

import (
	"context"
	"errors"
	"strconv"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

// DefaultSearchSize caps the number of hits returned by one search.
const DefaultSearchSize = 1000

// ErrIndexNotFound indicates the backing index/collection does not exist yet.
var ErrIndexNotFound = errors.New("index not found")

// Document is a record together with its index identifier.
type Document struct {
	ID     string
	Record types.Record
}

// Reader executes name queries against the index.
type Reader interface {
	// Search returns the records matching q. Zero hits is not an error.
	Search(ctx context.Context, q Query) ([]types.Record, error)
}

// Writer bulk-inserts an assembled result set.
type Writer interface {
	// BulkWrite stores all documents. Documents with existing ids are replaced.
	BulkWrite(ctx context.Context, docs []Document) error
}

// Index is a complete backend.
type Index interface {
	Reader
	Writer

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Name returns the backend name used in logs and metrics.
	Name() string
}

// Sequential assigns ids 1..N in order to records.
func Sequential(records []types.Record) []Document {
	docs := make([]Document, len(records))
	for i, r := range records {
		docs[i] = Document{ID: strconv.Itoa(i + 1), Record: r}
	}
	return docs
}
