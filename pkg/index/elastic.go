package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const elasticBackend = "elasticsearch"

// ElasticIndex is the Elasticsearch backend.
type ElasticIndex struct {
	es     *elasticsearch.Client
	index  string
	size   int
	logger zerolog.Logger
}

// NewElasticClient connects an Elasticsearch client to addresses.
func NewElasticClient(addresses []string) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return es, nil
}

// NewElasticIndex creates an index backed by the named Elasticsearch index.
func NewElasticIndex(es *elasticsearch.Client, index string, size int) *ElasticIndex {
	if es == nil {
		panic("elasticsearch client cannot be nil")
	}
	if size <= 0 {
		size = DefaultSearchSize
	}
	return &ElasticIndex{
		es:     es,
		index:  index,
		size:   size,
		logger: log.With().Str("component", "index").Str("backend", elasticBackend).Logger(),
	}
}

// Name implements Index.
func (e *ElasticIndex) Name() string {
	return elasticBackend
}

// Ping implements Index.
func (e *ElasticIndex) Ping(ctx context.Context) error {
	res, err := e.es.Ping(e.es.Ping.WithContext(ctx))
	if err != nil {
		IndexErrors.WithLabelValues(elasticBackend, "ping").Inc()
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		IndexErrors.WithLabelValues(elasticBackend, "ping").Inc()
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

type searchRequest struct {
	Size  int         `json:"size"`
	Query searchQuery `json:"query"`
}

type searchQuery struct {
	QueryString queryString `json:"query_string"`
}

type queryString struct {
	Query  string   `json:"query"`
	Fields []string `json:"fields"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string       `json:"_id"`
			Source types.Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search implements Reader. A missing index is reported as zero hits.
func (e *ElasticIndex) Search(ctx context.Context, q Query) ([]types.Record, error) {
	if q.Empty() {
		return nil, nil
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(searchRequest{
		Size: e.size,
		Query: searchQuery{QueryString: queryString{
			Query:  q.QueryString(),
			Fields: []string{NameFieldPattern},
		}},
	}); err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(&body),
	)
	if err != nil {
		IndexErrors.WithLabelValues(elasticBackend, "search").Inc()
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		e.logger.Debug().Str("index", e.index).Msg("Index does not exist yet, treating as miss")
		observeSearch(elasticBackend, 0)
		return nil, nil
	}
	if res.IsError() {
		IndexErrors.WithLabelValues(elasticBackend, "search").Inc()
		return nil, fmt.Errorf("elasticsearch search: %s: %s", res.Status(), readSnippet(res.Body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		IndexErrors.WithLabelValues(elasticBackend, "search").Inc()
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	records := make([]types.Record, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		records = append(records, hit.Source)
	}

	observeSearch(elasticBackend, len(records))
	return records, nil
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkWrite implements Writer. The request waits for a refresh so the
// documents are searchable once it returns.
func (e *ElasticIndex) BulkWrite(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: e.index, ID: doc.ID}}); err != nil {
			return fmt.Errorf("encode bulk action %s: %w", doc.ID, err)
		}
		if err := enc.Encode(doc.Record); err != nil {
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}

	res, err := e.es.Bulk(
		&body,
		e.es.Bulk.WithContext(ctx),
		e.es.Bulk.WithIndex(e.index),
		e.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		IndexErrors.WithLabelValues(elasticBackend, "bulk").Inc()
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		IndexErrors.WithLabelValues(elasticBackend, "bulk").Inc()
		return fmt.Errorf("elasticsearch bulk: %s: %s", res.Status(), readSnippet(res.Body))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		IndexErrors.WithLabelValues(elasticBackend, "bulk").Inc()
		return fmt.Errorf("decode bulk response: %w", err)
	}

	if parsed.Errors {
		failed := 0
		var first string
		for _, item := range parsed.Items {
			for _, result := range item {
				if result.Error != nil {
					failed++
					if first == "" {
						first = fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
					}
				}
			}
		}
		IndexErrors.WithLabelValues(elasticBackend, "bulk").Inc()
		DocumentsWritten.WithLabelValues(elasticBackend).Add(float64(len(docs) - failed))
		return fmt.Errorf("elasticsearch bulk: %d of %d documents failed, first: %s", failed, len(docs), first)
	}

	DocumentsWritten.WithLabelValues(elasticBackend).Add(float64(len(docs)))
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1<<10))
	return string(b)
}
