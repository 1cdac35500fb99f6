// Package search composes the cache-through read path: index first, then a
// single-flight provider fetch on a miss.
package search

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/doctor-search-proxy/pkg/index"
	"github.com/Sternrassler/doctor-search-proxy/pkg/pagination"
	"github.com/Sternrassler/doctor-search-proxy/pkg/ratelimit"
	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// User-facing failure messages.
const (
	MsgCacheCheckFailed = "Cache check failed"
	MsgGateHeld         = "Another request is currently being processed"
	MsgTransportFailed  = "Request to external API failed"
	MsgUpstreamStatus   = "Request to external API returned error"
)

var searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docsearch_searches_total",
	Help: "Total searches by result status and source",
}, []string{"status", "source"}) // source: "cache", "provider", "none"

// Fetcher runs a fetch session for a name while holding token.
type Fetcher interface {
	FetchAndCache(ctx context.Context, name string, token *ratelimit.Token) ([]types.Record, error)
}

// Result is the uniform outcome of a search.
type Result struct {
	// Status is the HTTP status the outcome maps to.
	Status int

	// Records is set when Status is 200. Never nil on success.
	Records []types.Record

	// Cached is true when the records were served from the index.
	Cached bool

	// Message describes a failure.
	Message string
}

// OK reports whether the search succeeded.
func (r Result) OK() bool {
	return r.Status == http.StatusOK
}

// Service answers name searches.
type Service struct {
	reader  index.Reader
	gate    *ratelimit.Gate
	fetcher Fetcher
	logger  zerolog.Logger
}

// NewService creates a search service.
func NewService(reader index.Reader, gate *ratelimit.Gate, fetcher Fetcher) *Service {
	return &Service{
		reader:  reader,
		gate:    gate,
		fetcher: fetcher,
		logger:  log.With().Str("component", "search").Logger(),
	}
}

// Search answers a query for name, which must already be trimmed and
// non-empty.
func (s *Service) Search(ctx context.Context, name string) Result {
	name = strings.TrimSpace(name)

	hits, err := s.reader.Search(ctx, index.ParseQuery(name))
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("Index search failed")
		return s.done(Result{Status: http.StatusInternalServerError, Message: MsgCacheCheckFailed}, "none")
	}

	if len(hits) > 0 {
		s.logger.Debug().Str("name", name).Int("records", len(hits)).Msg("Served from index")
		return s.done(Result{Status: http.StatusOK, Records: hits, Cached: true}, "cache")
	}

	token, ok := s.gate.TryAcquire()
	if !ok {
		s.logger.Warn().Str("name", name).Msg("Fetch already in progress, rejecting")
		return s.done(Result{Status: http.StatusTooManyRequests, Message: MsgGateHeld}, "none")
	}

	records, err := s.fetcher.FetchAndCache(ctx, name, token)
	switch {
	case err == nil:
		return s.done(Result{Status: http.StatusOK, Records: records}, "provider")
	case pagination.IsUpstreamStatus(err):
		return s.done(Result{Status: http.StatusInternalServerError, Message: MsgUpstreamStatus}, "provider")
	default:
		return s.done(Result{Status: http.StatusInternalServerError, Message: MsgTransportFailed}, "provider")
	}
}

// GateHeld reports whether a fetch session is in progress.
func (s *Service) GateHeld() bool {
	return s.gate.Held()
}

func (s *Service) done(r Result, source string) Result {
	if r.OK() && r.Records == nil {
		r.Records = []types.Record{}
	}
	searchesTotal.WithLabelValues(strconv.Itoa(r.Status), source).Inc()
	return r
}
