// Package testutil provides testing utilities for the doctor search proxy.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

// MockResponse overrides the paginated behaviour with a fixed response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// RecordedRequest is one request observed by the mock provider.
type RecordedRequest struct {
	Name    string
	Skip    int
	Limit   int
	UserKey string
	At      time.Time
}

// MockProvider is a configurable mock doctor search provider for testing.
// It serves the provider's {meta, data} page format from an in-memory dataset.
type MockProvider struct {
	server   *httptest.Server
	mu       sync.RWMutex
	doctors  map[string][]types.Record
	override *MockResponse
	delay    time.Duration
	requests []RecordedRequest
}

// NewMockProvider creates a new mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		doctors: make(map[string][]types.Record),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Reset clears the request log.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetDoctors sets the full result set served for name.
func (m *MockProvider) SetDoctors(name string, doctors []types.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[strings.ToLower(name)] = doctors
}

// SetResponse makes every request answer with resp until cleared with nil.
func (m *MockProvider) SetResponse(resp *MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = resp
}

// SetDelay delays every paginated response.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockProvider) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Requests returns a copy of the request log.
func (m *MockProvider) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Name:    q.Get("name"),
		Skip:    skip,
		Limit:   limit,
		UserKey: q.Get("user_key"),
		At:      time.Now(),
	})
	override := m.override
	delay := m.delay
	all := m.doctors[strings.ToLower(q.Get("name"))]
	m.mu.Unlock()

	if override != nil {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(override.StatusCode)
		if override.Body != "" {
			w.Write([]byte(override.Body))
		}
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	page := Paginate(all, skip, limit)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(page)
}

// Paginate slices doctors the way the provider does for (skip, limit).
func Paginate(doctors []types.Record, skip, limit int) types.Page {
	total := len(doctors)
	start := skip
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	data := make([]types.Record, end-start)
	copy(data, doctors[start:end])

	return types.Page{
		Meta: types.PageMeta{
			Total: total,
			Count: len(data),
			Skip:  skip,
			Limit: limit,
		},
		Data: data,
	}
}

// NewDoctors builds n provider-shaped records sharing lastName.
func NewDoctors(lastName string, n int) []types.Record {
	doctors := make([]types.Record, n)
	for i := range doctors {
		doctors[i] = types.Record{
			"uid": fmt.Sprintf("%s-%04d", strings.ToLower(lastName), i+1),
			"profile": map[string]any{
				"first_name": fmt.Sprintf("Doc%d", i+1),
				"last_name":  lastName,
				"title":      "MD",
			},
			"specialties": []any{
				map[string]any{"uid": "family-practitioner"},
			},
		}
	}
	return doctors
}
