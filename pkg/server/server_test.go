package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/doctor-search-proxy/pkg/search"
	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

type fakeSearcher struct {
	mu     sync.Mutex
	result search.Result
	names  []string
}

func (f *fakeSearcher) Search(_ context.Context, name string) search.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.result
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		msg    string
	}{
		{"missing", SearchRoute, MsgMissingName},
		{"other param only", SearchRoute + "?first=john", MsgMissingName},
		{"empty", SearchRoute + "?name=", MsgEmptyName},
		{"whitespace", SearchRoute + "?name=%20%20", MsgEmptyName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			srv := New(DefaultConfig(), searcher, nil)

			rec, env := do(t, srv.Handler(), tt.target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
			assert.JSONEq(t, `"`+tt.msg+`"`, string(env.Data))
			assert.Empty(t, searcher.names, "invalid requests must not reach the service")
		})
	}
}

func TestSearch_Results(t *testing.T) {
	records := []types.Record{{"uid": "a"}, {"uid": "b"}}

	tests := []struct {
		name   string
		result search.Result
		cache  string
	}{
		{"miss", search.Result{Status: http.StatusOK, Records: records}, "MISS"},
		{"hit", search.Result{Status: http.StatusOK, Records: records, Cached: true}, "HIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{result: tt.result}
			srv := New(DefaultConfig(), searcher, nil)

			rec, env := do(t, srv.Handler(), SearchRoute+"?name=%20john%20smith%20")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.cache, rec.Header().Get("X-Cache"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			assert.Equal(t, []string{"john smith"}, searcher.names)

			var data []map[string]any
			require.NoError(t, json.Unmarshal(env.Data, &data))
			assert.Len(t, data, 2)
		})
	}
}

func TestSearch_EmptyResultIsArray(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSearcher{result: search.Result{Status: http.StatusOK, Records: []types.Record{}}}, nil)

	rec, env := do(t, srv.Handler(), SearchRoute+"?name=seuss")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		status int
		msg    string
	}{
		{http.StatusTooManyRequests, search.MsgGateHeld},
		{http.StatusInternalServerError, search.MsgCacheCheckFailed},
		{http.StatusInternalServerError, search.MsgTransportFailed},
		{http.StatusInternalServerError, search.MsgUpstreamStatus},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			srv := New(DefaultConfig(), &fakeSearcher{result: search.Result{Status: tt.status, Message: tt.msg}}, nil)

			rec, env := do(t, srv.Handler(), SearchRoute+"?name=house")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, env.Status)
			assert.JSONEq(t, `"`+tt.msg+`"`, string(env.Data))
			assert.Empty(t, rec.Header().Get("X-Cache"))
		})
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSearcher{}, fakePinger{})
	rec, _ := do(t, srv.Handler(), HealthRoute)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec, _ = do(t, srv.Handler(), ReadyRoute)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := New(DefaultConfig(), &fakeSearcher{}, fakePinger{err: errors.New("dial tcp: refused")})
	rec, _ = do(t, down.Handler(), ReadyRoute)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = do(t, down.Handler(), HealthRoute)
	assert.Equal(t, http.StatusOK, rec.Code, "liveness does not depend on the index")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSearcher{}, nil)
	do(t, srv.Handler(), HealthRoute)

	rec, _ := do(t, srv.Handler(), MetricsRoute)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docsearch_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSearcher{}, nil)

	rec, env := do(t, srv.Handler(), "/api/v1/patients")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.JSONEq(t, `"Not Found"`, string(env.Data))
}

type panicSearcher struct{}

func (panicSearcher) Search(context.Context, string) search.Result { panic("boom") }

func TestRecover(t *testing.T) {
	srv := New(DefaultConfig(), panicSearcher{}, nil)

	rec, env := do(t, srv.Handler(), SearchRoute+"?name=house")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, env.Status)
}

func TestRun_Shutdown(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, &fakeSearcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
