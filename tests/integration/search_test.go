//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/doctor-search-proxy/internal/testutil"
	"github.com/Sternrassler/doctor-search-proxy/pkg/index"
	"github.com/Sternrassler/doctor-search-proxy/pkg/pagination"
	"github.com/Sternrassler/doctor-search-proxy/pkg/ratelimit"
	"github.com/Sternrassler/doctor-search-proxy/pkg/search"
	"github.com/Sternrassler/doctor-search-proxy/pkg/server"
	"github.com/Sternrassler/doctor-search-proxy/pkg/upstream"
)

// setupRedis starts a Redis container and returns a client for it.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { client.Close() })
	return client
}

// setupElasticsearch starts a single-node cluster with security disabled.
func setupElasticsearch(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.15.0",
			ExposedPorts: []string{"9200/tcp"},
			Env: map[string]string{
				"discovery.type":         "single-node",
				"xpack.security.enabled": "false",
				"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
			},
			WaitingFor: wait.ForHTTP("/_cluster/health").
				WithPort("9200/tcp").
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Elasticsearch container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9200")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

var fastPolicy = ratelimit.Policy{
	Threshold:  ratelimit.LargeResultThreshold,
	SmallDelay: 10 * time.Millisecond,
	LargeDelay: 30 * time.Millisecond,
}

// newStack wires the full proxy against idx and a mock provider.
func newStack(t *testing.T, idx index.Index) (*testutil.MockProvider, *httptest.Server) {
	t.Helper()

	provider := testutil.NewMockProvider()
	t.Cleanup(provider.Close)

	cfg := upstream.DefaultConfig("integration-key")
	cfg.BaseURL = provider.URL()
	client, err := upstream.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}

	coord := pagination.NewCoordinator(client, idx, fastPolicy, pagination.DefaultConfig())
	service := search.NewService(idx, ratelimit.NewGate(), coord)
	ts := httptest.NewServer(server.New(server.DefaultConfig(), service, idx).Handler())
	t.Cleanup(ts.Close)
	return provider, ts
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func get(t *testing.T, url string) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, env
}

func countRecords(t *testing.T, env envelope) int {
	t.Helper()
	var records []map[string]any
	if err := json.Unmarshal(env.Data, &records); err != nil {
		t.Fatalf("data is not a record list: %s", env.Data)
	}
	return len(records)
}

// runCacheThrough exercises miss, paginated fill, hit and concurrent rejection.
func runCacheThrough(t *testing.T, idx index.Index) {
	provider, ts := newStack(t, idx)
	provider.SetDoctors("stringer", testutil.NewDoctors("Stringer", 250))
	provider.SetDoctors("house", testutil.NewDoctors("House", 120))

	// Zero results
	resp, env := get(t, ts.URL+server.SearchRoute+"?name=seuss")
	if resp.StatusCode != http.StatusOK || countRecords(t, env) != 0 {
		t.Fatalf("seuss: status %d, data %s", resp.StatusCode, env.Data)
	}

	// Miss, three pages
	provider.Reset()
	resp, env = get(t, ts.URL+server.SearchRoute+"?name=stringer")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stringer: status %d", resp.StatusCode)
	}
	if n := countRecords(t, env); n != 250 {
		t.Errorf("stringer: got %d records, want 250", n)
	}
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", resp.Header.Get("X-Cache"))
	}
	reqs := provider.Requests()
	if len(reqs) != 3 {
		t.Fatalf("provider requests = %d, want 3", len(reqs))
	}
	for i, want := range []int{0, 100, 200} {
		if reqs[i].Skip != want {
			t.Errorf("request %d skip = %d, want %d", i, reqs[i].Skip, want)
		}
		if i > 0 && reqs[i].At.Sub(reqs[i-1].At) < fastPolicy.SmallDelay {
			t.Errorf("request %d sent %v after previous, want >= %v", i, reqs[i].At.Sub(reqs[i-1].At), fastPolicy.SmallDelay)
		}
	}

	// Hit
	resp, env = get(t, ts.URL+server.SearchRoute+"?name=stringer")
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Errorf("second search X-Cache = %q, want HIT", resp.Header.Get("X-Cache"))
	}
	if n := countRecords(t, env); n != 250 {
		t.Errorf("cached stringer: got %d records, want 250", n)
	}
	if got := provider.GetRequestCount(); got != 3 {
		t.Errorf("cache hit reached the provider: %d requests", got)
	}

	// Concurrent misses: exactly one fetches, the rest are rejected
	provider.Reset()
	provider.SetDelay(50 * time.Millisecond)
	var wg sync.WaitGroup
	statuses := make(chan int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + server.SearchRoute + "?name=house")
			if err != nil {
				t.Errorf("GET: %v", err)
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for s := range statuses {
		counts[s]++
	}
	if counts[http.StatusOK] < 1 {
		t.Errorf("no concurrent search succeeded: %v", counts)
	}
	if counts[http.StatusOK]+counts[http.StatusTooManyRequests] != 5 {
		t.Errorf("unexpected statuses: %v", counts)
	}
	if got := provider.GetRequestCount(); got != 2 {
		t.Errorf("house fetched %d pages, want 2 (one session)", got)
	}
}

func TestCacheThrough_Redis(t *testing.T) {
	client := setupRedis(t)
	runCacheThrough(t, index.NewRedisIndex(client, "doctors", 0))
}

func TestCacheThrough_Elasticsearch(t *testing.T) {
	es, err := index.NewElasticClient([]string{setupElasticsearch(t)})
	if err != nil {
		t.Fatalf("Failed to create elasticsearch client: %v", err)
	}
	runCacheThrough(t, index.NewElasticIndex(es, "doctors", 0))
}
