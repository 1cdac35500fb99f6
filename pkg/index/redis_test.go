package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

// setupTestRedis creates a Redis client backed by miniredis.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return client, s
}

func TestNewRedisIndex_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisIndex should panic with nil redis client")
		}
	}()
	NewRedisIndex(nil, "doctors", 0)
}

func TestRedisIndex_RoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 0)
	ctx := context.Background()

	records := make([]types.Record, 0, 250)
	for i := 0; i < 250; i++ {
		records = append(records, doctor(fmt.Sprintf("Doc%d", i+1), "", "Stringer"))
	}

	require.NoError(t, idx.BulkWrite(ctx, Sequential(records)))

	hits, err := idx.Search(ctx, ParseQuery("stringer"))
	require.NoError(t, err)
	assert.Len(t, hits, 250)
	assert.Equal(t, records[0], hits[0], "hits are returned in id order")

	hits, err = idx.Search(ctx, ParseQuery("doc1 string"))
	require.NoError(t, err)
	// Doc1, Doc10-19, Doc100-199
	assert.Len(t, hits, 111)
}

func TestRedisIndex_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 0)
	ctx := context.Background()

	hits, err := idx.Search(ctx, ParseQuery("seuss"))
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.BulkWrite(ctx, Sequential([]types.Record{doctor("Ann", "", "Lee")})))

	hits, err = idx.Search(ctx, ParseQuery("ann smith"))
	require.NoError(t, err)
	assert.Empty(t, hits, "all terms must match")

	hits, err = idx.Search(ctx, ParseQuery(""))
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRedisIndex_OverwriteDropsStalePostings(t *testing.T) {
	client, _ := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 0)
	ctx := context.Background()

	require.NoError(t, idx.BulkWrite(ctx, Sequential([]types.Record{
		doctor("Ann", "", "Stringer"),
		doctor("Bob", "", "Stringer"),
	})))
	// A later fetch reuses ids 1..N.
	require.NoError(t, idx.BulkWrite(ctx, Sequential([]types.Record{
		doctor("Greg", "", "House"),
	})))

	hits, err := idx.Search(ctx, ParseQuery("stringer"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{"Bob", "Stringer"}, hits[0].Names())

	hits, err = idx.Search(ctx, ParseQuery("house"))
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRedisIndex_SizeCap(t *testing.T) {
	client, _ := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 5)
	ctx := context.Background()

	records := make([]types.Record, 20)
	for i := range records {
		records[i] = doctor("Doc", "", "Stringer")
	}
	require.NoError(t, idx.BulkWrite(ctx, Sequential(records)))

	hits, err := idx.Search(ctx, ParseQuery("stringer"))
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}

func TestRedisIndex_Errors(t *testing.T) {
	client, s := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 0)
	ctx := context.Background()

	require.NoError(t, idx.Ping(ctx))

	s.Close()

	assert.Error(t, idx.Ping(ctx))

	_, err := idx.Search(ctx, ParseQuery("stringer"))
	assert.Error(t, err)

	err = idx.BulkWrite(ctx, Sequential([]types.Record{doctor("Ann", "", "Lee")}))
	assert.Error(t, err)
}

func TestRedisIndex_EmptyWrite(t *testing.T) {
	client, s := setupTestRedis(t)
	idx := NewRedisIndex(client, "doctors", 0)

	require.NoError(t, idx.BulkWrite(context.Background(), nil))
	assert.False(t, s.Exists("doctors:docs"))
}
