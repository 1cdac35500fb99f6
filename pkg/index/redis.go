package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisBackend = "redis"

// RedisIndex stores documents in Redis and answers prefix queries with
// lexicographic range scans over a sorted set of name terms.
type RedisIndex struct {
	redis *redis.Client
	keys  Keys
	size  int
}

// NewRedisIndex creates a Redis backed index.
func NewRedisIndex(redisClient *redis.Client, name string, size int) *RedisIndex {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if size <= 0 {
		size = DefaultSearchSize
	}
	return &RedisIndex{
		redis: redisClient,
		keys:  Keys{Name: name},
		size:  size,
	}
}

// Name implements Index.
func (r *RedisIndex) Name() string {
	return redisBackend
}

// Ping implements Index.
func (r *RedisIndex) Ping(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		IndexErrors.WithLabelValues(redisBackend, "ping").Inc()
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// BulkWrite stores documents and their name terms in one transaction.
// Term postings of replaced documents are left behind; Search re-checks every
// candidate against the query, so stale postings only cost a lookup.
func (r *RedisIndex) BulkWrite(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, doc := range docs {
			data, err := json.Marshal(doc.Record)
			if err != nil {
				return fmt.Errorf("marshal document %s: %w", doc.ID, err)
			}
			pipe.HSet(ctx, r.keys.Docs(), doc.ID, data)

			terms := NameTerms(doc.Record)
			if len(terms) == 0 {
				continue
			}
			members := make([]redis.Z, len(terms))
			for i, term := range terms {
				members[i] = redis.Z{Score: 0, Member: termMember(term, doc.ID)}
			}
			pipe.ZAdd(ctx, r.keys.Terms(), members...)
		}
		return nil
	})
	if err != nil {
		IndexErrors.WithLabelValues(redisBackend, "bulk").Inc()
		return fmt.Errorf("redis bulk write: %w", err)
	}

	DocumentsWritten.WithLabelValues(redisBackend).Add(float64(len(docs)))
	return nil
}

// Search implements Reader.
func (r *RedisIndex) Search(ctx context.Context, q Query) ([]types.Record, error) {
	if q.Empty() {
		return nil, nil
	}

	// Scan postings for the most selective (longest) term only; the rest are
	// checked against the stored document.
	term := q.Terms[0]
	for _, t := range q.Terms[1:] {
		if len(t) > len(term) {
			term = t
		}
	}

	members, err := r.redis.ZRangeByLex(ctx, r.keys.Terms(), &redis.ZRangeBy{
		Min: "[" + term,
		Max: "[" + term + "\xff",
	}).Result()
	if err != nil {
		IndexErrors.WithLabelValues(redisBackend, "search").Inc()
		return nil, fmt.Errorf("redis zrangebylex: %w", err)
	}

	ids := candidateIDs(members)
	if len(ids) == 0 {
		observeSearch(redisBackend, 0)
		return nil, nil
	}

	values, err := r.redis.HMGet(ctx, r.keys.Docs(), ids...).Result()
	if err != nil {
		IndexErrors.WithLabelValues(redisBackend, "search").Inc()
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	records := make([]types.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var record types.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			IndexErrors.WithLabelValues(redisBackend, "search").Inc()
			return nil, fmt.Errorf("unmarshal document %s: %w", ids[i], err)
		}
		if !q.Matches(record) {
			continue
		}
		records = append(records, record)
		if len(records) >= r.size {
			break
		}
	}

	observeSearch(redisBackend, len(records))
	return records, nil
}

// candidateIDs extracts unique ids from postings in ascending numeric order.
func candidateIDs(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		id, ok := parseTermMember(m)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}
