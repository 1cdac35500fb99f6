// Package index provides the search index the proxy caches provider results in.
//
// A name search is normalized into a Query: every whitespace-delimited token
// becomes a prefix term and all terms must match (conjunction) against the
// profile name fields of a record (first, middle and last name).
//
// Three backends implement Reader and Writer:
//
//   - ElasticIndex: Elasticsearch, query_string over profile.*_name, _bulk writes.
//   - RedisIndex: documents in a hash, name terms in a lexicographic sorted set.
//   - MemoryIndex: in-process map for local development and tests.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	idx := index.NewRedisIndex(redisClient, "doctors", index.DefaultSearchSize)
//
//	// Cache a completed fetch under ids 1..N
//	if err := idx.BulkWrite(ctx, index.Sequential(records)); err != nil {
//		return err
//	}
//
//	// Query it back
//	hits, err := idx.Search(ctx, index.ParseQuery("john smi"))
//
// The index is write-once: nothing is ever evicted. Identifiers are the
// 1-based position of a record within the fetch that produced it, so a later
// fetch overwrites documents sharing those ids.
//
// # Metrics
//
//   - docsearch_index_hits_total{backend}
//   - docsearch_index_misses_total{backend}
//   - docsearch_index_documents_written_total{backend}
//   - docsearch_index_errors_total{backend,operation}
package index
