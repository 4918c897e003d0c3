// Package types defines the shared domain records of the context engine:
// chunks, observations, search results, index entries, filters, and the
// error taxonomy.
//
// Everything is scoped to a collection, a stable string identifier that
// partitions every index and store. All timestamps are 64-bit signed Unix
// milliseconds. The content hash (HashContent) is the sole deduplication
// key: two chunks with identical hashes inside one collection are defined
// to be the same chunk.
package types
