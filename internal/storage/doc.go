// Package storage persists every durable artifact of the engine in a
// single SQLite file: collections, content-addressed chunks, the file
// ledger for incremental indexing, embeddings, observations, and the
// FTS5 lexical index.
//
// # Schema
//
// Tables:
//   - collections: one row per corpus; dimension and provider are pinned
//     on the first vector write
//   - chunks: indexed units, UNIQUE(collection_id, content_hash)
//   - chunk_files: which files currently contain each chunk's content
//   - file_hashes: the incremental-indexing ledger, tombstoned on delete
//   - embeddings: one vector blob per document
//   - observations: session memory, sharing the chunk dedup law
//   - search_docs: FTS5 index over chunk and observation content, with a
//     tokens column carrying identifier-split terms
//
// # Dedup
//
// PutChunk and PutObservation are idempotent by content: writing the
// same bytes to the same collection twice returns the original ID with
// deduplicated=true and stores nothing. A deduplicated chunk keeps one
// chunk_files row per referencing file, and DeleteChunksByFile removes
// the chunk only when the last reference goes.
//
//	id, dedup, err := store.PutChunk(ctx, chunk)
//	if dedup {
//	    // already indexed, no embedding work needed
//	}
//
// # Visibility
//
// A stored document stays invisible to both retrieval paths until
// UpsertVectors commits its embedding; that transaction also writes the
// FTS5 row. A crash between PutChunk and UpsertVectors leaves nothing
// searchable, and the next run re-embeds through the dedup path.
//
// # Search
//
// SearchText ranks with bm25() and normalizes scores into [0,1] by the
// best hit. SearchVector uses sqlite-vec when compiled in (sqlite_vec
// tag) and falls back to Go-computed similarity otherwise; the fallback
// also serves the l2 and dot metrics. Both accept a types.Filter whose
// chunk-level predicates are pushed into SQL.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 with the
// sqlite-vec extension. Pure Go build uses modernc.org/sqlite:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//	CGO_ENABLED=0 go build -tags "purego"
package storage
