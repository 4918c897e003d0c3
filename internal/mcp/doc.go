// Package mcp exposes the engine over the Model Context Protocol.
//
// The server speaks JSON-RPC 2.0 on stdio (stdout carries the protocol;
// all logging goes to stderr) and registers nine tools:
//
//   - index: incremental indexing of a directory tree into a collection
//   - search: hybrid BM25 + vector search over indexed chunks
//   - status: indexing progress, stored counts, embedder metrics
//   - clear: wipe a collection
//   - list_collections: enumerate collections and their embedding setup
//   - memory_store: persist one observation (deduplicated by content)
//   - memory_search: hybrid search returning compact index entries
//   - memory_timeline: observations around an anchor, oldest first
//   - memory_get: full observations by ID
//
// The layer is a thin adapter: handlers decode arguments, call one engine
// component, and encode the result as indented JSON. No retrieval or
// indexing logic lives here.
//
// # Tool: index
//
//	Request:
//	{
//	  "name": "index",
//	  "arguments": {
//	    "collection": "myproject",
//	    "path": "/path/to/project",
//	    "force": false
//	  }
//	}
//
//	Response:
//	{
//	  "collection": "myproject",
//	  "files_processed": 247,
//	  "files_skipped": 89,
//	  "files_deleted": 2,
//	  "chunks_created": 1843,
//	  "chunks_deduplicated": 57
//	}
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "collection": "myproject",
//	    "query": "user authentication logic",
//	    "limit": 10,
//	    "filter": {"language": "go", "file_pattern": "internal/*"}
//	  }
//	}
//
// Results carry the fused relevance score in [0,1] plus the full chunk
// (file path, line range, language, kind, content).
//
// # Memory tools
//
// Observations follow progressive disclosure: memory_search returns index
// entries with a short preview, memory_timeline widens the context around
// one entry, memory_get delivers full payloads. Storing byte-identical
// content twice in a collection returns the original ID with
// deduplicated=true.
//
// # Error codes
//
//   - -32602 invalid parameters
//   - -32603 internal failure
//   - -32002 indexing already running on the collection
//   - -32005 embedding provider no longer matches the stored vectors
package mcp
