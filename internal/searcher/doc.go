// Package searcher coordinates hybrid retrieval: the lexical and vector
// paths run concurrently over the same collection, their ranked lists are
// merged with reciprocal rank fusion, and the fused hits are hydrated
// from the chunk store.
//
//	s := searcher.New(store, handle, searcher.DefaultConfig())
//	resp, err := s.Search(ctx, searcher.Request{
//	    Collection: "myproject",
//	    Query:      "user authentication",
//	    Limit:      10,
//	})
//
// A failing retrieval path fails the whole search. Callers that prefer
// whatever the surviving path found set Request.AllowPartial; such
// responses carry Degraded=true and bypass the cache.
//
// Responses are cached by request shape with a TTL; indexing runs should
// call InvalidateCache so new chunks become visible immediately.
package searcher
