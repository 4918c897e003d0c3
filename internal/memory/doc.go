// Package memory is the observation-facing layer of the engine. Agent
// sessions store typed observations; retrieval follows progressive
// disclosure: a compact index query first, then a timeline window around
// an anchor, then full payloads by ID.
//
// Deduplication is byte-exact: two observations whose content differs
// only in whitespace are distinct records, because whitespace is
// significant in the code snippets observations often carry.
package memory
