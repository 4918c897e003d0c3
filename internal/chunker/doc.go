// Package chunker divides file contents and observations into bounded,
// language-aware chunks for embedding and search.
//
// Two strategies are used. When the language tag resolves to a known
// grammar (currently Go), the chunker splits at semantic boundaries: one
// chunk per top-level declaration, subdividing oversized declarations and
// merging runs of tiny ones. For every other language, lines are packed
// greedily into block chunks whose size approximates the character target.
//
// Chunks are emitted in source order. Binary content is rejected before
// either strategy runs and never enters an index. Parse failures are not
// fatal: the file is reprocessed line-based and its chunks are marked with
// parse_error metadata.
package chunker
