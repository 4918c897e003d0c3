package types

import "errors"

// Behavior-driven error taxonomy. Callers are expected to classify with
// errors.Is; wrapping preserves the sentinel.
var (
	// ErrNotFound is returned when a chunk, observation, or collection is
	// missing on a read.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed requests: bad filter
	// expression, zero k, empty collection ID.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch is returned when an embedding's length differs
	// from the collection's pinned dimension. Never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrProviderConfigChanged is surfaced on the query path when the
	// active embedding provider no longer matches the indexed dimension.
	ErrProviderConfigChanged = errors.New("embedding provider configuration changed")

	// ErrEmbeddingFailed marks a permanent provider failure for a batch
	// item; recorded in the indexing report while other items continue.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrIndexingInProgress rejects a second concurrent indexing run on
	// the same collection.
	ErrIndexingInProgress = errors.New("indexing already in progress")

	// ErrBinaryContent rejects files detected as binary; they never enter
	// any index.
	ErrBinaryContent = errors.New("binary content")

	// ErrCorruption marks a broken internal invariant, e.g. a hash
	// mismatch between the ledger and the chunk store on re-read. The
	// affected file is quarantined for the remainder of the run.
	ErrCorruption = errors.New("index corruption detected")
)
