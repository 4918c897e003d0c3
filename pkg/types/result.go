package types

// SearchResult is a single fused search hit. Score is the hybrid score in
// [0, 1]; Chunk carries the display fields hydrated from the chunk store.
type SearchResult struct {
	ChunkID string
	Score   float64
	Chunk   *Chunk
}

// IndexEntry is the lightweight object returned by the first step of
// progressive disclosure: enough to rank and filter, no full content.
type IndexEntry struct {
	ID        string
	Kind      ObservationKind
	Tags      []string
	Score     float64 // relevance in [0, 1]
	Preview   string  // at most 160 characters, cut on a grapheme boundary
	SessionID string
	Branch    string
	FilePath  string
	CreatedAt int64 // Unix milliseconds
}

// IndexingReport summarizes one indexing run. It is always returned, even
// when individual files failed; per-file failures are listed in Errors.
type IndexingReport struct {
	FilesProcessed     int
	FilesSkipped       int
	ChunksCreated      int
	ChunksDeduplicated int
	FilesDeleted       int
	Errors             []FileError
}

// FileError records a per-file indexing failure.
type FileError struct {
	Path string
	Err  string
}

// IndexingStatus is an atomic snapshot of an in-flight (or finished)
// indexing run on one collection.
type IndexingStatus struct {
	InProgress     bool
	Progress       float64 // [0, 1], processed/total
	CurrentFile    string
	TotalFiles     int
	ProcessedFiles int
}
