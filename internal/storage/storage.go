package storage

import (
	"context"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// Store is the persistence boundary for indexed documents. Implementations
// keep chunk content, the file ledger, embeddings, observations, and the
// lexical index consistent with each other: every write is atomic at the
// operation level, so a crashed run re-converges on the next pass through
// content-hash dedup.
type Store interface {
	// Collection operations
	EnsureCollection(ctx context.Context, id string) error
	ListCollections(ctx context.Context) ([]*CollectionInfo, error)
	CollectionExists(ctx context.Context, id string) (bool, error)
	ClearCollection(ctx context.Context, id string) error
	CollectionStats(ctx context.Context, id string) (*CollectionStats, error)

	// Chunk operations. PutChunk enforces the dedup law: a chunk whose
	// content hash already exists in the collection is not stored again,
	// and the existing ID is returned with deduplicated=true. Either way
	// the chunk gains a reference from its file; DeleteChunksByFile
	// removes a chunk only once its last reference is gone.
	PutChunk(ctx context.Context, chunk *types.Chunk) (id string, deduplicated bool, err error)
	GetChunk(ctx context.Context, collection, id string) (*types.Chunk, error)
	GetChunks(ctx context.Context, collection string, ids []string) ([]*types.Chunk, error)
	ListChunksByFile(ctx context.Context, collection, filePath string) ([]*types.Chunk, error)
	DeleteChunksByFile(ctx context.Context, collection, filePath string) (deletedIDs []string, err error)

	// File ledger operations for incremental indexing.
	UpsertFileHash(ctx context.Context, collection, filePath, hash string) error
	LiveFiles(ctx context.Context, collection string) (map[string]string, error)
	MarkFileDeleted(ctx context.Context, collection, filePath string) error

	// Vector operations. UpsertVectors pins the collection dimension on
	// first use; later writes with a different dimension fail with
	// types.ErrDimensionMismatch, and a changed provider/model pair fails
	// with types.ErrProviderConfigChanged. The same commit also publishes
	// the documents to the lexical index; a stored document without a
	// durable vector is invisible to both paths, which HasVector reports.
	UpsertVectors(ctx context.Context, collection string, records []VectorRecord) error
	HasVector(ctx context.Context, collection, docID string) (bool, error)
	SearchVector(ctx context.Context, collection string, query []float32, limit int, filter *types.Filter) ([]VectorHit, error)

	// Lexical operations. SearchText returns BM25 hits normalized into
	// [0,1] by the best observed score; an empty query yields no hits.
	SearchText(ctx context.Context, collection, query string, limit int, filter *types.Filter) ([]TextHit, error)

	// Observation operations. PutObservation shares the chunk dedup law.
	PutObservation(ctx context.Context, obs *types.Observation) (id string, deduplicated bool, err error)
	GetObservations(ctx context.Context, collection string, ids []string) ([]*types.Observation, error)
	QueryObservations(ctx context.Context, collection string, filter *types.Filter, limit int) ([]*types.Observation, error)
	Timeline(ctx context.Context, collection, anchorID string, before, after int, filter *types.Filter) ([]*types.Observation, error)

	Close() error
}

// CollectionInfo describes one collection.
type CollectionInfo struct {
	ID        string
	Dimension int
	Metric    string
	Provider  string
	Model     string
	CreatedAt int64
	UpdatedAt int64
}

// CollectionStats summarizes the contents of one collection.
type CollectionStats struct {
	ID            string
	Chunks        int
	Observations  int
	Embeddings    int
	LiveFiles     int
	DeletedFiles  int
	Dimension     int
	Metric        string
	IndexSizeMB   float64
	LastIndexedAt int64
}

// VectorRecord is one embedding to persist.
type VectorRecord struct {
	DocID    string
	Vector   []float32
	Provider string
	Model    string
}

// VectorHit is one vector search result. Score is a similarity in [0,1]
// where higher is closer.
type VectorHit struct {
	DocID string
	Score float64
}

// TextHit is one lexical search result. Score is BM25 normalized into
// [0,1] by the best score in the result set.
type TextHit struct {
	DocID string
	Score float64
}
