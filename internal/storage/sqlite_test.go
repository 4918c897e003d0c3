package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), Options{KeepCompound: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunk(collection, content, filePath string) *types.Chunk {
	c := &types.Chunk{
		Collection: collection,
		Content:    content,
		FilePath:   filePath,
		StartLine:  1,
		EndLine:    5,
		Language:   "go",
		Kind:       types.ChunkFunction,
	}
	c.ComputeContentHash()
	return c
}

// putSearchable stores a chunk and commits a vector for it so both
// retrieval paths can see it.
func putSearchable(t *testing.T, store *SQLiteStore, chunk *types.Chunk) string {
	t.Helper()
	ctx := context.Background()
	id, _, err := store.PutChunk(ctx, chunk)
	require.NoError(t, err)
	require.NoError(t, store.UpsertVectors(ctx, chunk.Collection, []VectorRecord{
		{DocID: id, Vector: []float32{1, 0, 0}, Provider: "null", Model: "null"},
	}))
	return id
}

func TestPutChunkDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	first := testChunk("proj", "func getUserID() string { return id }", "auth.go")
	id1, dedup, err := store.PutChunk(ctx, first)
	require.NoError(t, err)
	assert.False(t, dedup)
	assert.NotEmpty(t, id1)

	// Same bytes from a different file still dedup within the collection.
	second := testChunk("proj", "func getUserID() string { return id }", "other.go")
	id2, dedup, err := store.PutChunk(ctx, second)
	require.NoError(t, err)
	assert.True(t, dedup)
	assert.Equal(t, id1, id2)

	stats, err := store.CollectionStats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
}

func TestPutChunkDedupScopedToCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "a"))
	require.NoError(t, store.EnsureCollection(ctx, "b"))

	content := "shared content across collections"
	idA, dedup, err := store.PutChunk(ctx, testChunk("a", content, "x.go"))
	require.NoError(t, err)
	assert.False(t, dedup)

	idB, dedup, err := store.PutChunk(ctx, testChunk("b", content, "x.go"))
	require.NoError(t, err)
	assert.False(t, dedup)
	assert.NotEqual(t, idA, idB)
}

func TestGetChunksPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id1, _, err := store.PutChunk(ctx, testChunk("proj", "first chunk body", "a.go"))
	require.NoError(t, err)
	id2, _, err := store.PutChunk(ctx, testChunk("proj", "second chunk body", "a.go"))
	require.NoError(t, err)

	chunks, err := store.GetChunks(ctx, "proj", []string{id2, "missing", id1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, id2, chunks[0].ID)
	assert.Equal(t, id1, chunks[1].ID)
}

func TestDeleteChunksByFileRemovesAllIndexes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id1, _, err := store.PutChunk(ctx, testChunk("proj", "alpha body in file", "gone.go"))
	require.NoError(t, err)
	_, _, err = store.PutChunk(ctx, testChunk("proj", "beta body stays", "kept.go"))
	require.NoError(t, err)

	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id1, Vector: []float32{1, 0, 0}, Provider: "null", Model: "null"},
	}))

	deleted, err := store.DeleteChunksByFile(ctx, "proj", "gone.go")
	require.NoError(t, err)
	assert.Equal(t, []string{id1}, deleted)

	stats, err := store.CollectionStats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 0, stats.Embeddings)

	hits, err := store.SearchText(ctx, "proj", "alpha", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteChunksByFileKeepsSharedChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	// The same content in two files shares one chunk row.
	id := putSearchable(t, store, testChunk("proj", "fn shared() { common body }", "a.rs"))
	dup, dedup, err := store.PutChunk(ctx, testChunk("proj", "fn shared() { common body }", "b.rs"))
	require.NoError(t, err)
	require.True(t, dedup)
	require.Equal(t, id, dup)

	// Removing the first file must not take the chunk with it.
	deleted, err := store.DeleteChunksByFile(ctx, "proj", "a.rs")
	require.NoError(t, err)
	assert.Empty(t, deleted)

	hits, err := store.SearchText(ctx, "proj", "shared", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	chunk, err := store.GetChunk(ctx, "proj", id)
	require.NoError(t, err)
	assert.Equal(t, "b.rs", chunk.FilePath)

	// The last reference going away removes the chunk for real.
	deleted, err = store.DeleteChunksByFile(ctx, "proj", "b.rs")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, deleted)

	hits, err = store.SearchText(ctx, "proj", "shared", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChunkInvisibleUntilVectorCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id, _, err := store.PutChunk(ctx, testChunk("proj", "pending sentinel content", "a.go"))
	require.NoError(t, err)

	// Stored but not yet embedded: neither path can see it.
	hits, err := store.SearchText(ctx, "proj", "sentinel", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	has, err := store.HasVector(ctx, "proj", id)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id, Vector: []float32{1, 0, 0}, Provider: "null", Model: "null"},
	}))

	hits, err = store.SearchText(ctx, "proj", "sentinel", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].DocID)

	has, err = store.HasVector(ctx, "proj", id)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFileLedgerTombstones(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	live, err := store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, live)

	require.NoError(t, store.UpsertFileHash(ctx, "proj", "main.go", "hash1"))
	live, err = store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main.go": "hash1"}, live)

	require.NoError(t, store.MarkFileDeleted(ctx, "proj", "main.go"))

	// A tombstoned file reports no hash, so a re-appearing file with the
	// same content is still re-indexed.
	live, err = store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, live)

	// Re-indexing revives the row.
	require.NoError(t, store.UpsertFileHash(ctx, "proj", "main.go", "hash1"))
	live, err = store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main.go": "hash1"}, live)
}

func TestDimensionPinning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id1, _, err := store.PutChunk(ctx, testChunk("proj", "pinned dimension chunk", "a.go"))
	require.NoError(t, err)

	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id1, Vector: []float32{1, 0, 0, 0}, Provider: "null", Model: "null"},
	}))

	// A different dimension must be rejected.
	err = store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id1, Vector: []float32{1, 0}, Provider: "null", Model: "null"},
	})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	// A different provider must be rejected.
	err = store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id1, Vector: []float32{1, 0, 0, 0}, Provider: "openai", Model: "text-embedding-3-small"},
	})
	assert.ErrorIs(t, err, types.ErrProviderConfigChanged)

	// Query-time dimension mismatch signals a provider change.
	_, err = store.SearchVector(ctx, "proj", []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, types.ErrProviderConfigChanged)
}

func TestSearchVectorRanking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	close1, _, err := store.PutChunk(ctx, testChunk("proj", "nearest document", "a.go"))
	require.NoError(t, err)
	close2, _, err := store.PutChunk(ctx, testChunk("proj", "second nearest", "b.go"))
	require.NoError(t, err)
	far, _, err := store.PutChunk(ctx, testChunk("proj", "orthogonal document", "c.go"))
	require.NoError(t, err)

	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: close1, Vector: []float32{1, 0, 0}, Provider: "null", Model: "null"},
		{DocID: close2, Vector: []float32{0.9, 0.1, 0}, Provider: "null", Model: "null"},
		{DocID: far, Vector: []float32{0, 0, 1}, Provider: "null", Model: "null"},
	}))

	hits, err := store.SearchVector(ctx, "proj", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, close1, hits[0].DocID)
	assert.Equal(t, close2, hits[1].DocID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchVectorFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	goChunk := testChunk("proj", "go language chunk", "main.go")
	rsChunk := testChunk("proj", "rust language chunk", "main.rs")
	rsChunk.Language = "rust"
	goID, _, err := store.PutChunk(ctx, goChunk)
	require.NoError(t, err)
	rsID, _, err := store.PutChunk(ctx, rsChunk)
	require.NoError(t, err)

	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: goID, Vector: []float32{1, 0}, Provider: "null", Model: "null"},
		{DocID: rsID, Vector: []float32{1, 0}, Provider: "null", Model: "null"},
	}))

	hits, err := store.SearchVector(ctx, "proj", []float32{1, 0}, 10, &types.Filter{Language: "rust"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rsID, hits[0].DocID)

	hits, err = store.SearchVector(ctx, "proj", []float32{1, 0}, 10, &types.Filter{FilePattern: "*.go"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, goID, hits[0].DocID)
}

func TestSearchTextIdentifierSplitting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id := putSearchable(t, store, testChunk("proj", "func getUserProfile(ctx context.Context) {}", "user.go"))

	// The split part matches even though the source only has the
	// compound identifier.
	hits, err := store.SearchText(ctx, "proj", "profile", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].DocID)

	// The compound form matches too.
	hits, err = store.SearchText(ctx, "proj", "getUserProfile", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSearchTextNormalization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	putSearchable(t, store, testChunk("proj", "retry retry retry backoff", "a.go"))
	putSearchable(t, store, testChunk("proj", "retry once then give up entirely", "b.go"))

	hits, err := store.SearchText(ctx, "proj", "retry", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestSearchTextEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	hits, err := store.SearchText(ctx, "proj", "", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.SearchText(ctx, "proj", "   !!! ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchTextInjectionSafe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	putSearchable(t, store, testChunk("proj", "plain searchable content", "a.go"))

	// Operator-looking input is treated as terms, never as syntax.
	for _, q := range []string{`content" OR "x`, "NEAR(a b)", "a AND b*", "(content)"} {
		_, err := store.SearchText(ctx, "proj", q, 10, nil)
		require.NoError(t, err, "query %q", q)
	}
}

func TestClearCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "proj"))

	id, _, err := store.PutChunk(ctx, testChunk("proj", "to be cleared", "a.go"))
	require.NoError(t, err)
	require.NoError(t, store.UpsertVectors(ctx, "proj", []VectorRecord{
		{DocID: id, Vector: []float32{1}, Provider: "null", Model: "null"},
	}))
	require.NoError(t, store.UpsertFileHash(ctx, "proj", "a.go", "h"))

	require.NoError(t, store.ClearCollection(ctx, "proj"))

	exists, err := store.CollectionExists(ctx, "proj")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.CollectionStats(ctx, "proj")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.14159, 0, -1e10}
	blob := SerializeVector(original)
	assert.Len(t, blob, len(original)*4)
	restored := DeserializeVector(blob)
	assert.Equal(t, original, restored)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
