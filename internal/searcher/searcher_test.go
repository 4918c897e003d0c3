package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonsc/mcb-sub010/internal/config"
	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/storage"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

func newTestSearcher(t *testing.T) (*Searcher, *storage.SQLiteStore, *embedder.Handle) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "search.db"), storage.Options{KeepCompound: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(config.EmbeddingConfig{Provider: "null", Dimensions: 16})
	require.NoError(t, err)
	handle := embedder.NewHandle(emb)

	return New(store, handle, DefaultConfig()), store, handle
}

// seed stores a chunk and its embedding so both retrieval paths see it.
func seed(t *testing.T, store *storage.SQLiteStore, handle *embedder.Handle, collection, content, filePath, language string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, collection))

	chunk := &types.Chunk{
		Collection: collection,
		Content:    content,
		FilePath:   filePath,
		StartLine:  1,
		EndLine:    5,
		Language:   language,
		Kind:       types.ChunkFunction,
	}
	chunk.ComputeContentHash()
	id, _, err := store.PutChunk(ctx, chunk)
	require.NoError(t, err)

	emb, err := handle.Get().Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, store.UpsertVectors(ctx, collection, []storage.VectorRecord{
		{DocID: id, Vector: emb.Vector, Provider: handle.Get().Name(), Model: emb.Model},
	}))
	return id
}

func TestSearchHybridRanksExactTermFirst(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	want := seed(t, store, handle, "proj", "func getUserID(ctx context.Context) (string, error) { return session.UserID, nil }", "auth/session.go", "go")
	seed(t, store, handle, "proj", "func parseConfig(path string) (*Config, error) { return toml.Load(path) }", "config/load.go", "go")
	seed(t, store, handle, "proj", "func renderTemplate(w io.Writer, name string) error { return tmpl.Execute(w, name) }", "web/render.go", "go")

	resp, err := s.Search(ctx, Request{Collection: "proj", Query: "getUserID"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	assert.Equal(t, want, resp.Results[0].ChunkID)
	require.NotNil(t, resp.Results[0].Chunk)
	assert.Contains(t, resp.Results[0].Chunk.Content, "getUserID")

	for _, r := range resp.Results {
		assert.Greater(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	seed(t, store, handle, "proj", "some indexed content here", "a.go", "go")

	resp, err := s.Search(context.Background(), Request{Collection: "proj", Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchUnknownCollection(t *testing.T) {
	s, _, _ := newTestSearcher(t)

	resp, err := s.Search(context.Background(), Request{Collection: "nope", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchMissingCollectionArg(t *testing.T) {
	s, _, _ := newTestSearcher(t)

	_, err := s.Search(context.Background(), Request{Query: "anything"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestSearchLimit(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	handlers := map[string]string{
		"login.go":  "func handleLogin(w http.ResponseWriter, r *http.Request) { login(r) }",
		"logout.go": "func handleLogout(w http.ResponseWriter, r *http.Request) { logout(r) }",
		"signup.go": "func handleSignup(w http.ResponseWriter, r *http.Request) { signup(r) }",
		"reset.go":  "func handleReset(w http.ResponseWriter, r *http.Request) { reset(r) }",
	}
	for path, content := range handlers {
		seed(t, store, handle, "proj", content, path, "go")
	}

	resp, err := s.Search(ctx, Request{Collection: "proj", Query: "handle http request", Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), 2)
	assert.NotEmpty(t, resp.Results)
}

func TestSearchLanguageFilter(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func connectDatabase() error { return pool.Ping() }", "db/conn.go", "go")
	seed(t, store, handle, "proj", "def connect_database():\n    return pool.ping()", "db/conn.py", "python")

	resp, err := s.Search(ctx, Request{
		Collection: "proj",
		Query:      "connect database",
		Filter:     &types.Filter{Language: "python"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "python", r.Chunk.Language)
	}
}

func TestSearchFilePatternFilter(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func validateToken(tok string) error { return jwt.Verify(tok) }", "auth/token.go", "go")
	seed(t, store, handle, "proj", "func validateInput(in string) error { return checkInput(in) }", "web/form.go", "go")

	resp, err := s.Search(ctx, Request{
		Collection: "proj",
		Query:      "validate",
		Filter:     &types.Filter{FilePattern: "auth/*"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "auth/token.go", r.Chunk.FilePath)
	}
}

func TestSearchMinScoreFloor(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func computeChecksum(data []byte) uint32 { return crc32.ChecksumIEEE(data) }", "hash.go", "go")

	// The fused top score is normalized to 1.0, so a floor above it
	// removes everything.
	resp, err := s.Search(ctx, Request{
		Collection: "proj",
		Query:      "computeChecksum",
		Filter:     &types.Filter{MinScore: 1.01},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchCacheHitAndInvalidate(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func listBuckets(ctx context.Context) ([]Bucket, error) { return s3.List(ctx) }", "s3.go", "go")

	req := Request{Collection: "proj", Query: "listBuckets"}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.NotEmpty(t, first.Results)

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results[0].ChunkID, second.Results[0].ChunkID)

	// Mutating a returned result must not leak into the cache.
	second.Results[0].Chunk.Content = "mutated"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", third.Results[0].Chunk.Content)

	s.InvalidateCache()
	fourth, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
}

func TestSearchNoCacheBypass(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func rotateKeys(ctx context.Context) error { return kms.Rotate(ctx) }", "kms.go", "go")

	req := Request{Collection: "proj", Query: "rotateKeys", NoCache: true}
	for i := 0; i < 2; i++ {
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
}

func TestSearchProviderDimensionChange(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func streamEvents(ctx context.Context) (<-chan Event, error) { return bus.Subscribe(ctx) }", "bus.go", "go")

	// Swapping to a provider with a different dimension makes the stored
	// vectors unusable for this query.
	smaller, err := embedder.New(config.EmbeddingConfig{Provider: "null", Dimensions: 8})
	require.NoError(t, err)
	handle.Swap(smaller)
	s.InvalidateCache()

	_, err = s.Search(ctx, Request{Collection: "proj", Query: "streamEvents", NoCache: true})
	assert.ErrorIs(t, err, types.ErrProviderConfigChanged)
}

// downEmbedder stands in for an unreachable embedding backend.
type downEmbedder struct{ dim int }

func (d *downEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (d *downEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (d *downEmbedder) Dimensions() int { return d.dim }
func (d *downEmbedder) Name() string    { return "null" }
func (d *downEmbedder) Close() error    { return nil }

func TestSearchVectorPathFailureIsAnError(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	seed(t, store, handle, "proj", "func flushJournal(ctx context.Context) error { return wal.Sync(ctx) }", "wal.go", "go")
	handle.Swap(&downEmbedder{dim: 16})

	_, err := s.Search(ctx, Request{Collection: "proj", Query: "flushJournal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector path")
}

func TestSearchAllowPartialDegrades(t *testing.T) {
	s, store, handle := newTestSearcher(t)
	ctx := context.Background()

	want := seed(t, store, handle, "proj", "func flushJournal(ctx context.Context) error { return wal.Sync(ctx) }", "wal.go", "go")
	handle.Swap(&downEmbedder{dim: 16})

	req := Request{Collection: "proj", Query: "flushJournal", AllowPartial: true}
	resp, err := s.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, want, resp.Results[0].ChunkID)
	assert.True(t, resp.Degraded)

	// Degraded responses stay out of the cache so a recovered backend
	// serves the full result set.
	again, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
}
