package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonsc/mcb-sub010/internal/chunker"
	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/storage"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

func newTestIndexer(t *testing.T) (*Indexer, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"), storage.Options{KeepCompound: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	handle := embedder.NewHandle(embedder.NewNullProvider(16, nil))
	idx := New(store, handle, chunker.Options{MaxChunkSize: 128}, Config{Workers: 2, EmbedBatch: 8})
	return idx, store
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestIndexFreshTree(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"main.go":        "package main\n\nfunc main() {\n\tprintln(\"service entrypoint with enough text to chunk\")\n}\n",
		"lib/retry.go":   "package lib\n\nfunc retryWithBackoff(attempts int) error {\n\treturn nil // backoff handling placeholder text\n}\n",
		"docs/notes.md":  "notes about the retry strategy and its backoff characteristics in production",
		".hidden/secret": "never indexed",
	})

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 3, report.FilesProcessed)
	assert.Zero(t, report.FilesSkipped)
	assert.Greater(t, report.ChunksCreated, 0)
	assert.Empty(t, report.Errors)

	stats, err := store.CollectionStats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, report.ChunksCreated, stats.Chunks)
	// Every stored chunk got a vector.
	assert.Equal(t, stats.Chunks, stats.Embeddings)
	assert.Equal(t, 3, stats.LiveFiles)

	// Hidden directories never contribute.
	hits, err := store.SearchText(ctx, "proj", "secret", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexIncrementalSkipsUnchanged(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc alpha() { /* some body long enough for one chunk */ }\n",
		"b.go": "package b\n\nfunc beta() { /* another body long enough for one chunk */ }\n",
	})

	first, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 2, first.FilesProcessed)

	// No changes: everything is skipped, nothing re-chunked.
	second, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Zero(t, second.FilesProcessed)
	assert.Equal(t, 2, second.FilesSkipped)
	assert.Zero(t, second.ChunksCreated)
}

func TestIndexReplacesChangedFile(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc original() { /* the original body of this indexed file */ }\n",
	})
	_, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"),
		[]byte("package a\n\nfunc replacement() { /* entirely different body after the edit */ }\n"), 0o644))

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)

	// The old content is gone from the lexical index.
	hits, err := store.SearchText(ctx, "proj", "original", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.SearchText(ctx, "proj", "replacement", 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndexDeletionSweep(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"keep.go": "package keep\n\nfunc kept() { /* body that stays through both runs */ }\n",
		"gone.go": "package gone\n\nfunc removed() { /* body that disappears before run two */ }\n",
	})
	_, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesDeleted)

	hits, err := store.SearchText(ctx, "proj", "removed", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	live, err := store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.NotContains(t, live, "gone.go")
	assert.Contains(t, live, "keep.go")
}

func TestIndexDedupAcrossFiles(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	same := "identical file content shared by two paths, long enough to form a chunk"
	root := writeTree(t, map[string]string{
		"one.txt": same,
		"two.txt": same,
	})

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Equal(t, 1, report.ChunksCreated)
	assert.Equal(t, 1, report.ChunksDeduplicated)

	stats, err := store.CollectionStats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 1, stats.Embeddings)
}

func TestIndexSharedChunkSurvivesFileChange(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	shared := "fn checksum() { compute the rolling digest over the window }"
	root := writeTree(t, map[string]string{
		"a.rs": shared,
		"b.rs": shared,
	})
	_, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.rs"),
		[]byte("fn replaced() { a different implementation goes here now }"), 0o644))

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesSkipped)

	// The shared chunk is still there, attributed to the file that
	// still contains it.
	hits, err := store.SearchText(ctx, "proj", "digest", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	chunk, err := store.GetChunk(ctx, "proj", hits[0].DocID)
	require.NoError(t, err)
	assert.Equal(t, "b.rs", chunk.FilePath)

	hits, err = store.SearchText(ctx, "proj", "replaced", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

// brokenEmbedder stands in for an unreachable embedding backend.
type brokenEmbedder struct{ dim int }

func (b *brokenEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (b *brokenEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (b *brokenEmbedder) Dimensions() int { return b.dim }
func (b *brokenEmbedder) Name() string    { return "broken" }
func (b *brokenEmbedder) Close() error    { return nil }

func TestIndexEmbedFailureLeavesNothingVisible(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"), storage.Options{KeepCompound: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	handle := embedder.NewHandle(&brokenEmbedder{dim: 16})
	idx := New(store, handle, chunker.Options{MaxChunkSize: 128}, Config{Workers: 2, EmbedBatch: 8})
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"notes.txt": "a distinctive interim marker phrase that must stay hidden for now",
	})
	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Zero(t, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesSkipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "notes.txt", report.Errors[0].Path)

	// Nothing committed: no ledger entry, no vectors, no lexical rows.
	live, err := store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, live)

	hits, err := store.SearchText(ctx, "proj", "interim", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := store.CollectionStats(ctx, "proj")
	require.NoError(t, err)
	assert.Zero(t, stats.Embeddings)

	// With a working provider the next run re-embeds the stored chunk
	// through the dedup path and commits everything.
	handle.Swap(embedder.NewNullProvider(16, nil))
	report, err = idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)
	assert.Zero(t, report.ChunksCreated)
	assert.Equal(t, 1, report.ChunksDeduplicated)

	hits, err = store.SearchText(ctx, "proj", "interim", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	live, err = store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Contains(t, live, "notes.txt")
}

// flakyEmbedder rejects any batch containing the trigger word and
// delegates the rest.
type flakyEmbedder struct{ embedder.Embedder }

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	for _, text := range texts {
		if strings.Contains(text, "unembeddable") {
			return nil, errors.New("embedding backend rejected input")
		}
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

func TestIndexEmbedFailureIsolatedPerFile(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"), storage.Options{KeepCompound: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	handle := embedder.NewHandle(&flakyEmbedder{embedder.NewNullProvider(16, nil)})
	idx := New(store, handle, chunker.Options{MaxChunkSize: 128}, Config{Workers: 2, EmbedBatch: 8})
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"good.txt": "wholesome content that embeds and commits without any trouble",
		"bad.txt":  "this unembeddable content keeps its whole file out of the index",
	})
	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesSkipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "bad.txt", report.Errors[0].Path)

	// The healthy file committed fully despite its neighbor failing.
	live, err := store.LiveFiles(ctx, "proj")
	require.NoError(t, err)
	assert.Contains(t, live, "good.txt")
	assert.NotContains(t, live, "bad.txt")

	hits, err := store.SearchText(ctx, "proj", "wholesome", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = store.SearchText(ctx, "proj", "unembeddable", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexBinaryFileRecordedAsError(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"ok.txt": "ordinary text file content that indexes without any trouble at all",
	})
	binary := make([]byte, 512)
	for i := range binary {
		binary[i] = byte(i % 7 * 37)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), binary, 0o644))

	report, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "blob.bin", report.Errors[0].Path)
	assert.Contains(t, report.Errors[0].Err, "binary")
}

func TestIndexRejectsConcurrentRuns(t *testing.T) {
	idx, _ := newTestIndexer(t)

	lock := idx.locks.forCollection("proj")
	require.True(t, lock.TryAcquire())
	defer lock.Release()

	root := writeTree(t, map[string]string{"a.txt": "content"})
	_, err := idx.Index(context.Background(), "proj", &FSSource{Root: root})
	assert.ErrorIs(t, err, types.ErrIndexingInProgress)

	// Other collections are unaffected.
	_, err = idx.Index(context.Background(), "other", &FSSource{Root: root})
	assert.NoError(t, err)
}

// memSource serves files from memory.
type memSource struct {
	files   []string
	content map[string]string
}

func (m *memSource) Discover(ctx context.Context) ([]string, error) { return m.files, nil }
func (m *memSource) Read(path string) ([]byte, error) {
	return []byte(m.content[path]), nil
}

func TestIndexCancellation(t *testing.T) {
	idx, store := newTestIndexer(t)

	files := make([]string, 0, 50)
	content := make(map[string]string, 50)
	for i := 0; i < 50; i++ {
		name := "file" + strings.Repeat("x", i%5) + string(rune('a'+i%26)) + ".txt"
		files = append(files, name)
		content[name] = strings.Repeat("searchable content block ", 10) + name
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the run starts

	_, err := idx.Index(ctx, "proj", &memSource{files: files, content: content})
	assert.ErrorIs(t, err, context.Canceled)

	// The collection row exists but the run never advanced the ledger.
	live, lerr := store.LiveFiles(context.Background(), "proj")
	require.NoError(t, lerr)
	assert.Empty(t, live)

	status := idx.Status("proj")
	assert.False(t, status.InProgress)
}

func TestIndexStatusLifecycle(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()

	assert.Equal(t, types.IndexingStatus{}, idx.Status("proj"))

	root := writeTree(t, map[string]string{
		"a.txt": "first file content for the status lifecycle test case here",
		"b.txt": "second file content for the status lifecycle test case here",
	})
	_, err := idx.Index(ctx, "proj", &FSSource{Root: root})
	require.NoError(t, err)

	status := idx.Status("proj")
	assert.False(t, status.InProgress)
	assert.Equal(t, 2, status.TotalFiles)
	assert.Equal(t, 2, status.ProcessedFiles)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)
}

func TestIndexDocumentSingle(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "mem"))

	obs := &types.Observation{
		Collection: "mem",
		Content:    "observation body to embed individually",
		Kind:       types.ObservationContext,
	}
	id, dedup, err := store.PutObservation(ctx, obs)
	require.NoError(t, err)
	require.False(t, dedup)

	require.NoError(t, idx.IndexDocument(ctx, "mem", id, obs.Content))

	stats, err := store.CollectionStats(ctx, "mem")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embeddings)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("cmd/main.go"))
	assert.Equal(t, "rust", DetectLanguage("src/lib.rs"))
	assert.Equal(t, "markdown", DetectLanguage("README.md"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}
