package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marlonsc/mcb-sub010/internal/chunker"
	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/storage"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// Config tunes an indexing run.
type Config struct {
	Workers    int // concurrent file workers, default runtime.NumCPU()
	EmbedBatch int // texts per embedding request, default 64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.EmbedBatch <= 0 {
		c.EmbedBatch = 64
	}
	if c.EmbedBatch > embedder.MaxBatchSize {
		c.EmbedBatch = embedder.MaxBatchSize
	}
	return c
}

// Indexer drives the pipeline: discover -> diff against the ledger ->
// chunk -> store -> embed and commit per file -> sweep deletions. One
// run per collection at a time; concurrent runs on the same collection
// are rejected, runs on different collections proceed independently.
type Indexer struct {
	store   storage.Store
	embed   *embedder.Handle
	chunker *chunker.Chunker
	cfg     Config

	locks  *lockSet
	status *statusTracker
}

// New creates an indexing coordinator.
func New(store storage.Store, embed *embedder.Handle, chunkOpts chunker.Options, cfg Config) *Indexer {
	return &Indexer{
		store:   store,
		embed:   embed,
		chunker: chunker.New(chunkOpts),
		cfg:     cfg.withDefaults(),
		locks:   newLockSet(),
		status:  newStatusTracker(),
	}
}

// pendingDoc is a stored chunk awaiting its embedding.
type pendingDoc struct {
	id      string
	content string
}

// fileWork is one chunked file awaiting its embedding commit and ledger
// entry.
type fileWork struct {
	path string
	hash string
	docs []pendingDoc
}

// Index runs one full incremental pass over the source. It always
// returns a report; on cancellation the report covers the work that was
// committed before the stop, and the error is the context error.
func (idx *Indexer) Index(ctx context.Context, collection string, src Source) (*types.IndexingReport, error) {
	lock := idx.locks.forCollection(collection)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("collection %q: %w", collection, types.ErrIndexingInProgress)
	}
	defer lock.Release()
	defer idx.status.finish(collection)

	if err := idx.store.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}

	files, err := src.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("source discovery: %w", err)
	}
	idx.status.start(collection, len(files))

	ledger, err := idx.store.LiveFiles(ctx, collection)
	if err != nil {
		return nil, err
	}

	report := &types.IndexingReport{}
	var (
		skipped, created, deduplicated atomic.Int64

		mu       sync.Mutex // guards work, report.Errors
		work     []fileWork
		seenPath = make(map[string]struct{}, len(files))
	)
	for _, f := range files {
		seenPath[f] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)

	for _, filePath := range files {
		filePath := filePath
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			idx.status.progress(collection, filePath)

			newDocs, chunksNew, chunksDedup, fileHash, err := idx.indexFile(gctx, collection, src, filePath, ledger)
			if err != nil {
				if errors.Is(err, errUnchanged) {
					skipped.Add(1)
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				report.Errors = append(report.Errors, types.FileError{Path: filePath, Err: err.Error()})
				mu.Unlock()
				skipped.Add(1)
				return nil
			}

			created.Add(int64(chunksNew))
			deduplicated.Add(int64(chunksDedup))

			mu.Lock()
			work = append(work, fileWork{path: filePath, hash: fileHash, docs: newDocs})
			mu.Unlock()
			return nil
		})
	}

	runErr := g.Wait()

	// Commit phase, one file at a time: embed the file's chunks in
	// batches, then advance its ledger entry once the vectors are
	// durable. Stored chunks stay invisible to both retrieval paths
	// until this commit, so a failed or cancelled run leaves the ledger
	// holding exactly the files that fully committed. A failed batch is
	// recorded against its file and the run moves on.
	var processed int
	for _, fw := range work {
		if ctx.Err() != nil {
			if runErr == nil {
				runErr = ctx.Err()
			}
			break
		}
		if err := idx.embedFile(ctx, collection, fw.docs); err != nil {
			if ctx.Err() != nil {
				if runErr == nil {
					runErr = ctx.Err()
				}
				break
			}
			mu.Lock()
			report.Errors = append(report.Errors, types.FileError{Path: fw.path, Err: err.Error()})
			mu.Unlock()
			skipped.Add(1)
			continue
		}
		if err := idx.store.UpsertFileHash(ctx, collection, fw.path, fw.hash); err != nil {
			if runErr == nil {
				runErr = err
			}
			break
		}
		processed++
	}

	// Deletion sweep: ledger entries whose file no longer exists.
	if runErr == nil {
		for filePath := range ledger {
			if _, ok := seenPath[filePath]; ok {
				continue
			}
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			if _, err := idx.store.DeleteChunksByFile(ctx, collection, filePath); err != nil {
				runErr = err
				break
			}
			if err := idx.store.MarkFileDeleted(ctx, collection, filePath); err != nil {
				runErr = err
				break
			}
			report.FilesDeleted++
		}
	}

	report.FilesProcessed = processed
	report.FilesSkipped = int(skipped.Load())
	report.ChunksCreated = int(created.Load())
	report.ChunksDeduplicated = int(deduplicated.Load())
	return report, runErr
}

// errUnchanged marks a file whose ledger hash still matches.
var errUnchanged = errors.New("file unchanged")

// indexFile chunks and stores one file, returning the chunks that still
// need embeddings.
func (idx *Indexer) indexFile(ctx context.Context, collection string, src Source, filePath string, ledger map[string]string) ([]pendingDoc, int, int, string, error) {
	content, err := src.Read(filePath)
	if err != nil {
		return nil, 0, 0, "", err
	}

	hash := types.HashContent(content)
	if prev, ok := ledger[filePath]; ok && prev == hash {
		return nil, 0, 0, "", errUnchanged
	}

	chunks, err := idx.chunker.Chunk(content, filePath, DetectLanguage(filePath))
	if err != nil {
		return nil, 0, 0, "", err
	}

	// Changed file: drop its references before storing the new set.
	// Chunks other files still contain survive the drop.
	if _, ok := ledger[filePath]; ok {
		if _, err := idx.store.DeleteChunksByFile(ctx, collection, filePath); err != nil {
			return nil, 0, 0, "", err
		}
	}

	var pending []pendingDoc
	var chunksNew, chunksDedup int
	for _, chunk := range chunks {
		chunk.Collection = collection
		chunk.FilePath = filePath
		id, dedup, err := idx.store.PutChunk(ctx, chunk)
		if err != nil {
			return nil, 0, 0, "", err
		}
		if dedup {
			chunksDedup++
			// A dedup hit against a chunk whose vector never committed,
			// left by an interrupted earlier run, still needs embedding.
			has, err := idx.store.HasVector(ctx, collection, id)
			if err != nil {
				return nil, 0, 0, "", err
			}
			if !has {
				pending = append(pending, pendingDoc{id: id, content: chunk.Content})
			}
			continue
		}
		chunksNew++
		pending = append(pending, pendingDoc{id: id, content: chunk.Content})
	}

	return pending, chunksNew, chunksDedup, hash, nil
}

// embedFile embeds one file's stored chunks in batches and commits their
// vectors, which also publishes them to the lexical index.
func (idx *Indexer) embedFile(ctx context.Context, collection string, docs []pendingDoc) error {
	if len(docs) == 0 {
		return nil
	}
	provider := idx.embed.Get()

	for start := 0; start < len(docs); start += idx.cfg.EmbedBatch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + idx.cfg.EmbedBatch
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.content
		}
		embeddings, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}

		records := make([]storage.VectorRecord, len(batch))
		for i, doc := range batch {
			records[i] = storage.VectorRecord{
				DocID:    doc.id,
				Vector:   embeddings[i].Vector,
				Provider: provider.Name(),
				Model:    embeddings[i].Model,
			}
		}
		if err := idx.store.UpsertVectors(ctx, collection, records); err != nil {
			return err
		}
	}
	return nil
}

// IndexDocument embeds one already-stored document and commits its
// vector. Used for observations, which are stored by the memory layer
// and indexed individually.
func (idx *Indexer) IndexDocument(ctx context.Context, collection, docID, content string) error {
	provider := idx.embed.Get()
	emb, err := provider.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", docID, err)
	}
	return idx.store.UpsertVectors(ctx, collection, []storage.VectorRecord{{
		DocID:    docID,
		Vector:   emb.Vector,
		Provider: provider.Name(),
		Model:    emb.Model,
	}})
}

// Status returns the progress snapshot for a collection.
func (idx *Indexer) Status(collection string) types.IndexingStatus {
	return idx.status.get(collection)
}

// statusTracker keeps one progress snapshot per collection.
type statusTracker struct {
	mu sync.Mutex
	by map[string]*types.IndexingStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{by: make(map[string]*types.IndexingStatus)}
}

func (t *statusTracker) start(collection string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.by[collection] = &types.IndexingStatus{InProgress: true, TotalFiles: total}
}

func (t *statusTracker) progress(collection, file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.by[collection]
	if !ok {
		return
	}
	s.CurrentFile = file
	s.ProcessedFiles++
	if s.TotalFiles > 0 {
		s.Progress = float64(s.ProcessedFiles) / float64(s.TotalFiles)
	}
}

func (t *statusTracker) finish(collection string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.by[collection]; ok {
		s.InProgress = false
		s.CurrentFile = ""
	}
}

func (t *statusTracker) get(collection string) types.IndexingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.by[collection]; ok {
		return *s
	}
	return types.IndexingStatus{}
}
