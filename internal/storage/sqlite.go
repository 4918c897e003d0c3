package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// Options configures a SQLite store.
type Options struct {
	// Metric is the vector distance metric: cosine, l2, or dot.
	Metric string
	// KeepCompound controls whether identifier splitting also indexes the
	// lowercased compound term.
	KeepCompound bool
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db           *sql.DB
	metric       string
	keepCompound bool
}

var _ Store = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens or creates the database at dbPath and applies
// pending migrations.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	if opts.Metric == "" {
		opts.Metric = "cosine"
	}
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, metric: opts.Metric, keepCompound: opts.KeepCompound}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Collection operations

func (s *SQLiteStore) EnsureCollection(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: collection id is empty", types.ErrInvalidArgument)
	}
	now := types.NowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, metric, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, s.metric, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]*CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dimension, metric, COALESCE(provider, ''), COALESCE(model, ''), created_at, updated_at
		FROM collections
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	infos := make([]*CollectionInfo, 0)
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.ID, &info.Dimension, &info.Metric,
			&info.Provider, &info.Model, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) CollectionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM collections WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearCollection removes every document, vector, ledger row, and lexical
// entry of a collection, plus the collection row itself.
func (s *SQLiteStore) ClearCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM search_docs WHERE collection_id = ?",
		"DELETE FROM embeddings WHERE collection_id = ?",
		"DELETE FROM observations WHERE collection_id = ?",
		"DELETE FROM file_hashes WHERE collection_id = ?",
		"DELETE FROM chunk_files WHERE collection_id = ?",
		"DELETE FROM chunks WHERE collection_id = ?",
		"DELETE FROM collections WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CollectionStats(ctx context.Context, id string) (*CollectionStats, error) {
	info, err := s.collectionInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &CollectionStats{
		ID:        info.ID,
		Dimension: info.Dimension,
		Metric:    info.Metric,
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM chunks WHERE collection_id = ?", &stats.Chunks},
		{"SELECT COUNT(*) FROM observations WHERE collection_id = ?", &stats.Observations},
		{"SELECT COUNT(*) FROM embeddings WHERE collection_id = ?", &stats.Embeddings},
		{"SELECT COUNT(*) FROM file_hashes WHERE collection_id = ? AND deleted = 0", &stats.LiveFiles},
		{"SELECT COUNT(*) FROM file_hashes WHERE collection_id = ? AND deleted = 1", &stats.DeletedFiles},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, id).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	var lastIndexed sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT MAX(indexed_at) FROM file_hashes WHERE collection_id = ? AND deleted = 0", id).Scan(&lastIndexed)
	if err == nil && lastIndexed.Valid {
		stats.LastIndexedAt = lastIndexed.Int64
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return stats, nil
}

func (s *SQLiteStore) collectionInfo(ctx context.Context, id string) (*CollectionInfo, error) {
	var info CollectionInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dimension, metric, COALESCE(provider, ''), COALESCE(model, ''), created_at, updated_at
		FROM collections WHERE id = ?
	`, id).Scan(&info.ID, &info.Dimension, &info.Metric,
		&info.Provider, &info.Model, &info.CreatedAt, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Chunk operations

func (s *SQLiteStore) PutChunk(ctx context.Context, chunk *types.Chunk) (string, bool, error) {
	if err := chunk.Validate(); err != nil {
		return "", false, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM chunks WHERE collection_id = ? AND content_hash = ?",
		chunk.Collection, chunk.ContentHash).Scan(&existingID)
	if err == nil {
		if err := insertChunkRef(ctx, tx, chunk.Collection, existingID, chunk.FilePath); err != nil {
			return "", false, err
		}
		if err := tx.Commit(); err != nil {
			return "", false, err
		}
		return existingID, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	id := chunk.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := chunk.CreatedAt
	if createdAt == 0 {
		createdAt = types.NowMillis()
	}

	var metadata []byte
	if len(chunk.Metadata) > 0 {
		metadata, err = json.Marshal(chunk.Metadata)
		if err != nil {
			return "", false, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, collection_id, content, content_hash, file_path,
			start_line, end_line, language, kind, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, chunk.Collection, chunk.Content, chunk.ContentHash, chunk.FilePath,
		chunk.StartLine, chunk.EndLine, chunk.Language, string(chunk.Kind), metadata, createdAt)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert chunk: %w", err)
	}

	if err := insertChunkRef(ctx, tx, chunk.Collection, id, chunk.FilePath); err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	chunk.ID = id
	chunk.CreatedAt = createdAt
	return id, false, nil
}

// insertSearchDoc writes the lexical index row for one document. Called
// from UpsertVectors so lexical and semantic visibility share one commit
// point; the delete makes re-embedding idempotent.
func insertSearchDoc(ctx context.Context, tx *sql.Tx, collection, docID, content string, keepCompound bool) error {
	tokens := Tokenize(content, keepCompound)
	_, err := tx.ExecContext(ctx,
		"DELETE FROM search_docs WHERE collection_id = ? AND doc_id = ?", collection, docID)
	if err != nil {
		return fmt.Errorf("failed to reset lexical row: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO search_docs (content, tokens, doc_id, collection_id)
		VALUES (?, ?, ?, ?)
	`, content, tokens, docID, collection)
	if err != nil {
		return fmt.Errorf("failed to index text: %w", err)
	}
	return nil
}

// insertChunkRef records that filePath currently contains the chunk.
func insertChunkRef(ctx context.Context, tx *sql.Tx, collection, chunkID, filePath string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_files (collection_id, chunk_id, file_path)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, collection, chunkID, filePath)
	if err != nil {
		return fmt.Errorf("failed to record chunk reference: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, collection, id string) (*types.Chunk, error) {
	chunks, err := s.GetChunks(ctx, collection, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk %q: %w", id, types.ErrNotFound)
	}
	return chunks[0], nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, collection string, ids []string) ([]*types.Chunk, error) {
	if len(ids) == 0 {
		return []*types.Chunk{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collection)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := `
		SELECT id, collection_id, content, content_hash, file_path,
		       start_line, end_line, COALESCE(language, ''), kind, metadata, created_at
		FROM chunks
		WHERE collection_id = ? AND id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*types.Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the requested order, skipping missing IDs.
	out := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListChunksByFile(ctx context.Context, collection, filePath string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, content, content_hash, file_path,
		       start_line, end_line, COALESCE(language, ''), kind, metadata, created_at
		FROM chunks
		WHERE collection_id = ? AND file_path = ?
		ORDER BY start_line
	`, collection, filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByFile drops the file's references from every chunk it
// contains. Chunks still referenced by another file survive and are
// re-pointed at a surviving referent; chunks with no references left are
// removed together with their vectors and lexical rows. Returns the IDs
// of the removed chunks.
func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, collection, filePath string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT chunk_id FROM chunk_files WHERE collection_id = ? AND file_path = ?",
		collection, filePath)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return ids, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM chunk_files WHERE collection_id = ? AND file_path = ?",
		collection, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to drop chunk references: %w", err)
	}

	orphans := make([]string, 0, len(ids))
	for _, id := range ids {
		var survivor string
		err := tx.QueryRowContext(ctx, `
			SELECT file_path FROM chunk_files
			WHERE collection_id = ? AND chunk_id = ?
			ORDER BY file_path LIMIT 1
		`, collection, id).Scan(&survivor)
		if err == sql.ErrNoRows {
			orphans = append(orphans, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		// Shared chunk: keep it, attributed to a file that still has it.
		_, err = tx.ExecContext(ctx,
			"UPDATE chunks SET file_path = ? WHERE collection_id = ? AND id = ? AND file_path = ?",
			survivor, collection, id, filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to re-point shared chunk: %w", err)
		}
	}

	if len(orphans) == 0 {
		return orphans, tx.Commit()
	}

	placeholders := strings.Repeat("?,", len(orphans)-1) + "?"
	args := make([]interface{}, 0, len(orphans)+1)
	args = append(args, collection)
	for _, id := range orphans {
		args = append(args, id)
	}

	for _, stmt := range []string{
		"DELETE FROM search_docs WHERE collection_id = ? AND doc_id IN (" + placeholders + ")",
		"DELETE FROM embeddings WHERE collection_id = ? AND doc_id IN (" + placeholders + ")",
		"DELETE FROM chunks WHERE collection_id = ? AND id IN (" + placeholders + ")",
	} {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("failed to delete file chunks: %w", err)
		}
	}

	return orphans, tx.Commit()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (*types.Chunk, error) {
	var chunk types.Chunk
	var kind string
	var metadata sql.NullString
	err := row.Scan(&chunk.ID, &chunk.Collection, &chunk.Content, &chunk.ContentHash,
		&chunk.FilePath, &chunk.StartLine, &chunk.EndLine, &chunk.Language,
		&kind, &metadata, &chunk.CreatedAt)
	if err != nil {
		return nil, err
	}
	chunk.Kind = types.ChunkKind(kind)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("%w: bad chunk metadata: %v", types.ErrCorruption, err)
		}
	}
	return &chunk, nil
}

// File ledger operations

func (s *SQLiteStore) UpsertFileHash(ctx context.Context, collection, filePath, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_hashes (collection_id, file_path, content_hash, indexed_at, deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(collection_id, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at,
			deleted = 0
	`, collection, filePath, hash, types.NowMillis())
	if err != nil {
		return fmt.Errorf("failed to upsert file hash: %w", err)
	}
	return nil
}

// LiveFiles returns path -> hash for every non-tombstoned ledger row.
func (s *SQLiteStore) LiveFiles(ctx context.Context, collection string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path, content_hash FROM file_hashes WHERE collection_id = ? AND deleted = 0",
		collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		files[path] = hash
	}
	return files, rows.Err()
}

func (s *SQLiteStore) MarkFileDeleted(ctx context.Context, collection, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE file_hashes SET deleted = 1, indexed_at = ? WHERE collection_id = ? AND file_path = ?",
		types.NowMillis(), collection, filePath)
	if err != nil {
		return fmt.Errorf("failed to tombstone file: %w", err)
	}
	return nil
}
