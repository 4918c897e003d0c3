package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// UpsertVectors stores embeddings for documents and, in the same
// transaction, writes their lexical index rows. A document therefore
// becomes visible to both retrieval paths at one commit point and never
// earlier. The first write to a collection pins its dimension and
// provider; later writes must agree.
func (s *SQLiteStore) UpsertVectors(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dimension int
	var provider, model sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT dimension, provider, model FROM collections WHERE id = ?",
		collection).Scan(&dimension, &provider, &model)
	if err == sql.ErrNoRows {
		return fmt.Errorf("collection %q: %w", collection, types.ErrNotFound)
	}
	if err != nil {
		return err
	}

	first := records[0]
	if dimension == 0 {
		dimension = len(first.Vector)
		_, err = tx.ExecContext(ctx,
			"UPDATE collections SET dimension = ?, provider = ?, model = ?, updated_at = ? WHERE id = ?",
			dimension, first.Provider, first.Model, types.NowMillis(), collection)
		if err != nil {
			return fmt.Errorf("failed to pin collection dimension: %w", err)
		}
	} else if provider.Valid && provider.String != "" && provider.String != first.Provider {
		return fmt.Errorf("%w: collection %q was embedded with %s/%s, got %s/%s",
			types.ErrProviderConfigChanged, collection,
			provider.String, model.String, first.Provider, first.Model)
	}

	now := types.NowMillis()
	for _, rec := range records {
		if len(rec.Vector) != dimension {
			return fmt.Errorf("%w: collection %q expects dimension %d, got %d for %s",
				types.ErrDimensionMismatch, collection, dimension, len(rec.Vector), rec.DocID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embeddings (doc_id, collection_id, vector, dimension, provider, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				vector = excluded.vector,
				dimension = excluded.dimension,
				provider = excluded.provider,
				model = excluded.model
		`, rec.DocID, collection, serializeVector(rec.Vector), dimension, rec.Provider, rec.Model, now)
		if err != nil {
			return fmt.Errorf("failed to upsert vector for %s: %w", rec.DocID, err)
		}

		content, err := docContent(ctx, tx, collection, rec.DocID)
		if err != nil {
			return err
		}
		if err := insertSearchDoc(ctx, tx, collection, rec.DocID, content, s.keepCompound); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// docContent resolves a document ID to its stored text, chunk or
// observation. Vectors for unknown documents are rejected so the lexical
// row always has content to index.
func docContent(ctx context.Context, tx *sql.Tx, collection, docID string) (string, error) {
	var content string
	err := tx.QueryRowContext(ctx,
		"SELECT content FROM chunks WHERE collection_id = ? AND id = ?",
		collection, docID).Scan(&content)
	if err == nil {
		return content, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	err = tx.QueryRowContext(ctx,
		"SELECT content FROM observations WHERE collection_id = ? AND id = ?",
		collection, docID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("document %q: %w", docID, types.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// HasVector reports whether a document's embedding is durable, which is
// also the moment it became searchable.
func (s *SQLiteStore) HasVector(ctx context.Context, collection, docID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM embeddings WHERE collection_id = ? AND doc_id = ?",
		collection, docID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SearchVector returns the documents closest to the query vector. The
// query dimension must match the collection's pinned dimension; a
// mismatch means the embedding provider changed under the index.
func (s *SQLiteStore) SearchVector(ctx context.Context, collection string, query []float32, limit int, filter *types.Filter) ([]VectorHit, error) {
	if limit <= 0 {
		return []VectorHit{}, nil
	}

	info, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return nil, err
	}
	if info.Dimension == 0 {
		return []VectorHit{}, nil
	}
	if len(query) != info.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, collection %q pinned at %d",
			types.ErrProviderConfigChanged, len(query), collection, info.Dimension)
	}

	if VectorExtensionAvailable && info.Metric == "cosine" {
		return s.searchVectorOptimized(ctx, collection, query, limit, filter)
	}
	return s.searchVectorFallback(ctx, collection, query, limit, info.Metric, filter)
}

// searchVectorOptimized pushes the distance computation into sqlite-vec.
func (s *SQLiteStore) searchVectorOptimized(ctx context.Context, collection string, query []float32, limit int, filter *types.Filter) ([]VectorHit, error) {
	blob := serializeVector(query)

	sqlQuery := `
		SELECT e.doc_id, 1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM embeddings e
		LEFT JOIN chunks c ON c.id = e.doc_id
		WHERE e.collection_id = ?
	`
	args := []interface{}{blob, collection}
	sqlQuery, args = applyChunkFilters(sqlQuery, args, filter)

	sqlQuery += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]VectorHit, 0, limit)
	for rows.Next() {
		var hit VectorHit
		if err := rows.Scan(&hit.DocID, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// searchVectorFallback computes similarities in Go. Used for purego
// builds and for non-cosine metrics.
func (s *SQLiteStore) searchVectorFallback(ctx context.Context, collection string, query []float32, limit int, metric string, filter *types.Filter) ([]VectorHit, error) {
	sqlQuery := `
		SELECT e.doc_id, e.vector
		FROM embeddings e
		LEFT JOIN chunks c ON c.id = e.doc_id
		WHERE e.collection_id = ?
	`
	args := []interface{}{collection}
	sqlQuery, args = applyChunkFilters(sqlQuery, args, filter)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorHit, 0, 1000)
	for rows.Next() {
		var docID string
		var blob []byte
		if err := rows.Scan(&docID, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(query) {
			continue
		}
		candidates = append(candidates, VectorHit{DocID: docID, Score: similarity(query, vector, metric)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DocID < candidates[j].DocID
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit], nil
}

// applyChunkFilters pushes the chunk-level predicates of a filter into
// SQL. Predicates that need the full document (session, branch, tags)
// are applied later against hydrated results. Observations have no chunk
// row; the LEFT JOIN keeps them visible only when no chunk-level
// predicate is active.
func applyChunkFilters(query string, args []interface{}, filter *types.Filter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}

	if filter.FilePattern != "" {
		query += " AND c.file_path GLOB ?"
		args = append(args, filter.FilePattern)
	}
	if filter.Language != "" {
		query += " AND c.language = ?"
		args = append(args, filter.Language)
	}
	if len(filter.Kinds) > 0 {
		query += " AND c.kind IN ("
		for i, kind := range filter.Kinds {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, kind)
		}
		query += ")"
	}
	if filter.CreatedAfter != 0 {
		query += " AND c.created_at >= ?"
		args = append(args, filter.CreatedAfter)
	}
	if filter.CreatedBefore != 0 {
		query += " AND c.created_at <= ?"
		args = append(args, filter.CreatedBefore)
	}
	return query, args
}

// similarity computes the score for one candidate under the collection
// metric. Every metric maps to "higher is closer".
func similarity(a, b []float32, metric string) float64 {
	switch metric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1.0 / (1.0 + math.Sqrt(sum))
	case "dot":
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default:
		return cosineSimilarity(a, b)
	}
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
