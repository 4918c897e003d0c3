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

// PutObservation stores one observation, applying the same content-hash
// dedup law as chunks: a byte-identical observation in the collection is
// not stored twice, and the existing ID is returned. The row joins the
// search index when its vector commits via UpsertVectors.
func (s *SQLiteStore) PutObservation(ctx context.Context, obs *types.Observation) (string, bool, error) {
	if err := obs.Validate(); err != nil {
		return "", false, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if obs.ContentHash == "" {
		obs.ContentHash = types.HashContent([]byte(obs.Content))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM observations WHERE collection_id = ? AND content_hash = ?",
		obs.Collection, obs.ContentHash).Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return "", false, err
		}
		return existingID, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	id := obs.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := obs.CreatedAt
	if createdAt == 0 {
		createdAt = types.NowMillis()
	}

	var tags []byte
	if normalized := types.NormalizeTags(obs.Tags); len(normalized) > 0 {
		obs.Tags = normalized
		tags, err = json.Marshal(normalized)
		if err != nil {
			return "", false, fmt.Errorf("failed to encode tags: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO observations (id, collection_id, kind, content, content_hash,
			tags, session_id, branch, commit_sha, file_path, execution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, obs.Collection, string(obs.Kind), obs.Content, obs.ContentHash,
		tags, obs.Metadata.SessionID, obs.Metadata.Branch, obs.Metadata.Commit,
		obs.Metadata.FilePath, obs.Metadata.Execution, createdAt)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert observation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	obs.ID = id
	obs.CreatedAt = createdAt
	return id, false, nil
}

// GetObservations fetches observations by ID, preserving request order
// and skipping IDs that do not exist.
func (s *SQLiteStore) GetObservations(ctx context.Context, collection string, ids []string) ([]*types.Observation, error) {
	if len(ids) == 0 {
		return []*types.Observation{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, observationSelect+
		" WHERE collection_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*types.Observation, len(ids))
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		byID[obs.ID] = obs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.Observation, 0, len(ids))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// QueryObservations lists observations matching a filter, newest first.
func (s *SQLiteStore) QueryObservations(ctx context.Context, collection string, filter *types.Filter, limit int) ([]*types.Observation, error) {
	if limit <= 0 {
		return []*types.Observation{}, nil
	}

	query := observationSelect + " WHERE collection_id = ?"
	args := []interface{}{collection}
	query, args = applyObservationFilters(query, args, filter)
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows, filter)
}

// Timeline returns up to before observations older than the anchor, the
// anchor itself, and up to after observations newer than it, in ascending
// created_at order. The anchor is always included exactly once.
func (s *SQLiteStore) Timeline(ctx context.Context, collection, anchorID string, before, after int, filter *types.Filter) ([]*types.Observation, error) {
	anchors, err := s.GetObservations(ctx, collection, []string{anchorID})
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("observation %q: %w", anchorID, types.ErrNotFound)
	}
	anchor := anchors[0]

	older, err := s.timelineWindow(ctx, collection, anchor, before, filter, true)
	if err != nil {
		return nil, err
	}
	newer, err := s.timelineWindow(ctx, collection, anchor, after, filter, false)
	if err != nil {
		return nil, err
	}

	// The older window arrives newest-first; reverse into ascending order.
	for i, j := 0, len(older)-1; i < j; i, j = i+1, j-1 {
		older[i], older[j] = older[j], older[i]
	}

	result := make([]*types.Observation, 0, len(older)+1+len(newer))
	result = append(result, older...)
	result = append(result, anchor)
	result = append(result, newer...)
	return result, nil
}

// timelineWindow fetches one side of a timeline. The ID tie-break keeps
// the ordering total when several observations share a timestamp.
func (s *SQLiteStore) timelineWindow(ctx context.Context, collection string, anchor *types.Observation, limit int, filter *types.Filter, older bool) ([]*types.Observation, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := observationSelect + " WHERE collection_id = ?"
	args := []interface{}{collection}
	if older {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
	} else {
		query += " AND (created_at > ? OR (created_at = ? AND id > ?))"
	}
	args = append(args, anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
	query, args = applyObservationFilters(query, args, filter)
	if older {
		query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	} else {
		query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows, filter)
}

const observationSelect = `
	SELECT id, collection_id, kind, content, content_hash, tags,
	       COALESCE(session_id, ''), COALESCE(branch, ''), COALESCE(commit_sha, ''),
	       COALESCE(file_path, ''), COALESCE(execution, ''), created_at
	FROM observations`

// applyObservationFilters pushes the observation-level predicates of a
// filter into SQL. Tag filters stay in Go: tags are a JSON array.
func applyObservationFilters(query string, args []interface{}, filter *types.Filter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}
	if len(filter.Kinds) > 0 {
		query += " AND kind IN ("
		for i, kind := range filter.Kinds {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, kind)
		}
		query += ")"
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	if filter.Commit != "" {
		query += " AND commit_sha = ?"
		args = append(args, filter.Commit)
	}
	if filter.CreatedAfter != 0 {
		query += " AND created_at >= ?"
		args = append(args, filter.CreatedAfter)
	}
	if filter.CreatedBefore != 0 {
		query += " AND created_at <= ?"
		args = append(args, filter.CreatedBefore)
	}
	return query, args
}

// collectObservations scans rows and applies the Go-side remainder of the
// filter (tag matching, file glob).
func collectObservations(rows *sql.Rows, filter *types.Filter) ([]*types.Observation, error) {
	out := make([]*types.Observation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		if !filter.MatchObservation(obs) {
			continue
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func scanObservation(row scanner) (*types.Observation, error) {
	var obs types.Observation
	var kind string
	var tags sql.NullString
	err := row.Scan(&obs.ID, &obs.Collection, &kind, &obs.Content, &obs.ContentHash,
		&tags, &obs.Metadata.SessionID, &obs.Metadata.Branch, &obs.Metadata.Commit,
		&obs.Metadata.FilePath, &obs.Metadata.Execution, &obs.CreatedAt)
	if err != nil {
		return nil, err
	}
	obs.Kind = types.ObservationKind(kind)
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &obs.Tags); err != nil {
			return nil, fmt.Errorf("%w: bad observation tags: %v", types.ErrCorruption, err)
		}
	}
	return &obs, nil
}
