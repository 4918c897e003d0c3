package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// SearchText runs a BM25 query over the lexical index. Scores are
// normalized into [0,1] by the best observed score, so the top hit is
// always 1.0. An empty or unmatchable query returns no hits rather than
// an error.
func (s *SQLiteStore) SearchText(ctx context.Context, collection, query string, limit int, filter *types.Filter) ([]TextHit, error) {
	if limit <= 0 {
		return []TextHit{}, nil
	}
	match := buildMatchQuery(query)
	if match == "" {
		return []TextHit{}, nil
	}

	sqlQuery := `
		SELECT search_docs.doc_id, bm25(search_docs) AS score
		FROM search_docs
		LEFT JOIN chunks c ON c.id = search_docs.doc_id
		WHERE search_docs MATCH ? AND search_docs.collection_id = ?
	`
	args := []interface{}{match, collection}
	sqlQuery, args = applyChunkFilters(sqlQuery, args, filter)

	// bm25() is negative with lower meaning better; order ascending.
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute lexical search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]TextHit, 0, limit)
	for rows.Next() {
		var hit TextHit
		if err := rows.Scan(&hit.DocID, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	normalizeTextScores(hits)
	return hits, nil
}

// normalizeTextScores maps raw bm25 output onto [0,1] with the best hit
// pinned at 1.0.
func normalizeTextScores(hits []TextHit) {
	var best float64
	for i := range hits {
		if hits[i].Score < 0 {
			hits[i].Score = -hits[i].Score
		}
		if hits[i].Score > best {
			best = hits[i].Score
		}
	}
	if best == 0 {
		for i := range hits {
			hits[i].Score = 1.0
		}
		return
	}
	for i := range hits {
		hits[i].Score = hits[i].Score / best
	}
}

// buildMatchQuery turns free text into a safe FTS5 MATCH expression:
// every term is double-quoted so user input can never inject operators,
// compound identifiers contribute their split parts, and terms are
// OR-joined so partial matches still rank.
func buildMatchQuery(query string) string {
	seen := make(map[string]struct{})
	var terms []string

	add := func(term string) {
		term = strings.ToLower(term)
		if term == "" {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}

	for _, word := range splitWords(query) {
		add(word)
		parts := splitIdentifier(word)
		if len(parts) > 1 {
			for _, p := range parts {
				if len(p) >= 2 {
					add(p)
				}
			}
		}
	}
	return strings.Join(terms, " OR ")
}
