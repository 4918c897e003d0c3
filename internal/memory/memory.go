package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/fuser"
	"github.com/marlonsc/mcb-sub010/internal/indexer"
	"github.com/marlonsc/mcb-sub010/internal/storage"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	// previewGraphemes bounds index-entry previews. Grapheme clusters,
	// not bytes, so multi-byte text is never cut mid-character.
	previewGraphemes = 160
)

// Service stores observations and answers the three disclosure levels:
// Search (index entries), Timeline (a window of observations), and
// GetByIDs (full payloads).
type Service struct {
	store storage.Store
	embed *embedder.Handle
	idx   *indexer.Indexer
	fuse  fuser.Config
}

// New creates the memory service. The fuser config is shared with the
// code searcher so both surfaces rank with the same weights.
func New(store storage.Store, embed *embedder.Handle, idx *indexer.Indexer, fuse fuser.Config) *Service {
	if fuse.C <= 0 {
		fuse = fuser.DefaultConfig()
	}
	return &Service{store: store, embed: embed, idx: idx, fuse: fuse}
}

// Store persists one observation and makes it searchable. Byte-identical
// content in the same collection is deduplicated: the existing ID comes
// back with deduplicated=true and no re-indexing happens.
func (s *Service) Store(ctx context.Context, obs *types.Observation) (string, bool, error) {
	if err := s.store.EnsureCollection(ctx, obs.Collection); err != nil {
		return "", false, err
	}
	id, dedup, err := s.store.PutObservation(ctx, obs)
	if err != nil {
		return "", false, err
	}
	if dedup {
		return id, true, nil
	}
	if err := s.idx.IndexDocument(ctx, obs.Collection, id, obs.Content); err != nil {
		return id, false, fmt.Errorf("observation %s stored but not indexed: %w", id, err)
	}
	return id, false, nil
}

// Search runs the hybrid retrieval path over a collection and returns
// compact index entries, never full content. A blank query or unknown
// collection yields an empty slice.
func (s *Service) Search(ctx context.Context, collection, query string, filter *types.Filter, limit int) ([]types.IndexEntry, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", types.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if strings.TrimSpace(query) == "" {
		return []types.IndexEntry{}, nil
	}
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []types.IndexEntry{}, nil
	}

	// Both paths run unfiltered: observation predicates live in the
	// observations table, which the index scans cannot reach, so the
	// query over-fetches and filters after hydration.
	fetch := limit * 4
	lexHits, lexErr := s.store.SearchText(ctx, collection, query, fetch, nil)

	var vecHits []storage.VectorHit
	var vecErr error
	emb, err := s.embed.Get().Embed(ctx, query)
	if err != nil {
		vecErr = fmt.Errorf("query embedding: %w", err)
	} else {
		vecHits, vecErr = s.store.SearchVector(ctx, collection, emb.Vector, fetch, nil)
	}

	// Either path failing fails the search. A half-blind result would
	// look like the memory simply lacks the entry, which callers cannot
	// distinguish from a miss.
	if vecErr != nil {
		return nil, fmt.Errorf("vector path: %w", vecErr)
	}
	if lexErr != nil {
		return nil, fmt.Errorf("lexical path: %w", lexErr)
	}

	lex := make([]fuser.Hit, len(lexHits))
	for i, h := range lexHits {
		lex[i] = fuser.Hit{ID: h.DocID, Score: h.Score}
	}
	vec := make([]fuser.Hit, len(vecHits))
	for i, h := range vecHits {
		vec[i] = fuser.Hit{ID: h.DocID, Score: h.Score}
	}
	fused := fuser.Fuse(lex, vec, s.fuse)
	if len(fused) == 0 {
		return []types.IndexEntry{}, nil
	}

	ids := make([]string, len(fused))
	scores := make(map[string]float64, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
		scores[f.ID] = f.Score
	}

	// Hydration drops code-chunk IDs: only observation rows come back.
	observations, err := s.store.GetObservations(ctx, collection, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]types.IndexEntry, 0, limit)
	for _, obs := range observations {
		score := scores[obs.ID]
		if filter != nil && score < filter.MinScore {
			continue
		}
		if !filter.MatchObservation(obs) {
			continue
		}
		entries = append(entries, types.IndexEntry{
			ID:        obs.ID,
			Kind:      obs.Kind,
			Tags:      obs.Tags,
			Score:     score,
			Preview:   Preview(obs.Content),
			SessionID: obs.Metadata.SessionID,
			Branch:    obs.Metadata.Branch,
			FilePath:  obs.Metadata.FilePath,
			CreatedAt: obs.CreatedAt,
		})
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// Timeline returns up to before observations preceding the anchor and
// after following it, ordered by created_at ascending. The anchor itself
// is always included, even when the filter would exclude it, so the
// caller keeps its reference point in the window.
func (s *Service) Timeline(ctx context.Context, collection, anchorID string, before, after int, filter *types.Filter) ([]*types.Observation, error) {
	if before < 0 || after < 0 {
		return nil, fmt.Errorf("%w: timeline window must be non-negative", types.ErrInvalidArgument)
	}
	return s.store.Timeline(ctx, collection, anchorID, before, after, filter)
}

// GetByIDs fetches full observations, preserving request order and
// skipping unknown IDs.
func (s *Service) GetByIDs(ctx context.Context, collection string, ids []string) ([]*types.Observation, error) {
	return s.store.GetObservations(ctx, collection, ids)
}

// Recent lists the newest observations matching a filter, for callers
// that want a timeline entry point without a query.
func (s *Service) Recent(ctx context.Context, collection string, filter *types.Filter, limit int) ([]*types.Observation, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.QueryObservations(ctx, collection, filter, limit)
}

// Preview returns the first 160 grapheme clusters of the content with
// runs of whitespace collapsed, so an index entry stays one short line.
func Preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if uniseg.GraphemeClusterCount(content) <= previewGraphemes {
		return content
	}
	g := uniseg.NewGraphemes(content)
	count, end := 0, 0
	for g.Next() {
		count++
		_, end = g.Positions()
		if count == previewGraphemes {
			break
		}
	}
	return content[:end]
}
