package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/fuser"
	"github.com/marlonsc/mcb-sub010/internal/storage"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	// overfetchFactor widens both retrieval paths before fusion so the
	// fused top-k is stable even when the paths disagree.
	overfetchFactor = 4
	defaultCacheTTL = time.Hour
	cacheSize       = 1000
)

// Config carries the fusion weights and cache policy.
type Config struct {
	WeightLex float64
	WeightVec float64
	RRFC      int
	CacheTTL  time.Duration
}

// DefaultConfig returns an even lexical/vector split with the standard
// rank-smoothing constant.
func DefaultConfig() Config {
	return Config{WeightLex: 0.5, WeightVec: 0.5, RRFC: fuser.DefaultC, CacheTTL: defaultCacheTTL}
}

// Request describes one search.
type Request struct {
	Collection string
	Query      string
	Limit      int
	Filter     *types.Filter
	// NoCache bypasses the query cache for this request.
	NoCache bool
	// AllowPartial opts into results from the surviving path when one
	// retrieval path fails. Without it any path failure is an error.
	AllowPartial bool
}

// Response carries the fused hits plus per-path counts. Degraded marks
// a partial response produced with one retrieval path down; it is only
// ever set for requests with AllowPartial.
type Response struct {
	Results     []types.SearchResult
	LexicalHits int
	VectorHits  int
	Duration    time.Duration
	CacheHit    bool
	Degraded    bool
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher coordinates the lexical and vector retrieval paths and fuses
// their results.
type Searcher struct {
	store storage.Store
	embed *embedder.Handle
	cfg   Config

	cacheMu sync.Mutex
	cache   *lru.Cache[[32]byte, *cacheEntry]
}

// New creates a Searcher. The embedder handle may be swapped at runtime;
// each search reads the current provider once.
func New(store storage.Store, embed *embedder.Handle, cfg Config) *Searcher {
	if cfg.RRFC <= 0 {
		cfg.RRFC = fuser.DefaultC
	}
	if cfg.WeightLex == 0 && cfg.WeightVec == 0 {
		cfg.WeightLex, cfg.WeightVec = 0.5, 0.5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create query cache: %v", err))
	}
	return &Searcher{store: store, embed: embed, cfg: cfg, cache: cache}
}

// Search runs the hybrid pipeline: both paths in parallel, reciprocal
// rank fusion, post-fusion filtering, hydration from the chunk store.
// A blank query returns an empty response, as does an unknown collection.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if req.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", types.ErrInvalidArgument)
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}

	if strings.TrimSpace(req.Query) == "" {
		return &Response{Results: []types.SearchResult{}, Duration: time.Since(start)}, nil
	}

	exists, err := s.store.CollectionExists(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Response{Results: []types.SearchResult{}, Duration: time.Since(start)}, nil
	}

	key := s.cacheKey(req)
	if !req.NoCache {
		if resp := s.checkCache(key); resp != nil {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	resp, err := s.hybrid(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)

	// Degraded responses are never cached: the next request should see
	// the full result set once the failing path recovers.
	if !req.NoCache && !resp.Degraded {
		s.storeCache(key, resp)
	}
	return resp, nil
}

type pathResult struct {
	lex []storage.TextHit
	vec []storage.VectorHit
	err error
}

func (s *Searcher) hybrid(ctx context.Context, req Request) (*Response, error) {
	fetch := req.Limit * overfetchFactor

	lexCh := make(chan pathResult, 1)
	vecCh := make(chan pathResult, 1)

	go func() {
		var res pathResult
		res.lex, res.err = s.store.SearchText(ctx, req.Collection, req.Query, fetch, req.Filter)
		select {
		case lexCh <- res:
		case <-ctx.Done():
		}
	}()
	go func() {
		var res pathResult
		emb, err := s.embed.Get().Embed(ctx, req.Query)
		if err != nil {
			res.err = fmt.Errorf("query embedding: %w", err)
		} else {
			res.vec, res.err = s.store.SearchVector(ctx, req.Collection, emb.Vector, fetch, req.Filter)
		}
		select {
		case vecCh <- res:
		case <-ctx.Done():
		}
	}()

	var lexRes, vecRes pathResult
	var lexDone, vecDone bool
	for !lexDone || !vecDone {
		select {
		case lexRes = <-lexCh:
			lexDone = true
		case vecRes = <-vecCh:
			vecDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// A provider or dimension conflict is a configuration fault and
	// always surfaces. Any other path failure is an error too unless the
	// caller opted into partial results; the response is then marked
	// degraded.
	if errors.Is(vecRes.err, types.ErrProviderConfigChanged) || errors.Is(vecRes.err, types.ErrDimensionMismatch) {
		return nil, vecRes.err
	}
	if lexRes.err != nil && vecRes.err != nil {
		return nil, fmt.Errorf("both search paths failed: lexical=%w, vector=%v", lexRes.err, vecRes.err)
	}
	degraded := lexRes.err != nil || vecRes.err != nil
	if degraded && !req.AllowPartial {
		if lexRes.err != nil {
			return nil, fmt.Errorf("lexical path: %w", lexRes.err)
		}
		return nil, fmt.Errorf("vector path: %w", vecRes.err)
	}

	lexHits := make([]fuser.Hit, len(lexRes.lex))
	for i, h := range lexRes.lex {
		lexHits[i] = fuser.Hit{ID: h.DocID, Score: h.Score}
	}
	vecHits := make([]fuser.Hit, len(vecRes.vec))
	for i, h := range vecRes.vec {
		vecHits[i] = fuser.Hit{ID: h.DocID, Score: h.Score}
	}

	fused := fuser.Fuse(lexHits, vecHits, fuser.Config{
		WeightLex: s.cfg.WeightLex,
		WeightVec: s.cfg.WeightVec,
		C:         s.cfg.RRFC,
	})

	results, err := s.hydrate(ctx, req, fused)
	if err != nil {
		return nil, err
	}

	return &Response{
		Results:     results,
		LexicalHits: len(lexRes.lex),
		VectorHits:  len(vecRes.vec),
		Degraded:    degraded,
	}, nil
}

// hydrate loads chunk rows for the fused hits, applies the remaining
// filter predicates and the score floor, and trims to the request limit.
func (s *Searcher) hydrate(ctx context.Context, req Request, fused []fuser.Fused) ([]types.SearchResult, error) {
	if len(fused) == 0 {
		return []types.SearchResult{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	chunks, err := s.store.GetChunks(ctx, req.Collection, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]types.SearchResult, 0, req.Limit)
	for _, f := range fused {
		if req.Filter != nil && f.Score < req.Filter.MinScore {
			break // fused order is score-descending
		}
		chunk, ok := byID[f.ID]
		if !ok {
			continue // deleted between retrieval and hydration
		}
		if req.Filter != nil && !req.Filter.MatchChunk(chunk) {
			continue
		}
		results = append(results, types.SearchResult{ChunkID: f.ID, Score: f.Score, Chunk: chunk})
		if len(results) == req.Limit {
			break
		}
	}
	return results, nil
}

// InvalidateCache drops every cached query. Called after indexing runs
// and provider swaps; the cache rebuilds on the next searches.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copyResponse(entry.response)
}

func (s *Searcher) storeCache(key [32]byte, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// cacheKey hashes every request field that changes the result set,
// including the current provider identity so a swap never serves stale
// vectors.
func (s *Searcher) cacheKey(req Request) [32]byte {
	var b strings.Builder
	b.WriteString(req.Collection)
	b.WriteByte('|')
	b.WriteString(req.Query)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Limit))
	b.WriteByte('|')
	b.WriteString(s.embed.Get().Name())
	if f := req.Filter; f != nil && !f.IsZero() {
		b.WriteString("|f:")
		b.WriteString(f.FilePattern)
		b.WriteByte('|')
		b.WriteString(f.Language)
		b.WriteByte('|')
		b.WriteString(strings.Join(f.Kinds, ","))
		b.WriteByte('|')
		b.WriteString(strings.Join(sortedCopy(f.Tags), ","))
		b.WriteByte('|')
		b.WriteString(f.SessionID)
		b.WriteByte('|')
		b.WriteString(f.Branch)
		b.WriteByte('|')
		b.WriteString(f.Commit)
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(f.CreatedAfter, 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(f.CreatedBefore, 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(f.MinScore, 'f', 4, 64))
	}
	return sha256.Sum256([]byte(b.String()))
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := &Response{
		LexicalHits: src.LexicalHits,
		VectorHits:  src.VectorHits,
		Duration:    src.Duration,
		Degraded:    src.Degraded,
		Results:     make([]types.SearchResult, len(src.Results)),
	}
	for i, r := range src.Results {
		dst.Results[i] = types.SearchResult{ChunkID: r.ChunkID, Score: r.Score}
		if r.Chunk != nil {
			chunkCopy := *r.Chunk
			if r.Chunk.Metadata != nil {
				chunkCopy.Metadata = make(map[string]string, len(r.Chunk.Metadata))
				for k, v := range r.Chunk.Metadata {
					chunkCopy.Metadata[k] = v
				}
			}
			dst.Results[i].Chunk = &chunkCopy
		}
	}
	return dst
}
