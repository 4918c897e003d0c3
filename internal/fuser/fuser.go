// Package fuser merges lexical and vector result lists with reciprocal
// rank fusion. RRF works on ranks rather than raw scores, so the two
// retrieval paths never need score calibration against each other.
package fuser

import "sort"

// DefaultC is the rank-smoothing constant. 60 keeps single-list documents
// competitive without letting one path dominate.
const DefaultC = 60

// Config weights the two retrieval paths.
type Config struct {
	WeightLex float64
	WeightVec float64
	C         int
}

// DefaultConfig returns an even split between the paths.
func DefaultConfig() Config {
	return Config{WeightLex: 0.5, WeightVec: 0.5, C: DefaultC}
}

// Hit is one ranked document from a retrieval path. Score carries the
// path's own normalized score and is used only for tie-breaking.
type Hit struct {
	ID    string
	Score float64
}

// Fused is one merged result. Score is the RRF score normalized so the
// top result is 1.0.
type Fused struct {
	ID      string
	Score   float64
	Lexical bool
	Vector  bool
}

// Fuse merges the two ranked lists. Ordering is total: by fused score
// descending, then documents present in both lists, then higher source
// score, then ID.
func Fuse(lex, vec []Hit, cfg Config) []Fused {
	if cfg.C <= 0 {
		cfg.C = DefaultC
	}

	merged := make(map[string]*Fused)

	for rank, hit := range lex {
		f := merged[hit.ID]
		if f == nil {
			f = &Fused{ID: hit.ID}
			merged[hit.ID] = f
		}
		f.Lexical = true
		f.Score += cfg.WeightLex / float64(cfg.C+rank+1)
	}

	sourceBest := make(map[string]float64, len(merged))
	for _, hit := range lex {
		if hit.Score > sourceBest[hit.ID] {
			sourceBest[hit.ID] = hit.Score
		}
	}

	for rank, hit := range vec {
		f := merged[hit.ID]
		if f == nil {
			f = &Fused{ID: hit.ID}
			merged[hit.ID] = f
		}
		f.Vector = true
		f.Score += cfg.WeightVec / float64(cfg.C+rank+1)
		if hit.Score > sourceBest[hit.ID] {
			sourceBest[hit.ID] = hit.Score
		}
	}

	out := make([]Fused, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aBoth := a.Lexical && a.Vector
		bBoth := b.Lexical && b.Vector
		if aBoth != bBoth {
			return aBoth
		}
		if sourceBest[a.ID] != sourceBest[b.ID] {
			return sourceBest[a.ID] > sourceBest[b.ID]
		}
		return a.ID < b.ID
	})

	normalize(out)
	return out
}

// normalize scales fused scores so the best result is 1.0.
func normalize(results []Fused) {
	if len(results) == 0 {
		return
	}
	best := results[0].Score
	if best == 0 {
		return
	}
	for i := range results {
		results[i].Score /= best
	}
}
