package types

import "path"

// Filter narrows search, timeline, and listing operations. The zero value
// matches everything. Time bounds are Unix milliseconds; zero means
// unbounded.
type Filter struct {
	FilePattern   string   // glob over file paths
	Language      string
	Kinds         []string // chunk kinds or observation kinds
	Tags          []string // any-of
	SessionID     string
	Branch        string
	Commit        string
	CreatedAfter  int64
	CreatedBefore int64
	MinScore      float64 // post-fusion score floor
}

// IsZero reports whether the filter has no active predicates.
func (f *Filter) IsZero() bool {
	return f == nil || (f.FilePattern == "" && f.Language == "" &&
		len(f.Kinds) == 0 && len(f.Tags) == 0 && f.SessionID == "" &&
		f.Branch == "" && f.Commit == "" && f.CreatedAfter == 0 &&
		f.CreatedBefore == 0 && f.MinScore == 0)
}

// MatchChunk reports whether a chunk satisfies every predicate of the
// filter. Score-floor filtering is applied separately after fusion.
func (f *Filter) MatchChunk(c *Chunk) bool {
	if f == nil {
		return true
	}
	if f.FilePattern != "" {
		if ok, err := path.Match(f.FilePattern, c.FilePath); err != nil || !ok {
			return false
		}
	}
	if f.Language != "" && f.Language != c.Language {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, string(c.Kind)) {
		return false
	}
	if f.SessionID != "" && c.Metadata["session_id"] != f.SessionID {
		return false
	}
	if f.Branch != "" && c.Metadata["branch"] != f.Branch {
		return false
	}
	if f.Commit != "" && c.Metadata["commit"] != f.Commit {
		return false
	}
	if len(f.Tags) > 0 {
		return false // chunks carry no tags; tag filters match observations only
	}
	return f.matchTime(c.CreatedAt)
}

// MatchObservation reports whether an observation satisfies every
// predicate of the filter.
func (f *Filter) MatchObservation(o *Observation) bool {
	if f == nil {
		return true
	}
	if f.FilePattern != "" {
		if ok, err := path.Match(f.FilePattern, o.Metadata.FilePath); err != nil || !ok {
			return false
		}
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, string(o.Kind)) {
		return false
	}
	if f.SessionID != "" && o.Metadata.SessionID != f.SessionID {
		return false
	}
	if f.Branch != "" && o.Metadata.Branch != f.Branch {
		return false
	}
	if f.Commit != "" && o.Metadata.Commit != f.Commit {
		return false
	}
	if len(f.Tags) > 0 && !anyOf(f.Tags, o.Tags) {
		return false
	}
	return f.matchTime(o.CreatedAt)
}

func (f *Filter) matchTime(createdAt int64) bool {
	if f.CreatedAfter != 0 && createdAt < f.CreatedAfter {
		return false
	}
	if f.CreatedBefore != 0 && createdAt > f.CreatedBefore {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func anyOf(want, have []string) bool {
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}
