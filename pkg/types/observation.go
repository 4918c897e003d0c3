package types

import "errors"

// ObservationKind is the closed set of observation types an agent session
// can emit.
type ObservationKind string

const (
	ObservationCode        ObservationKind = "code"
	ObservationDecision    ObservationKind = "decision"
	ObservationContext     ObservationKind = "context"
	ObservationError       ObservationKind = "error"
	ObservationSummary     ObservationKind = "summary"
	ObservationExecution   ObservationKind = "execution"
	ObservationQualityGate ObservationKind = "quality_gate"
)

// ValidObservationKind reports whether k belongs to the closed enumeration.
func ValidObservationKind(k ObservationKind) bool {
	switch k {
	case ObservationCode, ObservationDecision, ObservationContext,
		ObservationError, ObservationSummary, ObservationExecution,
		ObservationQualityGate:
		return true
	}
	return false
}

// ObservationMeta carries the filterable context of an observation.
type ObservationMeta struct {
	SessionID string `json:"session_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Commit    string `json:"commit,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	Execution string `json:"execution,omitempty"`
}

// Observation is a typed record emitted by an agent session, indexed
// alongside source chunks and deduplicated by content hash exactly as
// chunks are.
type Observation struct {
	ID          string
	Collection  string
	Content     string
	ContentHash string
	Kind        ObservationKind
	Tags        []string
	Metadata    ObservationMeta
	CreatedAt   int64 // Unix milliseconds
}

// Validate checks observation well-formedness before storage.
func (o *Observation) Validate() error {
	if o.Collection == "" {
		return errors.New("collection is required")
	}
	if o.Content == "" {
		return errors.New("observation content cannot be empty")
	}
	if !ValidObservationKind(o.Kind) {
		return errors.New("invalid observation kind")
	}
	return nil
}

// NormalizeTags deduplicates tags while preserving first-seen order,
// giving the insertion-stable tag set the data model requires.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
