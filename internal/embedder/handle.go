package embedder

import "sync/atomic"

// Handle is a swappable reference to the active provider. Callers take
// the current provider for the duration of one request via Get; Swap
// publishes a replacement observed on the next request. This avoids
// long-lived captures of a stale provider.
type Handle struct {
	current atomic.Pointer[holder]
}

type holder struct {
	embedder Embedder
}

// NewHandle creates a handle around an initial provider.
func NewHandle(e Embedder) *Handle {
	h := &Handle{}
	h.current.Store(&holder{embedder: e})
	return h
}

// Get returns the current provider.
func (h *Handle) Get() Embedder {
	return h.current.Load().embedder
}

// Swap publishes a new provider and returns the previous one so the
// caller can Close it once in-flight requests drain.
func (h *Handle) Swap(e Embedder) Embedder {
	prev := h.current.Swap(&holder{embedder: e})
	return prev.embedder
}
