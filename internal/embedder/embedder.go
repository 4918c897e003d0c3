package embedder

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// Common errors
var (
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrBatchTooLarge = errors.New("batch size exceeds limit")
	ErrNoProvider    = errors.New("no embedding provider configured")
)

// Embedding is one dense vector with its provenance. Truncated is set when
// the input text exceeded the provider's per-item limit and was cut.
type Embedding struct {
	Vector    []float32
	Dimension int
	Model     string
	Truncated bool
}

// Embedder produces dense vectors for texts. For a fixed instance,
// Dimensions is constant for its lifetime and equals the length of every
// emitted vector. EmbedBatch returns exactly one vector per input in input
// order, or fails as a whole.
type Embedder interface {
	Embed(ctx context.Context, text string) (*Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error)
	Dimensions() int
	Name() string
	Close() error
}

// Cache is an in-memory LRU of embeddings keyed by content hash.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a deep copy so caller mutations cannot pollute the cache.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	vector := make([]float32, len(emb.Vector))
	copy(vector, emb.Vector)
	return &Embedding{
		Vector:    vector,
		Dimension: emb.Dimension,
		Model:     emb.Model,
		Truncated: emb.Truncated,
	}, true
}

// Set stores an embedding; eviction is automatic at capacity.
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current number of cached embeddings.
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.cache.Purge()
}

// validateBatch rejects empty batches and empty items.
func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", types.ErrInvalidArgument)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", types.ErrInvalidArgument, i)
		}
	}
	return nil
}

// checkDimensions enforces the dimension law on a provider response.
func checkDimensions(embs []*Embedding, want, inputs int) error {
	if len(embs) != inputs {
		return fmt.Errorf("%w: got %d embeddings for %d inputs", types.ErrEmbeddingFailed, len(embs), inputs)
	}
	for i, e := range embs {
		if len(e.Vector) != want {
			return fmt.Errorf("%w: item %d has dimension %d, want %d",
				types.ErrDimensionMismatch, i, len(e.Vector), want)
		}
	}
	return nil
}
