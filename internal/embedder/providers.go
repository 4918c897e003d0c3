package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// Provider names and defaults.
const (
	ProviderNull   = "null"
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"

	DefaultOpenAIModel    = "text-embedding-3-small"
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	DefaultDimension = 384

	// MaxBatchSize caps texts per provider request.
	MaxBatchSize = 128

	// maxItemChars is the per-item limit; longer texts are truncated and
	// the embedding is flagged.
	maxItemChars = 8192
)

// NullProvider emits deterministic vectors derived from the content hash.
// It is the default provider: cheap, offline, and stable across runs,
// which also makes it the workhorse of the test suite.
type NullProvider struct {
	dim   int
	cache *Cache
}

// NewNullProvider creates a null embedder with the given dimension.
func NewNullProvider(dim int, cache *Cache) *NullProvider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &NullProvider{dim: dim, cache: cache}
}

func (n *NullProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	text, truncated := clip(text)

	hash := types.HashContent([]byte(text))
	if n.cache != nil {
		if emb, ok := n.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashVector(text, n.dim),
		Dimension: n.dim,
		Model:     "null",
		Truncated: truncated,
	}
	if n.cache != nil {
		n.cache.Set(hash, emb)
	}
	return emb, nil
}

func (n *NullProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	out := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := n.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

func (n *NullProvider) Dimensions() int { return n.dim }
func (n *NullProvider) Name() string    { return ProviderNull }
func (n *NullProvider) Close() error    { return nil }

// LocalProvider is a small-model stand-in: vectors are the normalized sum
// of per-token hash vectors, so texts sharing tokens land near each other
// under cosine distance. Useful when no remote provider is configured.
type LocalProvider struct {
	dim   int
	cache *Cache
}

// NewLocalProvider creates a local embedder.
func NewLocalProvider(dim int, cache *Cache) *LocalProvider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &LocalProvider{dim: dim, cache: cache}
}

func (l *LocalProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	text, truncated := clip(text)

	hash := types.HashContent([]byte(text))
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	vector := make([]float32, l.dim)
	for _, token := range tokenize(text) {
		tv := hashVector(token, l.dim)
		for i := range vector {
			vector[i] += tv[i]
		}
	}

	emb := &Embedding{
		Vector:    NormalizeVector(vector),
		Dimension: l.dim,
		Model:     "local-small",
		Truncated: truncated,
	}
	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	out := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

func (l *LocalProvider) Dimensions() int { return l.dim }
func (l *LocalProvider) Name() string    { return ProviderLocal }
func (l *LocalProvider) Close() error    { return nil }

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	apiKey     string
	endpoint   string
	model      string
	dim        int
	httpClient *http.Client
	cache      *Cache
}

// OpenAIConfig configures the remote provider.
type OpenAIConfig struct {
	APIKey    string
	Endpoint  string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// NewOpenAIProvider creates a remote embedder.
func NewOpenAIProvider(cfg OpenAIConfig, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrNoProvider)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	hash := types.HashContent([]byte(text))
	if o.cache != nil {
		if emb, ok := o.cache.Get(hash); ok {
			return emb, nil
		}
	}
	embs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

func (o *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	clipped := make([]string, len(texts))
	flags := make([]bool, len(texts))
	for i, t := range texts {
		clipped[i], flags[i] = clip(t)
	}

	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return o.callAPI(ctx, clipped)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err)
	}

	if err := checkDimensions(embeddings, o.dim, len(texts)); err != nil {
		return nil, err
	}

	for i, emb := range embeddings {
		emb.Truncated = flags[i]
		if o.cache != nil {
			o.cache.Set(types.HashContent([]byte(texts[i])), emb)
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": o.model,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{status: resp.StatusCode, body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("response index %d out of range", data.Index)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Model:     apiResp.Model,
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("response missing embedding for index %d", i)
		}
	}
	return embeddings, nil
}

func (o *OpenAIProvider) Dimensions() int { return o.dim }
func (o *OpenAIProvider) Name() string    { return ProviderOpenAI }

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// clip enforces the per-item character limit, flagging truncation.
func clip(text string) (string, bool) {
	if len(text) <= maxItemChars {
		return text, false
	}
	cut := maxItemChars
	for cut > 0 && !utf8Start(text[cut]) {
		cut--
	}
	return text[:cut], true
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// hashVector expands a SHA-256 chain over the text into dim unit-scaled
// floats. Deterministic across processes.
func hashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	var counter [4]byte
	filled := 0
	for filled < dim {
		binary.LittleEndian.PutUint32(counter[:], uint32(filled))
		block := sha256.Sum256(append(seed[:], counter[:]...))
		for i := 0; i < len(block) && filled < dim; i++ {
			vector[filled] = float32(block[i])/127.5 - 1.0
			filled++
		}
	}
	return NormalizeVector(vector)
}

// tokenize lowercases and splits on non-alphanumeric boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeVector scales a vector to unit length.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
