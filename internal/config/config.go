package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Dimensions int    `toml:"dimensions"`
	BatchMax   int    `toml:"batch_max"`
	TimeoutMs  int    `toml:"timeout_ms"`
	APIKey     string `toml:"api_key"`
	Endpoint   string `toml:"endpoint"`
	Model      string `toml:"model"`
}

// VectorConfig configures the vector index. M, EfConstruction and
// EfSearch shape an HNSW graph on backends that build one; the SQLite
// backend scans embeddings exhaustively and accepts them without effect.
type VectorConfig struct {
	Metric         string `toml:"metric"` // cosine | l2 | dot
	M              int    `toml:"m"`
	EfConstruction int    `toml:"ef_construction"`
	EfSearch       int    `toml:"ef_search"`
}

// LexicalConfig configures BM25 scoring and tokenization. K1 and B apply
// on backends with tunable BM25; SQLite FTS5 pins k1=1.2 and b=0.75
// internally, so there they are accepted without effect.
type LexicalConfig struct {
	K1           float64 `toml:"k1"`
	B            float64 `toml:"b"`
	KeepCompound bool    `toml:"keep_compound"` // keep getUserID alongside get/user/id
}

// HybridConfig configures rank fusion.
type HybridConfig struct {
	WeightLex float64 `toml:"weight_lex"`
	WeightVec float64 `toml:"weight_vec"`
	RRFC      float64 `toml:"rrf_c"`
}

// IndexerConfig configures the indexing coordinator and chunker.
type IndexerConfig struct {
	MaxChunkSize     int      `toml:"max_chunk_size"`
	MaxChunksPerFile int      `toml:"max_chunks_per_file"`
	MaxFileSizeBytes int64    `toml:"max_file_size_bytes"`
	FollowSymlinks   bool     `toml:"follow_symlinks"`
	IgnorePatterns   []string `toml:"ignore_patterns"`
}

// Config is the full configuration surface of the engine. Unknown keys in
// a config file are rejected.
type Config struct {
	DBPath    string          `toml:"db_path"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Vector    VectorConfig    `toml:"vector"`
	Lexical   LexicalConfig   `toml:"lexical"`
	Hybrid    HybridConfig    `toml:"hybrid"`
	Indexer   IndexerConfig   `toml:"indexer"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   "null",
			Dimensions: 384,
			BatchMax:   64,
			TimeoutMs:  30000,
		},
		Vector: VectorConfig{
			Metric:         "cosine",
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
		},
		Lexical: LexicalConfig{
			K1:           1.2,
			B:            0.75,
			KeepCompound: true,
		},
		Hybrid: HybridConfig{
			WeightLex: 0.5,
			WeightVec: 0.5,
			RRFC:      60,
		},
		Indexer: IndexerConfig{
			MaxChunkSize:     512,
			MaxChunksPerFile: 50,
			MaxFileSizeBytes: 2 << 20,
			IgnorePatterns:   []string{".git", "node_modules", "vendor"},
		},
	}
}

// Load reads a TOML config file over the defaults. Unknown keys fail the
// load with ErrInvalidArgument.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes over the defaults, rejecting unknown keys.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if ok := asStrictError(err, &strict); ok {
			return nil, fmt.Errorf("%w: unknown config keys:\n%s", types.ErrInvalidArgument, strict.String())
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func asStrictError(err error, target **toml.StrictMissingError) bool {
	se, ok := err.(*toml.StrictMissingError)
	if ok {
		*target = se
	}
	return ok
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Vector.Metric {
	case "cosine", "l2", "dot":
	default:
		return fmt.Errorf("%w: unknown vector metric %q", types.ErrInvalidArgument, c.Vector.Metric)
	}
	if c.Hybrid.WeightLex < 0 || c.Hybrid.WeightVec < 0 {
		return fmt.Errorf("%w: fusion weights cannot be negative", types.ErrInvalidArgument)
	}
	sum := c.Hybrid.WeightLex + c.Hybrid.WeightVec
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %.3f", types.ErrInvalidArgument, sum)
	}
	if c.Hybrid.RRFC <= 0 {
		return fmt.Errorf("%w: rrf_c must be positive", types.ErrInvalidArgument)
	}
	if c.Embedding.BatchMax <= 0 {
		return fmt.Errorf("%w: embedding batch_max must be positive", types.ErrInvalidArgument)
	}
	if c.Indexer.MaxChunkSize <= 0 || c.Indexer.MaxChunksPerFile <= 0 {
		return fmt.Errorf("%w: indexer limits must be positive", types.ErrInvalidArgument)
	}
	return nil
}
