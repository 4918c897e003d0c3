package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ChunkKind classifies the structural origin of a chunk.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkClass    ChunkKind = "class"
	ChunkModule   ChunkKind = "module"
	ChunkBlock    ChunkKind = "block"
)

// Chunk is the smallest indexed unit: a bounded slice of a file or the
// full content of an observation, plus the metadata needed for filtering.
type Chunk struct {
	ID          string
	Collection  string
	Content     string
	ContentHash string // 64-hex SHA-256 of Content; dedup key within Collection
	FilePath    string
	StartLine   int
	EndLine     int
	Language    string
	Kind        ChunkKind
	Metadata    map[string]string
	CreatedAt   int64 // Unix milliseconds
}

// ValidateContent checks basic chunk well-formedness.
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.StartLine < 0 || c.EndLine < 0 {
		return errors.New("line numbers cannot be negative")
	}
	if c.StartLine > 0 && c.EndLine > 0 && c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	return nil
}

// ValidateKind checks the chunk kind against the closed set.
func (c *Chunk) ValidateKind() error {
	switch c.Kind {
	case ChunkFunction, ChunkClass, ChunkModule, ChunkBlock:
		return nil
	default:
		return errors.New("invalid chunk kind")
	}
}

// Validate performs full validation of the chunk.
func (c *Chunk) Validate() error {
	if c.Collection == "" {
		return errors.New("collection is required")
	}
	if err := c.ValidateContent(); err != nil {
		return err
	}
	if err := c.ValidateKind(); err != nil {
		return err
	}
	if c.ContentHash == "" {
		return errors.New("content hash must be computed")
	}
	return nil
}

// ComputeContentHash fills ContentHash from Content.
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = HashContent([]byte(c.Content))
}

// HashContent computes the canonical content hash: a 64-hex-digit SHA-256
// digest of the raw bytes. Two chunks with identical hashes are by
// definition the same chunk within a collection.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// representation used everywhere in this system.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
