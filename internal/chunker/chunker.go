package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

const (
	// DefaultMaxChunkSize is the character target per chunk.
	DefaultMaxChunkSize = 512

	// DefaultMaxChunksPerFile bounds the number of chunks a single file
	// may produce; the remainder is truncated.
	DefaultMaxChunksPerFile = 50

	// smallFileThreshold: files below this size become one module chunk.
	smallFileThreshold = 128

	// binarySampleSize and binaryThreshold drive binary detection: more
	// than 5% invalid UTF-8 bytes in a 4 KiB sample rejects the file.
	binarySampleSize = 4096
	binaryThreshold  = 0.05

	// mergeFraction: adjacent chunks smaller than this fraction of the
	// target are merged with their next sibling.
	mergeFraction = 0.25

	// smallTargetLines is the line-based packing size used when the
	// character target is small.
	smallTargetLines = 3
)

// Options controls chunking behavior.
type Options struct {
	MaxChunkSize     int  // characters per chunk, default 512
	IncludeContext   bool // record surrounding context in chunk metadata
	MaxChunksPerFile int  // default 50
}

func (o Options) withDefaults() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.MaxChunksPerFile <= 0 {
		o.MaxChunksPerFile = DefaultMaxChunksPerFile
	}
	return o
}

// Chunker splits file contents and observations into bounded,
// language-aware chunks.
type Chunker struct {
	opts Options
}

// New creates a Chunker with the given options; zero fields take defaults.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// Chunk splits content into an ordered sequence of chunks covering the
// input. The language tag selects the semantic strategy when a grammar is
// known; everything else is split line-based. Binary content is rejected
// with ErrBinaryContent. Empty input yields an empty sequence.
func (c *Chunker) Chunk(content []byte, fileName, language string) ([]*types.Chunk, error) {
	if len(content) == 0 {
		return []*types.Chunk{}, nil
	}
	if IsBinary(content) {
		return nil, fmt.Errorf("%w: %s", types.ErrBinaryContent, fileName)
	}

	text := string(content)
	if len(text) < smallFileThreshold {
		chunk := c.newChunk(text, 1, countLines(text), language, types.ChunkModule, nil)
		return []*types.Chunk{chunk}, nil
	}

	var chunks []*types.Chunk
	switch language {
	case "go":
		var ok bool
		chunks, ok = c.chunkGo(text, fileName, language)
		if !ok {
			chunks = c.chunkLines(text, language)
			markAll(chunks, "parse_error", "true")
		}
	default:
		chunks = c.chunkLines(text, language)
	}

	return c.truncate(chunks), nil
}

// IsBinary samples up to 4 KiB and reports whether more than 5% of the
// bytes fail UTF-8 decoding.
func IsBinary(content []byte) bool {
	sample := content
	if len(sample) > binarySampleSize {
		sample = sample[:binarySampleSize]
	}
	invalid := 0
	for i := 0; i < len(sample); {
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
			i++
			continue
		}
		i += size
	}
	return float64(invalid) > binaryThreshold*float64(len(sample))
}

// chunkLines packs lines greedily up to a per-chunk line target derived
// from the character target. Every chunk is of kind block.
func (c *Chunker) chunkLines(text, language string) []*types.Chunk {
	lines := strings.Split(text, "\n")
	target := c.targetLines(lines)

	var chunks []*types.Chunk
	start := 0
	for start < len(lines) {
		end := start
		size := 0
		for end < len(lines) && end-start < target {
			lineLen := len(lines[end]) + 1
			if size > 0 && size+lineLen > c.opts.MaxChunkSize {
				break
			}
			size += lineLen
			end++
		}
		if end == start {
			end = start + 1 // single oversize line still becomes a chunk
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, c.newChunk(body, start+1, end, language, types.ChunkBlock, nil))
		}
		start = end
	}
	return chunks
}

// targetLines derives the packing size so the average chunk approximates
// the character target. Small character targets fall back to 3 lines.
func (c *Chunker) targetLines(lines []string) int {
	if c.opts.MaxChunkSize <= 128 {
		return smallTargetLines
	}
	total := 0
	for _, ln := range lines {
		total += len(ln) + 1
	}
	avg := total / len(lines)
	if avg == 0 {
		avg = 1
	}
	target := c.opts.MaxChunkSize / avg
	if target < smallTargetLines {
		target = smallTargetLines
	}
	return target
}

// truncate enforces MaxChunksPerFile, replacing the overflow with one
// synthetic trailing chunk whose metadata records the truncation.
func (c *Chunker) truncate(chunks []*types.Chunk) []*types.Chunk {
	max := c.opts.MaxChunksPerFile
	if len(chunks) <= max {
		return chunks
	}
	dropped := len(chunks) - max
	last := chunks[max-1]
	marker := c.newChunk(
		fmt.Sprintf("[truncated: %d additional chunks beyond line %d]", dropped, last.EndLine),
		last.EndLine, chunks[len(chunks)-1].EndLine, last.Language, types.ChunkModule,
		map[string]string{"truncated": "true"},
	)
	return append(chunks[:max], marker)
}

func (c *Chunker) newChunk(content string, startLine, endLine int, language string, kind types.ChunkKind, meta map[string]string) *types.Chunk {
	chunk := &types.Chunk{
		Content:   content,
		StartLine: startLine,
		EndLine:   endLine,
		Language:  language,
		Kind:      kind,
		Metadata:  meta,
	}
	chunk.ComputeContentHash()
	return chunk
}

func markAll(chunks []*types.Chunk, key, value string) {
	for _, ch := range chunks {
		if ch.Metadata == nil {
			ch.Metadata = make(map[string]string, 1)
		}
		ch.Metadata[key] = value
	}
}

func countLines(text string) int {
	return strings.Count(text, "\n") + 1
}
