package chunker

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// chunkGo attempts an AST-guided split: one chunk per top-level
// declaration. Oversized declarations are subdivided by lines; runs of
// small adjacent declarations are merged. Returns ok=false when parsing
// fails so the caller can fall back to the line-based strategy.
func (c *Chunker) chunkGo(text, fileName, language string) ([]*types.Chunk, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, fileName, text, parser.ParseComments)
	if err != nil || file == nil {
		return nil, false
	}

	lines := strings.Split(text, "\n")
	context := ""
	if c.opts.IncludeContext {
		context = goFileContext(file)
	}

	var chunks []*types.Chunk
	for _, decl := range file.Decls {
		start := fset.Position(decl.Pos()).Line
		end := fset.Position(decl.End()).Line
		if doc := declDoc(decl); doc != nil {
			if docLine := fset.Position(doc.Pos()).Line; docLine < start {
				start = docLine
			}
		}
		if start < 1 || end > len(lines) {
			continue
		}

		body := strings.Join(lines[start-1:end], "\n")
		kind := declKind(decl)

		if len(body) > c.opts.MaxChunkSize {
			chunks = append(chunks, c.subdivide(body, start, language)...)
			continue
		}

		var meta map[string]string
		if context != "" {
			meta = map[string]string{"context": context}
		}
		chunks = append(chunks, c.newChunk(body, start, end, language, kind, meta))
	}

	if len(chunks) == 0 {
		// Package clause only, or nothing chunkable: one module chunk.
		chunks = append(chunks, c.newChunk(text, 1, len(lines), language, types.ChunkModule, nil))
	}

	return c.mergeSmall(chunks), true
}

// subdivide splits an oversized declaration body into block chunks by
// line packing, keeping source order and absolute line numbers.
func (c *Chunker) subdivide(body string, startLine int, language string) []*types.Chunk {
	parts := c.chunkLines(body, language)
	for _, p := range parts {
		offset := startLine - 1
		p.StartLine += offset
		p.EndLine += offset
	}
	return parts
}

// mergeSmall merges a chunk smaller than 25% of the target with its next
// sibling when that sibling is also small. Merging repeats until the
// combined chunk grows past the threshold.
func (c *Chunker) mergeSmall(chunks []*types.Chunk) []*types.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	threshold := int(mergeFraction * float64(c.opts.MaxChunkSize))

	merged := make([]*types.Chunk, 0, len(chunks))
	cur := chunks[0]
	for _, next := range chunks[1:] {
		if len(cur.Content) < threshold && len(next.Content) < threshold {
			cur = c.newChunk(
				cur.Content+"\n\n"+next.Content,
				cur.StartLine, next.EndLine, cur.Language, cur.Kind, cur.Metadata,
			)
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// declKind maps a Go top-level declaration to a chunk kind.
func declKind(decl ast.Decl) types.ChunkKind {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return types.ChunkFunction
	case *ast.GenDecl:
		if d.Tok == token.TYPE {
			return types.ChunkClass
		}
		return types.ChunkModule
	default:
		return types.ChunkBlock
	}
}

func declDoc(decl ast.Decl) *ast.CommentGroup {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return d.Doc
	case *ast.GenDecl:
		return d.Doc
	}
	return nil
}

// goFileContext renders the package clause and import list, the
// surrounding context recorded on semantic chunks when requested.
func goFileContext(file *ast.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n", file.Name.Name)
	if len(file.Imports) > 0 {
		b.WriteString("import (\n")
		for _, imp := range file.Imports {
			if imp.Name != nil {
				fmt.Fprintf(&b, "\t%s %s\n", imp.Name.Name, imp.Path.Value)
			} else {
				fmt.Fprintf(&b, "\t%s\n", imp.Path.Value)
			}
		}
		b.WriteString(")\n")
	}
	return b.String()
}
