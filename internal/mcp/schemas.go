package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// filterSchema is the shared shape of the optional filter argument.
func filterSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional predicates to narrow results",
		"properties": map[string]interface{}{
			"file_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob over file paths (e.g. 'internal/*')",
			},
			"language": map[string]interface{}{
				"type":        "string",
				"description": "Language tag (e.g. 'go', 'python')",
			},
			"kinds": map[string]interface{}{
				"type":        "array",
				"description": "Chunk or observation kinds",
				"items":       map[string]interface{}{"type": "string"},
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"description": "Observation tags, any-of",
				"items":       map[string]interface{}{"type": "string"},
			},
			"session_id": map[string]interface{}{"type": "string"},
			"branch":     map[string]interface{}{"type": "string"},
			"commit":     map[string]interface{}{"type": "string"},
			"created_after": map[string]interface{}{
				"type":        "integer",
				"description": "Unix milliseconds, inclusive lower bound",
			},
			"created_before": map[string]interface{}{
				"type":        "integer",
				"description": "Unix milliseconds, inclusive upper bound",
			},
			"min_score": map[string]interface{}{
				"type":        "number",
				"description": "Minimum fused relevance score (0.0-1.0)",
				"minimum":     0.0,
				"maximum":     1.0,
			},
		},
	}
}

func collectionProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Collection identifier (opaque string)",
	}
}

func indexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index",
		Description: "Index a directory tree into a collection, incrementally: unchanged files are skipped, deleted files are swept",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, clear the collection first and rebuild from scratch",
					"default":     false,
				},
			},
			Required: []string{"collection", "path"},
		},
	}
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Hybrid search over a collection: BM25 keyword matching fused with vector similarity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or keyword query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"allow_partial": map[string]interface{}{
					"type":        "boolean",
					"description": "Return results from the surviving retrieval path when one path fails, instead of an error",
					"default":     false,
				},
				"filter": filterSchema(),
			},
			Required: []string{"collection", "query"},
		},
	}
}

func statusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "status",
		Description: "Report indexing progress and stored counts for a collection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
			},
			Required: []string{"collection"},
		},
	}
}

func clearTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear",
		Description: "Delete all chunks, observations, vectors and file hashes of a collection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
			},
			Required: []string{"collection"},
		},
	}
}

func listCollectionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_collections",
		Description: "List known collections with their embedding configuration",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func memoryStoreTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_store",
		Description: "Store one observation; byte-identical content in the collection is deduplicated",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Observation text",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Observation kind",
					"enum": []string{
						"code", "decision", "context", "error",
						"summary", "execution", "quality_gate",
					},
				},
				"tags": map[string]interface{}{
					"type":        "array",
					"description": "Short labels, insertion order is preserved",
					"items":       map[string]interface{}{"type": "string"},
				},
				"metadata": map[string]interface{}{
					"type":        "object",
					"description": "Session context",
					"properties": map[string]interface{}{
						"session_id": map[string]interface{}{"type": "string"},
						"branch":     map[string]interface{}{"type": "string"},
						"commit":     map[string]interface{}{"type": "string"},
						"file_path":  map[string]interface{}{"type": "string"},
						"execution":  map[string]interface{}{"type": "string"},
					},
				},
			},
			Required: []string{"collection", "content", "kind"},
		},
	}
}

func memorySearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_search",
		Description: "Hybrid search over observations, returning compact index entries with previews instead of full content",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or keyword query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum entries (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filter": filterSchema(),
			},
			Required: []string{"collection", "query"},
		},
	}
}

func memoryTimelineTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_timeline",
		Description: "Fetch observations around an anchor, ordered by created_at ascending; without an anchor, the most recent observations",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"anchor_id": map[string]interface{}{
					"type":        "string",
					"description": "Observation ID at the center of the window; omit to list the newest observations",
				},
				"before": map[string]interface{}{
					"type":        "integer",
					"description": "Observations preceding the anchor",
					"default":     5,
					"minimum":     0,
				},
				"after": map[string]interface{}{
					"type":        "integer",
					"description": "Observations following the anchor",
					"default":     5,
					"minimum":     0,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum observations when no anchor is given (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filter": filterSchema(),
			},
			Required: []string{"collection"},
		},
	}
}

func memoryGetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch full observations by ID, preserving request order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": collectionProperty(),
				"ids": map[string]interface{}{
					"type":        "array",
					"description": "Observation IDs",
					"items":       map[string]interface{}{"type": "string"},
				},
			},
			Required: []string{"collection", "ids"},
		},
	}
}
