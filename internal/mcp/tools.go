package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/marlonsc/mcb-sub010/internal/indexer"
	"github.com/marlonsc/mcb-sub010/internal/searcher"
	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing run holds the collection lock
	ErrorCodeProviderConflict   = -32005 // Embedding provider no longer matches stored vectors
)

// handleIndex runs an incremental indexing pass over a directory tree.
func (s *Server) handleIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	if getBoolDefault(args, "force", false) {
		if err := s.store.ClearCollection(ctx, collection); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to clear collection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	src := &indexer.FSSource{
		Root:           path,
		MaxFileSize:    s.cfg.Indexer.MaxFileSizeBytes,
		FollowSymlinks: s.cfg.Indexer.FollowSymlinks,
		IgnorePatterns: s.cfg.Indexer.IgnorePatterns,
	}
	report, err := s.indexer.Index(ctx, collection, src)
	if errors.Is(err, types.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"collection": collection,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"collection":          collection,
		"files_processed":     report.FilesProcessed,
		"files_skipped":       report.FilesSkipped,
		"files_deleted":       report.FilesDeleted,
		"chunks_created":      report.ChunksCreated,
		"chunks_deduplicated": report.ChunksDeduplicated,
	}
	if len(report.Errors) > 0 {
		failures := make([]map[string]interface{}, 0, len(report.Errors))
		for i, fe := range report.Errors {
			if i == 5 {
				break
			}
			failures = append(failures, map[string]interface{}{"path": fe.Path, "error": fe.Err})
		}
		response["errors"] = failures
		response["error_count"] = len(report.Errors)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearch runs a hybrid query and returns full chunks.
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Collection:   collection,
		Query:        query,
		Limit:        limit,
		Filter:       parseFilter(args),
		AllowPartial: getBoolDefault(args, "allow_partial", false),
	})
	if errors.Is(err, types.ErrProviderConfigChanged) {
		return nil, newMCPError(ErrorCodeProviderConflict, "embedding provider does not match stored vectors; re-index the collection", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		entry := map[string]interface{}{
			"chunk_id": r.ChunkID,
			"score":    r.Score,
		}
		if r.Chunk != nil {
			entry["file_path"] = r.Chunk.FilePath
			entry["start_line"] = r.Chunk.StartLine
			entry["end_line"] = r.Chunk.EndLine
			entry["language"] = r.Chunk.Language
			entry["kind"] = string(r.Chunk.Kind)
			entry["content"] = r.Chunk.Content
		}
		results = append(results, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results":      results,
		"total":        len(results),
		"lexical_hits": resp.LexicalHits,
		"vector_hits":  resp.VectorHits,
		"duration_ms":  resp.Duration.Milliseconds(),
		"cache_hit":    resp.CacheHit,
		"degraded":     resp.Degraded,
	})), nil
}

// handleStatus reports indexing progress and stored counts.
func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}

	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to query collection", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if !exists {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"collection": collection,
			"indexed":    false,
			"message":    "Collection not indexed. Use the index tool first.",
		})), nil
	}

	stats, err := s.store.CollectionStats(ctx, collection)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to collect stats", map[string]interface{}{
			"error": err.Error(),
		})
	}
	progress := s.indexer.Status(collection)
	snapshot := s.metrics.Snapshot()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"collection": collection,
		"indexed":    true,
		"indexing": map[string]interface{}{
			"in_progress":     progress.InProgress,
			"progress":        progress.Progress,
			"current_file":    progress.CurrentFile,
			"total_files":     progress.TotalFiles,
			"processed_files": progress.ProcessedFiles,
		},
		"statistics": map[string]interface{}{
			"chunks":        stats.Chunks,
			"observations":  stats.Observations,
			"embeddings":    stats.Embeddings,
			"live_files":    stats.LiveFiles,
			"deleted_files": stats.DeletedFiles,
			"dimension":     stats.Dimension,
			"metric":        stats.Metric,
		},
		"embedder": map[string]interface{}{
			"provider":    s.embed.Get().Name(),
			"calls":       snapshot.Calls,
			"failures":    snapshot.Failures,
			"items":       snapshot.Items,
			"duration_ms": snapshot.TotalDuration.Milliseconds(),
		},
	})), nil
}

// handleClear wipes a collection.
func (s *Server) handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}
	if err := s.store.ClearCollection(ctx, collection); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear collection", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"collection": collection,
		"cleared":    true,
	})), nil
}

// handleListCollections enumerates known collections.
func (s *Server) handleListCollections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list collections", map[string]interface{}{
			"error": err.Error(),
		})
	}
	collections := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		collections = append(collections, map[string]interface{}{
			"id":         info.ID,
			"dimension":  info.Dimension,
			"metric":     info.Metric,
			"provider":   info.Provider,
			"model":      info.Model,
			"created_at": info.CreatedAt,
			"updated_at": info.UpdatedAt,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"collections": collections,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireString extracts a mandatory non-empty string argument.
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// parseFilter decodes the optional filter argument. Absent or empty
// filters yield nil.
func parseFilter(args map[string]interface{}) *types.Filter {
	raw, ok := args["filter"].(map[string]interface{})
	if !ok {
		return nil
	}
	f := &types.Filter{
		FilePattern:   getStringDefault(raw, "file_pattern", ""),
		Language:      getStringDefault(raw, "language", ""),
		Kinds:         getStringSlice(raw, "kinds"),
		Tags:          getStringSlice(raw, "tags"),
		SessionID:     getStringDefault(raw, "session_id", ""),
		Branch:        getStringDefault(raw, "branch", ""),
		Commit:        getStringDefault(raw, "commit", ""),
		CreatedAfter:  getInt64Default(raw, "created_after", 0),
		CreatedBefore: getInt64Default(raw, "created_before", 0),
		MinScore:      getFloatDefault(raw, "min_score", 0),
	}
	if f.IsZero() {
		return nil
	}
	return f
}

// validatePath checks that a path exists and is a readable directory.
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getInt64Default extracts a 64-bit integer parameter with a default value
func getInt64Default(args map[string]interface{}, key string, defaultValue int64) int64 {
	if val, ok := args[key].(float64); ok {
		return int64(val)
	}
	if val, ok := args[key].(int64); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
