package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/marlonsc/mcb-sub010/pkg/types"
)

// handleMemoryStore stores one observation and reports whether it was
// deduplicated.
func (s *Server) handleMemoryStore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}
	kind, err := requireString(args, "kind")
	if err != nil {
		return nil, err
	}
	if !types.ValidObservationKind(types.ObservationKind(kind)) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid observation kind", map[string]interface{}{
			"param": "kind",
			"value": kind,
		})
	}

	obs := &types.Observation{
		Collection: collection,
		Content:    content,
		Kind:       types.ObservationKind(kind),
		Tags:       getStringSlice(args, "tags"),
	}
	if meta, ok := args["metadata"].(map[string]interface{}); ok {
		obs.Metadata = types.ObservationMeta{
			SessionID: getStringDefault(meta, "session_id", ""),
			Branch:    getStringDefault(meta, "branch", ""),
			Commit:    getStringDefault(meta, "commit", ""),
			FilePath:  getStringDefault(meta, "file_path", ""),
			Execution: getStringDefault(meta, "execution", ""),
		}
	}

	id, dedup, err := s.memory.Store(ctx, obs)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to store observation", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":           id,
		"deduplicated": dedup,
	})), nil
}

// handleMemorySearch returns compact index entries for a query.
func (s *Server) handleMemorySearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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

	entries, err := s.memory.Search(ctx, collection, query, parseFilter(args), limit)
	if errors.Is(err, types.ErrProviderConfigChanged) {
		return nil, newMCPError(ErrorCodeProviderConflict, "embedding provider does not match stored vectors; re-index the collection", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "memory search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"id":         e.ID,
			"kind":       string(e.Kind),
			"tags":       e.Tags,
			"score":      e.Score,
			"preview":    e.Preview,
			"session_id": e.SessionID,
			"branch":     e.Branch,
			"file_path":  e.FilePath,
			"created_at": e.CreatedAt,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"entries": out,
		"total":   len(out),
	})), nil
}

// handleMemoryTimeline returns the observation window around an anchor,
// or the most recent observations when no anchor is given.
func (s *Server) handleMemoryTimeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}

	var window []*types.Observation
	if anchorID := getStringDefault(args, "anchor_id", ""); anchorID != "" {
		before := getIntDefault(args, "before", 5)
		after := getIntDefault(args, "after", 5)
		if before < 0 || after < 0 {
			return nil, newMCPError(ErrorCodeInvalidParams, "before and after must be non-negative", nil)
		}
		window, err = s.memory.Timeline(ctx, collection, anchorID, before, after, parseFilter(args))
	} else {
		limit := getIntDefault(args, "limit", 10)
		if limit < 1 || limit > 100 {
			return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
				"param": "limit",
				"value": limit,
			})
		}
		window, err = s.memory.Recent(ctx, collection, parseFilter(args), limit)
		// Recent lists newest first; the tool promises ascending order.
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "timeline failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"observations": encodeObservations(window),
		"total":        len(window),
	})), nil
}

// handleMemoryGet fetches full observations by ID.
func (s *Server) handleMemoryGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	collection, err := requireString(args, "collection")
	if err != nil {
		return nil, err
	}
	ids := getStringSlice(args, "ids")
	if len(ids) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "ids parameter is required", map[string]interface{}{
			"param":  "ids",
			"reason": "missing or empty",
		})
	}

	observations, err := s.memory.GetByIDs(ctx, collection, ids)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to fetch observations", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"observations": encodeObservations(observations),
		"total":        len(observations),
	})), nil
}

func encodeObservations(observations []*types.Observation) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(observations))
	for _, o := range observations {
		entry := map[string]interface{}{
			"id":         o.ID,
			"kind":       string(o.Kind),
			"content":    o.Content,
			"tags":       o.Tags,
			"created_at": o.CreatedAt,
		}
		meta := map[string]interface{}{}
		if o.Metadata.SessionID != "" {
			meta["session_id"] = o.Metadata.SessionID
		}
		if o.Metadata.Branch != "" {
			meta["branch"] = o.Metadata.Branch
		}
		if o.Metadata.Commit != "" {
			meta["commit"] = o.Metadata.Commit
		}
		if o.Metadata.FilePath != "" {
			meta["file_path"] = o.Metadata.FilePath
		}
		if o.Metadata.Execution != "" {
			meta["execution"] = o.Metadata.Execution
		}
		if len(meta) > 0 {
			entry["metadata"] = meta
		}
		out = append(out, entry)
	}
	return out
}
