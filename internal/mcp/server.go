package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/marlonsc/mcb-sub010/internal/chunker"
	"github.com/marlonsc/mcb-sub010/internal/config"
	"github.com/marlonsc/mcb-sub010/internal/embedder"
	"github.com/marlonsc/mcb-sub010/internal/fuser"
	"github.com/marlonsc/mcb-sub010/internal/indexer"
	"github.com/marlonsc/mcb-sub010/internal/memory"
	"github.com/marlonsc/mcb-sub010/internal/searcher"
	"github.com/marlonsc/mcb-sub010/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "mcb-context"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the engine's components. It owns the
// storage handle and closes it when Serve returns.
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	store    storage.Store
	embed    *embedder.Handle
	metrics  *embedder.Metrics
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	memory   *memory.Service
}

// NewServer wires the full engine from a validated config and registers
// the tool surface.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".mcb", "mcb.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(dbPath, storage.Options{
		Metric:       cfg.Vector.Metric,
		KeepCompound: cfg.Lexical.KeepCompound,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	provider, err := embedder.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	metrics := &embedder.Metrics{}
	// One handle shared by indexer, searcher, and memory so all three see
	// the same provider and its cache.
	handle := embedder.NewHandle(embedder.WithMetrics(provider, metrics))

	chunkOpts := chunkerOptions(cfg)
	idx := indexer.New(store, handle, chunkOpts, indexer.Config{EmbedBatch: cfg.Embedding.BatchMax})

	fuseCfg := fuser.Config{
		WeightLex: cfg.Hybrid.WeightLex,
		WeightVec: cfg.Hybrid.WeightVec,
		C:         int(cfg.Hybrid.RRFC),
	}
	srch := searcher.New(store, handle, searcher.Config{
		WeightLex: cfg.Hybrid.WeightLex,
		WeightVec: cfg.Hybrid.WeightVec,
		RRFC:      int(cfg.Hybrid.RRFC),
	})
	mem := memory.New(store, handle, idx, fuseCfg)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		cfg:      cfg,
		store:    store,
		embed:    handle,
		metrics:  metrics,
		indexer:  idx,
		searcher: srch,
		memory:   mem,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdio and blocks until the transport
// closes.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexTool(), s.handleIndex)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(statusTool(), s.handleStatus)
	s.mcp.AddTool(clearTool(), s.handleClear)
	s.mcp.AddTool(listCollectionsTool(), s.handleListCollections)
	s.mcp.AddTool(memoryStoreTool(), s.handleMemoryStore)
	s.mcp.AddTool(memorySearchTool(), s.handleMemorySearch)
	s.mcp.AddTool(memoryTimelineTool(), s.handleMemoryTimeline)
	s.mcp.AddTool(memoryGetTool(), s.handleMemoryGet)
}

func chunkerOptions(cfg *config.Config) chunker.Options {
	return chunker.Options{
		MaxChunkSize:     cfg.Indexer.MaxChunkSize,
		MaxChunksPerFile: cfg.Indexer.MaxChunksPerFile,
	}
}
