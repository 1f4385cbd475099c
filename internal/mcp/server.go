package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docqa/internal/jobs"
	"github.com/bull/docqa/internal/memory"
	"github.com/bull/docqa/internal/metastore"
	"github.com/bull/docqa/internal/retriever"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies. Owner scopes every tool call: one
// server instance serves one library owner.
type Config struct {
	Store     *metastore.Store
	Retriever *retriever.Retriever
	Scheduler *jobs.Scheduler
	Memory    *memory.Manager
	Owner     string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "docqa-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_library",
		Description: "Search the document library semantically and return ranked sources plus a context block to ground an answer on. Optionally scoped to documents or a collection, and tied to a conversation session.",
	}, makeAskHandler(cfg.Retriever, cfg.Store, cfg.Memory, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_index",
		Description: "Start background indexing for one document or a batch. Returns a job id immediately; poll get_job_status for progress.",
	}, makeSubmitIndexHandler(cfg.Scheduler, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Get an indexing job's status, progress percentage, and final result counts.",
	}, makeJobStatusHandler(cfg.Scheduler, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Request cancellation of a pending or running indexing job. Advisory: work already dispatched may still complete.",
	}, makeCancelJobHandler(cfg.Scheduler, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List all documents in the library.",
	}, makeListDocumentsHandler(cfg.Store, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "log_message",
		Description: "Record a conversation message (user or assistant turn) in a session so summarization sees the full exchange.",
	}, makeLogMessageHandler(cfg.Store, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "maintain_conversation",
		Description: "Run a summary maintenance pass over a conversation session. Idempotent; safe to call after every turn.",
	}, makeMaintainHandler(cfg.Memory, cfg.Store, cfg.Owner))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
