// Package mcp exposes the review workflow to agent tooling over the Model
// Context Protocol: listing pending drafts, approving, rejecting and
// editing them, and inspecting thread history.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/mailpilot/internal/store"
)

// Server wraps the MCP server with the persistence surface the tools need.
type Server struct {
	server  *mcp.Server
	storage store.Storage
}

// NewServer creates a new MCP server with all review tools registered.
func NewServer(storage store.Storage) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "mailpilot",
		Version: "0.1.0",
	}, nil)

	s := &Server{
		server:  mcpServer,
		storage: storage,
	}
	s.registerTools()

	return s
}

// Run starts the MCP server on the given transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// registerTools registers all review tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_pending_drafts",
		Description: "List reply drafts awaiting review",
	}, s.handleListPendingDrafts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "approve_draft",
		Description: "Approve a pending draft for sending",
	}, s.handleApproveDraft)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reject_draft",
		Description: "Reject a pending draft so it is never sent",
	}, s.handleRejectDraft)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "edit_draft",
		Description: "Replace a pending draft's content and approve it",
	}, s.handleEditDraft)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_thread",
		Description: "Fetch the full event and decision history of a thread",
	}, s.handleGetThread)
}
