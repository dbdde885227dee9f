package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/synaptic/internal/chat"
	"github.com/kalambet/synaptic/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Chat  *chat.Service
}

// NewMCPServer creates an MCP server exposing the document library and
// chat over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"synaptic",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("synaptic — learning content backend: uploaded documents, generated study artifacts, and grounded Q&A."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Ask a question about an uploaded document. Answers are grounded in the document via direct context or retrieval."),
			mcp.WithString("document_id", mcp.Description("Document to ask about"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
		),
		mcpAskDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their indexing state."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 20)")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_artifacts",
			mcp.WithDescription("List generated study artifacts for a document, most recent first."),
			mcp.WithString("document_id", mcp.Description("Document whose artifacts to list"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Optional filter: mind_map, podcast, or summary")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of artifacts (default 10)")),
		),
		mcpListArtifacts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_artifact",
			mcp.WithDescription("Fetch one artifact's full content by id."),
			mcp.WithString("artifact_id", mcp.Description("Artifact id"), mcp.Required()),
		),
		mcpGetArtifact(deps),
	)

	return s
}

func mcpAskDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		conv := chat.NewConversation(documentID)
		answer, err := deps.Chat.Ask(ctx, conv, question)
		if errors.Is(err, chat.ErrIndexMissing) {
			return mcpError("no chunk index for this document; re-index it and retry"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		docs, err := deps.Store.ListDocuments(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		resp := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			resp[i] = docResponse(d, false)
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListArtifacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		kind := req.GetString("kind", "")
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}

		artifacts, err := deps.Store.ListArtifacts(documentID, kind, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list artifacts: %v", err)), nil
		}

		// Content bodies stay out of the listing; get_artifact fetches one.
		type artifactStub struct {
			ID        string `json:"id"`
			Kind      string `json:"kind"`
			CreatedAt string `json:"created_at"`
		}
		stubs := make([]artifactStub, len(artifacts))
		for i, a := range artifacts {
			stubs[i] = artifactStub{ID: a.ID, Kind: a.Kind, CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
		}
		b, err := json.Marshal(stubs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal artifacts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetArtifact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("artifact_id")
		if err != nil {
			return mcpError("artifact_id is required"), nil
		}

		a, err := deps.Store.GetArtifact(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("artifact not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load artifact: %v", err)), nil
		}

		b, err := json.Marshal(artifactResponse(a))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal artifact: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
