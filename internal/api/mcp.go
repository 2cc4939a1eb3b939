package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/session"
)

// MCPDesk is the slice of the desk the MCP server needs.
type MCPDesk interface {
	CurrentUser(ctx context.Context) (*session.User, error)
	Documents(u *session.User, query, category string) ([]catalog.Document, error)
	Stats(u *session.User) (catalog.Stats, error)
	Ask(ctx context.Context, u *session.User, text string) (conversation.Message, error)
}

// MCPDeps holds dependencies for the MCP server. Tools act as whoever is
// signed in through the CLI.
type MCPDeps struct {
	Desk    MCPDesk
	Version string
}

// NewMCPServer creates an MCP server with the kbdesk tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"kbdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kbdesk: university knowledge base. Search the document catalog or ask the knowledge base a question."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Search the document catalog by name, category or description."),
			mcp.WithString("query", mcp.Description("Case-insensitive search text"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Only return documents in this exact category")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List catalog documents, most recent first."),
			mcp.WithString("category", mcp.Description("Only return documents in this exact category")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_stats",
			mcp.WithDescription("Totals, size, category breakdown and uploads in the last seven days."),
		),
		mcpDocumentStats(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the knowledge base a question. The answer and its sources are returned and recorded in the user's history."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://stats",
			"Catalog Statistics",
			mcp.WithResourceDescription("Document catalog statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		u, res := mcpUser(ctx, deps)
		if res != nil {
			return res, nil
		}

		docs, err := deps.Desk.Documents(u, query, req.GetString("category", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(docs)
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		u, res := mcpUser(ctx, deps)
		if res != nil {
			return res, nil
		}

		docs, err := deps.Desk.Documents(u, "", req.GetString("category", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if len(docs) > limit {
			docs = docs[:limit]
		}
		return mcpJSON(docs)
	}
}

func mcpDocumentStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		u, res := mcpUser(ctx, deps)
		if res != nil {
			return res, nil
		}

		stats, err := deps.Desk.Stats(u)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(stats)
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		u, res := mcpUser(ctx, deps)
		if res != nil {
			return res, nil
		}

		msg, err := deps.Desk.Ask(ctx, u, question)
		if err != nil {
			if msg.Role == conversation.RoleError {
				return mcpError(msg.Content), nil
			}
			return mcpError(err.Error()), nil
		}

		type answer struct {
			Answer  string   `json:"answer"`
			Sources []string `json:"sources"`
		}
		sources := msg.Sources
		if sources == nil {
			sources = []string{}
		}
		return mcpJSON(answer{Answer: msg.Content, Sources: sources})
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		u, err := deps.Desk.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		stats, err := deps.Desk.Stats(u)
		if err != nil {
			return nil, err
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// mcpUser resolves the session user, or returns the tool result to send
// back when nobody is signed in.
func mcpUser(ctx context.Context, deps MCPDeps) (*session.User, *mcp.CallToolResult) {
	u, err := deps.Desk.CurrentUser(ctx)
	if err != nil {
		return nil, mcpError(fmt.Sprintf("failed to read session: %v", err))
	}
	if u == nil {
		return nil, mcpError("not signed in: run `kbdesk signin` first")
	}
	return u, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
