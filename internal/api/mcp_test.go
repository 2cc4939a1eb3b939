package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/desk"
	"github.com/kalambet/kbdesk/internal/kbclient"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, signIn bool) (MCPDeps, *desk.Desk, *fakeKB) {
	t.Helper()
	d, kb := newTestDesk(t)
	if signIn {
		if _, err := d.SignIn(context.Background(), "admin@uol.edu.pk", "admin123"); err != nil {
			t.Fatalf("SignIn: %v", err)
		}
	}
	return MCPDeps{Desk: d, Version: "test"}, d, kb
}

func seedDocs(t *testing.T, d *desk.Desk, names ...string) {
	t.Helper()
	u, err := d.CurrentUser(context.Background())
	if err != nil || u == nil {
		t.Fatalf("no current user: %v", err)
	}
	for _, n := range names {
		_, err := d.Upload(context.Background(), u, desk.UploadRequest{
			Filename: n,
			Content:  strings.NewReader("x"),
			Category: "Admissions",
		})
		if err != nil {
			t.Fatalf("Upload(%s): %v", n, err)
		}
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SearchDocuments(t *testing.T) {
	deps, d, _ := newTestMCPDeps(t, true)
	seedDocs(t, d, "admission-policy.pdf", "fee-structure.pdf")

	result, err := mcpSearchDocuments(deps)(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"query": "ADMISSION",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var docs []catalog.Document
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	// Both match on category "Admissions"; only one by name.
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
}

func TestMCPTool_SearchDocuments_MissingQuery(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)

	result, err := mcpSearchDocuments(deps)(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_ListDocuments_Limit(t *testing.T) {
	deps, d, _ := newTestMCPDeps(t, true)
	seedDocs(t, d, "a.pdf", "b.pdf", "c.pdf")

	result, err := mcpListDocuments(deps)(context.Background(), makeCallToolRequest("list_documents", map[string]interface{}{
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var docs []catalog.Document
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].Name != "c.pdf" {
		t.Errorf("first doc = %s, want most recent c.pdf", docs[0].Name)
	}
}

func TestMCPTool_ListDocuments_Empty(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)

	result, err := mcpListDocuments(deps)(context.Background(), makeCallToolRequest("list_documents", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_DocumentStats(t *testing.T) {
	deps, d, _ := newTestMCPDeps(t, true)
	seedDocs(t, d, "a.pdf", "b.pdf")

	result, err := mcpDocumentStats(deps)(context.Background(), makeCallToolRequest("document_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats catalog.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if stats.TotalDocuments != 2 || stats.RecentUploads != 2 || stats.Categories != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "When do classes start?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var ans struct {
		Answer  string   `json:"answer"`
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &ans); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ans.Answer != "Classes start in September." {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "calendar.pdf" {
		t.Errorf("sources = %v", ans.Sources)
	}
}

func TestMCPTool_Ask_BackendFailure(t *testing.T) {
	deps, _, kb := newTestMCPDeps(t, true)
	kb.queryErr = &kbclient.Error{Op: "retrieve", Message: kbclient.MsgQueryFailed, Status: 500}

	result, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "Fees?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := toolText(t, result); text != kbclient.MsgQueryFailed {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_NotSignedIn(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, false)

	result, err := mcpDocumentStats(deps)(context.Background(), makeCallToolRequest("document_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "not signed in") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPResource_Stats(t *testing.T) {
	deps, d, _ := newTestMCPDeps(t, true)
	seedDocs(t, d, "a.pdf")

	contents, err := mcpResourceStats(deps)(context.Background(), makeReadResourceRequest("catalog://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "catalog://stats" || tc.MIMEType != "application/json" {
		t.Errorf("unexpected resource metadata: %+v", tc)
	}
	var stats catalog.Stats
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if stats.TotalDocuments != 1 {
		t.Errorf("TotalDocuments = %d, want 1", stats.TotalDocuments)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, false)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
