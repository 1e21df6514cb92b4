package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/config"
	"github.com/hpungsan/critique/internal/db"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/session"
)

const sampleCode = "package main\n\nfunc add(a, b int) int {\n    return a - b\n}"

const reply = "Wrong operator.\n\n```suggestion\nreturn a + b\n```\n"

// testSetup opens a SQLite-backed session answered by a scripted client.
func testSetup(t *testing.T) (*session.Session, *config.Config) {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	database, err := db.Init(filepath.Join(tmpDir, ".critique"))
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Export.AllowUnsafePaths = true // Allow temp dirs in tests

	sess, err := session.Open(context.Background(), db.NewSessionStore(database, "mcp"), "mcp", cfg,
		session.WithClient(&completion.Fake{Chunks: []string{reply}}))
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	return sess, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func loadSample(t *testing.T, h *Handlers) {
	t.Helper()
	result, _ := h.HandleDocumentLoad(context.Background(), makeRequest(map[string]any{
		"content":   sampleCode,
		"file_name": "add.go",
	}))
	parseOutput(t, result)
}

func createThread(t *testing.T, h *Handlers, args map[string]any) map[string]any {
	t.Helper()
	result, _ := h.HandleThreadCreate(context.Background(), makeRequest(args))
	out := parseOutput(t, result)
	return out["thread"].(map[string]any)
}

func TestHandleDocumentLoad(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "util.py")
	if err := os.WriteFile(path, []byte("def f():\n    pass\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantError string
		wantLang  string
	}{
		{
			name:     "inline content",
			args:     map[string]any{"content": sampleCode, "file_name": "add.go"},
			wantLang: "go",
		},
		{
			name:     "from path",
			args:     map[string]any{"path": path},
			wantLang: "python",
		},
		{
			name:     "language override",
			args:     map[string]any{"content": "x = 1", "language": "Ruby"},
			wantLang: "ruby",
		},
		{
			name:      "neither path nor content",
			args:      map[string]any{},
			wantError: "INVALID_REQUEST",
		},
		{
			name:      "missing file",
			args:      map[string]any{"path": filepath.Join(t.TempDir(), "nope.go")},
			wantError: "FILE_NOT_FOUND",
		},
		{
			name:      "wrong type",
			args:      map[string]any{"content": 42},
			wantError: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleDocumentLoad(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantError != "" {
				assertErrorCode(t, result, tt.wantError)
				return
			}
			output := parseOutput(t, result)
			if output["language"] != tt.wantLang {
				t.Errorf("language = %v, want %s", output["language"], tt.wantLang)
			}
		})
	}
}

func TestHandleDocumentGetEdit(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()
	loadSample(t, h)
	createThread(t, h, map[string]any{"start_line": 1, "end_line": 1, "action": "explain"})

	result, _ := h.HandleDocumentEdit(ctx, makeRequest(map[string]any{"code": "package lib\n"}))
	edited := parseOutput(t, result)
	if edited["line_count"] != float64(2) {
		t.Errorf("line_count = %v, want 2", edited["line_count"])
	}

	result, _ = h.HandleDocumentGet(ctx, makeRequest(nil))
	doc := parseOutput(t, result)
	if doc["code"] != "package lib\n" {
		t.Errorf("code = %q", doc["code"])
	}
	highlights := doc["highlights"].([]any)
	if len(highlights) != 1 {
		t.Fatalf("highlights = %d, want 1", len(highlights))
	}
	if status := highlights[0].(map[string]any)["status"]; status != "outdated" {
		t.Errorf("status = %v, want outdated", status)
	}
}

func TestHandleThreadLifecycle(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()
	loadSample(t, h)

	th := createThread(t, h, map[string]any{"start_line": 3, "end_line": 5, "custom_prompt": "Is this right?"})
	id := th["id"].(string)
	if th["original_code"] != "func add(a, b int) int {\n    return a - b\n}" {
		t.Errorf("original_code = %q", th["original_code"])
	}

	result, _ := h.HandleThreadList(ctx, makeRequest(map[string]any{"status": "active"}))
	list := parseOutput(t, result)
	if list["total"] != float64(1) {
		t.Errorf("total = %v, want 1", list["total"])
	}

	result, _ = h.HandleThreadReselect(ctx, makeRequest(map[string]any{"thread_id": id, "start_line": 4, "end_line": 4}))
	reselected := parseOutput(t, result)
	if reselected["original_code"] != "    return a - b" {
		t.Errorf("original_code = %q", reselected["original_code"])
	}

	result, _ = h.HandleThreadResolve(ctx, makeRequest(map[string]any{"thread_id": id}))
	resolved := parseOutput(t, result)
	if resolved["status"] != "resolved" {
		t.Errorf("status = %v, want resolved", resolved["status"])
	}

	result, _ = h.HandleThreadFollowUp(ctx, makeRequest(map[string]any{"thread_id": id, "message": "and now?"}))
	assertErrorCode(t, result, "THREAD_RESOLVED")

	result, _ = h.HandleThreadDelete(ctx, makeRequest(map[string]any{"thread_id": id}))
	deleted := parseOutput(t, result)
	if deleted["deleted"] != true {
		t.Errorf("deleted = %v, want true", deleted["deleted"])
	}

	result, _ = h.HandleThreadGet(ctx, makeRequest(map[string]any{"thread_id": id}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleThreadCreate_Errors(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()
	loadSample(t, h)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"past end", map[string]any{"start_line": 4, "end_line": 9, "action": "bugs"}, "INVALID_RANGE"},
		{"inverted", map[string]any{"start_line": 3, "end_line": 2, "action": "bugs"}, "INVALID_RANGE"},
		{"fractional", map[string]any{"start_line": 1.5, "end_line": 2, "action": "bugs"}, "INVALID_REQUEST"},
		{"unknown action", map[string]any{"start_line": 1, "end_line": 2, "action": "rewrite"}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := h.HandleThreadCreate(ctx, makeRequest(tt.args))
			assertErrorCode(t, result, tt.want)
		})
	}
}

func TestHandleReviewAndApply(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()
	loadSample(t, h)

	th := createThread(t, h, map[string]any{"start_line": 4, "end_line": 4, "action": "bugs"})
	id := th["id"].(string)

	result, _ := h.HandleThreadReview(ctx, makeRequest(map[string]any{"thread_id": id, "action": "bugs"}))
	review := parseOutput(t, result)
	suggestions := review["suggestions"].([]any)
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}
	ref := map[string]any{
		"thread_id":     id,
		"message_id":    review["message_id"],
		"suggestion_id": suggestions[0].(map[string]any)["id"],
	}

	result, _ = h.HandleSuggestionDiff(ctx, makeRequest(ref))
	diff := parseOutput(t, result)
	if diff["unified"] != "-    return a - b\n+    return a + b\n" {
		t.Errorf("unified = %q", diff["unified"])
	}

	result, _ = h.HandleSuggestionApply(ctx, makeRequest(ref))
	applied := parseOutput(t, result)
	if applied["line_count"] != float64(5) {
		t.Errorf("line_count = %v, want 5", applied["line_count"])
	}
	if !strings.Contains(sess.Store.Snapshot().Document.Code, "return a + b") {
		t.Error("suggestion was not spliced into the document")
	}

	result, _ = h.HandleSuggestionApply(ctx, makeRequest(ref))
	assertErrorCode(t, result, "ALREADY_APPLIED")
}

func TestHandleThreadCreate_WithReview(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	loadSample(t, h)

	result, _ := h.HandleThreadCreate(context.Background(), makeRequest(map[string]any{
		"start_line": 4, "end_line": 4, "action": "improve", "review": true,
	}))
	output := parseOutput(t, result)
	review, ok := output["review"].(map[string]any)
	if !ok {
		t.Fatal("expected review in output")
	}
	if review["content"] != reply {
		t.Errorf("content = %q", review["content"])
	}
}

func TestHandleExportImportClear(t *testing.T) {
	sess, _ := testSetup(t)
	h := NewHandlers(sess)
	ctx := context.Background()
	loadSample(t, h)
	createThread(t, h, map[string]any{"start_line": 1, "end_line": 1, "action": "explain"})

	path := filepath.Join(t.TempDir(), "backup.json")
	result, _ := h.HandleSessionExport(ctx, makeRequest(map[string]any{"path": path}))
	exported := parseOutput(t, result)
	if exported["format"] != "json" {
		t.Errorf("format = %v, want json", exported["format"])
	}

	result, _ = h.HandleSessionClear(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleSessionClear(ctx, makeRequest(map[string]any{"confirm": true}))
	cleared := parseOutput(t, result)
	if cleared["threads_removed"] != float64(1) {
		t.Errorf("threads_removed = %v, want 1", cleared["threads_removed"])
	}

	result, _ = h.HandleSessionImport(ctx, makeRequest(map[string]any{"path": path}))
	imported := parseOutput(t, result)
	if imported["threads"] != float64(1) {
		t.Errorf("threads = %v, want 1", imported["threads"])
	}
	if sess.Store.Snapshot().Document.Code != sampleCode {
		t.Error("document not restored by import")
	}

	mdPath := filepath.Join(t.TempDir(), "review.md")
	result, _ = h.HandleSessionExport(ctx, makeRequest(map[string]any{"path": mdPath, "format": "markdown"}))
	parseOutput(t, result)
	data, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "## Thread 1: Lines 1-1") {
		t.Errorf("markdown export missing thread heading:\n%s", data)
	}
}

func TestServerRegistration(t *testing.T) {
	sess, _ := testSetup(t)

	s := NewServer(sess, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"document_load",
		"document_get",
		"document_edit",
		"thread_create",
		"thread_list",
		"thread_get",
		"thread_reselect",
		"thread_resolve",
		"thread_delete",
		"thread_review",
		"thread_followup",
		"suggestion_apply",
		"suggestion_diff",
		"session_export",
		"session_import",
		"session_clear",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	sess, cfg := testSetup(t)

	cfg.MCP.DisabledTools = []string{"session_clear", "thread_delete", "session_import"}
	s := NewServer(sess, "test")
	tools := s.ListTools()

	if len(tools) != 13 {
		t.Errorf("registered tool count = %d, want 13", len(tools))
	}

	for _, name := range cfg.MCP.DisabledTools {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	for _, name := range []string{"document_load", "thread_create", "thread_review"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	sess, cfg := testSetup(t)

	cfg.MCP.DisabledTools = AllToolNames()
	s := NewServer(sess, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestServerRegistration_DuplicateDisabled(t *testing.T) {
	sess, cfg := testSetup(t)

	cfg.MCP.DisabledTools = []string{"session_clear", "session_clear", "session_clear"}
	s := NewServer(sess, "test")
	tools := s.ListTools()

	if len(tools) != 15 {
		t.Errorf("registered tool count = %d, want 15", len(tools))
	}
	if _, ok := tools["session_clear"]; ok {
		t.Error("disabled tool 'session_clear' should not be registered")
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{
			name:    "all valid",
			input:   []string{"session_clear", "thread_delete"},
			wantLen: 0,
		},
		{
			name:    "one unknown",
			input:   []string{"session_clear", "thread_rename"},
			wantLen: 1,
		},
		{
			name:    "all unknown",
			input:   []string{"foo", "bar", "baz"},
			wantLen: 3,
		},
		{
			name:    "empty list",
			input:   []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 16 {
		t.Errorf("AllToolNames() returned %d names, want 16", len(names))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
	if names[0] != "document_edit" {
		t.Errorf("names not sorted: %v", names)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatal("expected INTERNAL message to hide the cause")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("thread 2: %w", errors.NewThreadResolved("t2"))

	errObj := errorObject(t, errorResult(wrappedErr))

	if errObj["code"] != string(errors.ErrThreadResolved) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrThreadResolved)
	}
	msg := errObj["message"].(string)
	if !strings.Contains(msg, "thread 2") {
		t.Errorf("message should contain wrapper context 'thread 2', got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewInvalidRange(4, 9, 5)))

	if errObj["code"] != string(errors.ErrInvalidRange) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInvalidRange)
	}
	details, ok := errObj["details"].(map[string]any)
	if !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
	if details["line_count"] != float64(5) {
		t.Errorf("line_count = %v, want 5", details["line_count"])
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Errorf("code=%v, want INTERNAL", errObj["code"])
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error %s, got success: %s", expectedCode, extractErrorMessage(result))
		return
	}
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
