package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/ops"
	"github.com/hpungsan/critique/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sess *session.Session
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sess *session.Session) *Handlers {
	return &Handlers{sess: sess}
}

// Request types for each tool

// DocumentLoadRequest represents the arguments for document_load.
type DocumentLoadRequest struct {
	Path     string  `json:"path,omitempty"`
	Content  *string `json:"content,omitempty"`
	FileName string  `json:"file_name,omitempty"`
	Language string  `json:"language,omitempty"`
}

// DocumentEditRequest represents the arguments for document_edit.
type DocumentEditRequest struct {
	Code string `json:"code"`
}

// ThreadCreateRequest represents the arguments for thread_create.
type ThreadCreateRequest struct {
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	Action       string `json:"action,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
	Review       bool   `json:"review,omitempty"`
}

// ThreadListRequest represents the arguments for thread_list.
type ThreadListRequest struct {
	Status string `json:"status,omitempty"`
}

// ThreadRequest addresses one thread.
type ThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

// ThreadReselectRequest represents the arguments for thread_reselect.
type ThreadReselectRequest struct {
	ThreadID  string `json:"thread_id"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// ThreadReviewRequest represents the arguments for thread_review.
type ThreadReviewRequest struct {
	ThreadID     string `json:"thread_id"`
	Action       string `json:"action,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// ThreadFollowUpRequest represents the arguments for thread_followup.
type ThreadFollowUpRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// SuggestionRequest addresses one suggestion.
type SuggestionRequest struct {
	ThreadID     string `json:"thread_id"`
	MessageID    string `json:"message_id"`
	SuggestionID string `json:"suggestion_id"`
}

// ExportRequest represents the arguments for session_export.
type ExportRequest struct {
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// ImportRequest represents the arguments for session_import.
type ImportRequest struct {
	Path string `json:"path"`
}

// ClearRequest represents the arguments for session_clear.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// Handler implementations

// HandleDocumentLoad handles the document_load tool call.
func (h *Handlers) HandleDocumentLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentLoadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.LoadDocument(ctx, h.sess, ops.LoadDocumentInput{
		Path:     input.Path,
		Content:  input.Content,
		FileName: input.FileName,
		Language: input.Language,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDocumentGet handles the document_get tool call.
func (h *Handlers) HandleDocumentGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.GetDocument(h.sess))
}

// HandleDocumentEdit handles the document_edit tool call.
func (h *Handlers) HandleDocumentEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentEditRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.EditDocument(ctx, h.sess, ops.EditDocumentInput{Code: input.Code})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadCreate handles the thread_create tool call.
func (h *Handlers) HandleThreadCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreateThread(ctx, h.sess, ops.CreateThreadInput{
		StartLine:    input.StartLine,
		EndLine:      input.EndLine,
		Action:       input.Action,
		CustomPrompt: input.CustomPrompt,
		Review:       input.Review,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadList handles the thread_list tool call.
func (h *Handlers) HandleThreadList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListThreads(h.sess, ops.ListThreadsInput{Status: input.Status})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadGet handles the thread_get tool call.
func (h *Handlers) HandleThreadGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetThread(h.sess, input.ThreadID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadReselect handles the thread_reselect tool call.
func (h *Handlers) HandleThreadReselect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadReselectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ReselectThread(ctx, h.sess, ops.ReselectThreadInput{
		ThreadID:  input.ThreadID,
		StartLine: input.StartLine,
		EndLine:   input.EndLine,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadResolve handles the thread_resolve tool call.
func (h *Handlers) HandleThreadResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ResolveThread(ctx, h.sess, input.ThreadID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadDelete handles the thread_delete tool call.
func (h *Handlers) HandleThreadDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteThread(ctx, h.sess, input.ThreadID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadReview handles the thread_review tool call.
func (h *Handlers) HandleThreadReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadReviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Review(ctx, h.sess, ops.ReviewInput{
		ThreadID:     input.ThreadID,
		Action:       input.Action,
		CustomPrompt: input.CustomPrompt,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleThreadFollowUp handles the thread_followup tool call.
func (h *Handlers) HandleThreadFollowUp(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadFollowUpRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.FollowUp(ctx, h.sess, ops.FollowUpInput{
		ThreadID: input.ThreadID,
		Message:  input.Message,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSuggestionApply handles the suggestion_apply tool call.
func (h *Handlers) HandleSuggestionApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SuggestionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ApplySuggestion(ctx, h.sess, suggestionRef(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSuggestionDiff handles the suggestion_diff tool call.
func (h *Handlers) HandleSuggestionDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SuggestionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SuggestionDiff(h.sess, suggestionRef(input))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionExport handles the session_export tool call.
func (h *Handlers) HandleSessionExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.sess, ops.ExportInput{
		Path:   input.Path,
		Format: ops.ExportFormat(input.Format),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionImport handles the session_import tool call.
func (h *Handlers) HandleSessionImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.sess, ops.ImportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionClear handles the session_clear tool call.
func (h *Handlers) HandleSessionClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Clear(ctx, h.sess, ops.ClearInput{Confirm: input.Confirm})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

func suggestionRef(r SuggestionRequest) ops.SuggestionRef {
	return ops.SuggestionRef{ThreadID: r.ThreadID, MessageID: r.MessageID, SuggestionID: r.SuggestionID}
}

// Result helpers

// errorResult creates an MCP error result from any error, with IsError set
// so clients see the failure. INTERNAL errors carry no details.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr := errors.As(err); cErr != nil {
		message := cErr.Message
		// keep context added by wrapping, e.g. "items[2]: ..."
		if prefix := strings.TrimSuffix(err.Error(), cErr.Error()); prefix != err.Error() && prefix != "" {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": message,
			"status":  cErr.Status,
		}
		if cErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
