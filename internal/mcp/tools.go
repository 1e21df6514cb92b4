package mcp

import "github.com/mark3labs/mcp-go/mcp"

var documentLoadToolDef = mcp.NewTool("document_load",
	mcp.WithDescription("Load a file or inline text as the document under review. Existing threads are kept and marked outdated where their code changed."),
	mcp.WithString("path", mcp.Description("File to read. Mutually exclusive with content.")),
	mcp.WithString("content", mcp.Description("Inline document text. Mutually exclusive with path.")),
	mcp.WithString("file_name", mcp.Description("Display name; used for language detection and export names.")),
	mcp.WithString("language", mcp.Description("Override the detected language tag.")),
)

var documentGetToolDef = mcp.NewTool("document_get",
	mcp.WithDescription("Return the document text, language, line count and thread highlights."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var documentEditToolDef = mcp.NewTool("document_edit",
	mcp.WithDescription("Replace the document text as an edit. Threads whose code changed become outdated."),
	mcp.WithString("code", mcp.Required(), mcp.Description("The new document text.")),
)

var threadCreateToolDef = mcp.NewTool("thread_create",
	mcp.WithDescription("Start a review thread on a 1-indexed inclusive line range. With review=true the assistant reply is generated before returning."),
	mcp.WithNumber("start_line", mcp.Required(), mcp.Description("First line, 1-indexed.")),
	mcp.WithNumber("end_line", mcp.Required(), mcp.Description("Last line, inclusive.")),
	mcp.WithString("action", mcp.Enum("explain", "bugs", "improve", "custom"), mcp.Description("Review action. Defaults to custom when custom_prompt is set.")),
	mcp.WithString("custom_prompt", mcp.Description("Question for the custom action.")),
	mcp.WithBoolean("review", mcp.Description("Also run the review and wait for the reply.")),
)

var threadListToolDef = mcp.NewTool("thread_list",
	mcp.WithDescription("List threads in document order."),
	mcp.WithString("status", mcp.Enum("active", "outdated", "resolved"), mcp.Description("Only threads with this status.")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var threadGetToolDef = mcp.NewTool("thread_get",
	mcp.WithDescription("Return one thread with its full conversation, suggestions and notes."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var threadReselectToolDef = mcp.NewTool("thread_reselect",
	mcp.WithDescription("Re-anchor a thread to a line range and mark it active. Omit the lines to keep the current range."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithNumber("start_line"),
	mcp.WithNumber("end_line"),
)

var threadResolveToolDef = mcp.NewTool("thread_resolve",
	mcp.WithDescription("Mark a thread resolved. Resolved threads accept no further messages."),
	mcp.WithString("thread_id", mcp.Required()),
)

var threadDeleteToolDef = mcp.NewTool("thread_delete",
	mcp.WithDescription("Delete a thread and its conversation."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var threadReviewToolDef = mcp.NewTool("thread_review",
	mcp.WithDescription("Ask for a new review of a thread's code and wait for the reply."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithString("action", mcp.Enum("explain", "bugs", "improve", "custom")),
	mcp.WithString("custom_prompt"),
)

var threadFollowUpToolDef = mcp.NewTool("thread_followup",
	mcp.WithDescription("Add a question to a thread and wait for the reply, which sees the whole conversation."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithString("message", mcp.Required()),
)

var suggestionApplyToolDef = mcp.NewTool("suggestion_apply",
	mcp.WithDescription("Replace the thread's code with a suggestion. One suggestion per message can be applied."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithString("message_id", mcp.Required()),
	mcp.WithString("suggestion_id", mcp.Required()),
)

var suggestionDiffToolDef = mcp.NewTool("suggestion_diff",
	mcp.WithDescription("Show a line diff between a suggestion and the code it replaces."),
	mcp.WithString("thread_id", mcp.Required()),
	mcp.WithString("message_id", mcp.Required()),
	mcp.WithString("suggestion_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sessionExportToolDef = mcp.NewTool("session_export",
	mcp.WithDescription("Write the session as a Markdown review or a JSON backup. Defaults to ~/.critique/exports."),
	mcp.WithString("path", mcp.Description("Destination file (.md or .json).")),
	mcp.WithString("format", mcp.Enum("markdown", "json")),
)

var sessionImportToolDef = mcp.NewTool("session_import",
	mcp.WithDescription("Replace the session with a JSON backup written by session_export."),
	mcp.WithString("path", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var sessionClearToolDef = mcp.NewTool("session_clear",
	mcp.WithDescription("Empty the document and delete every thread."),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true.")),
	mcp.WithDestructiveHintAnnotation(true),
)
