package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/session"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"document_load": {
		def:     documentLoadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentLoad },
	},
	"document_get": {
		def:     documentGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentGet },
	},
	"document_edit": {
		def:     documentEditToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentEdit },
	},
	"thread_create": {
		def:     threadCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadCreate },
	},
	"thread_list": {
		def:     threadListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadList },
	},
	"thread_get": {
		def:     threadGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadGet },
	},
	"thread_reselect": {
		def:     threadReselectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadReselect },
	},
	"thread_resolve": {
		def:     threadResolveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadResolve },
	},
	"thread_delete": {
		def:     threadDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadDelete },
	},
	"thread_review": {
		def:     threadReviewToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadReview },
	},
	"thread_followup": {
		def:     threadFollowUpToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadFollowUp },
	},
	"suggestion_apply": {
		def:     suggestionApplyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSuggestionApply },
	},
	"suggestion_diff": {
		def:     suggestionDiffToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSuggestionDiff },
	},
	"session_export": {
		def:     sessionExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionExport },
	},
	"session_import": {
		def:     sessionImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionImport },
	},
	"session_clear": {
		def:     sessionClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionClear },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server exposing the review tools for one
// session. Tools listed in mcp.disabled_tools are not registered.
func NewServer(sess *session.Session, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"critique",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(sess)

	disabled := make(map[string]bool)
	for _, name := range sess.Config.MCP.DisabledTools {
		disabled[name] = true
	}
	for _, name := range ValidateDisabledTools(sess.Config.MCP.DisabledTools) {
		log.Warn().Str("tool", name).Msg("Unknown tool in mcp.disabled_tools")
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(sess *session.Session, version string) error {
	return server.ServeStdio(NewServer(sess, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
