package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/critique/internal/db"
	"github.com/hpungsan/critique/internal/diffview"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/ops"
	"github.com/hpungsan/critique/internal/thread"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "document", "export", "sessions"
	Theme   string
	Session string
}

// LineView is one rendered document line.
type LineView struct {
	Number int
	Text   string
	// Class carries the highlight of the first thread covering the line.
	Class    string
	ThreadID string
	// First marks the first line of that thread's range.
	First bool
}

// DocumentPageData is the template data for the document page.
type DocumentPageData struct {
	PageData
	Doc       *ops.DocumentView
	Lines     []LineView
	Threads   []ops.ThreadSummary
	Actions   []thread.Action
	Languages []LanguageOption
	Streaming bool
}

// LanguageOption is one entry of the language picker.
type LanguageOption struct {
	Tag  string
	Name string
}

// SuggestionView is a suggestion with its diff against the anchored code.
type SuggestionView struct {
	ID        string
	MessageID string
	Applied   bool
	CanApply  bool
	Summary   string
	Lines     []diffview.Line
}

// MessageView is one rendered message of a thread.
type MessageView struct {
	ID          string
	Role        thread.Role
	HTML        template.HTML
	Time        string
	Pending     bool
	Suggestions []SuggestionView
	Notes       []string
}

// ThreadPageData is the template data for the thread page and its
// messages fragment.
type ThreadPageData struct {
	PageData
	Thread      *thread.Thread
	Messages    []MessageView
	Actions     []thread.Action
	Resolved    bool
	Streaming   bool
	ReviewError string
}

// ExportPageData is the template data for the export preview.
type ExportPageData struct {
	PageData
	FileName string
	Threads  int
	HTML     template.HTML
}

// SessionsPageData is the template data for the saved sessions page.
type SessionsPageData struct {
	PageData
	Sessions []db.SessionInfo
	Current  string
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"add":        func(a, b int) int { return a + b },
		"formatTime": formatTime,
		"formatUnix": func(sec int64) string {
			if sec == 0 {
				return ""
			}
			return formatTime(time.Unix(sec, 0))
		},
		"plural": plural,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"document": "document.html",
		"thread":   "thread.html",
		"export":   "export.html",
		"sessions": "sessions.html",
		"error":    "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
// Used for partial swaps that target a sub-section of the page.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		log.Error().Str("template", page).Msg("Template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Error().Err(err).Str("template", page).Str("block", block).Msg("Template execution failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	cErr := errors.As(err)
	if cErr == nil {
		cErr = errors.NewInternal(err)
	}

	status := cErr.Status
	message := cErr.Message
	if cErr.Code == errors.ErrInternal {
		log.Error().Err(err).Str("path", req.URL.Path).Msg("Request failed")
		message = "an internal error occurred"
	}

	// HTMX request: return HTML fragment
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(cErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
			Theme:   string(thread.ThemeDark),
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// renderMarkdown converts markdown text to HTML using goldmark. Raw HTML in
// the source is not passed through.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a timestamp as "2006-01-02 15:04" local time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
