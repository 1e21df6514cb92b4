package web

import (
	"context"
	"database/sql"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/export"
	"github.com/hpungsan/critique/internal/lang"
	"github.com/hpungsan/critique/internal/ops"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	sess     *session.Session
	db       *sql.DB
	renderer *Renderer
	// baseCtx bounds reviews started by a request.
	baseCtx context.Context
	now     func() time.Time
}

// NewHandlers returns handlers serving sess.
func NewHandlers(ctx context.Context, sess *session.Session, database *sql.DB, renderer *Renderer) *Handlers {
	return &Handlers{
		sess:     sess,
		db:       database,
		renderer: renderer,
		baseCtx:  ctx,
		now:      time.Now,
	}
}

func (h *Handlers) pageData(title, nav string) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		Theme:   string(h.sess.Store.Snapshot().Theme),
		Session: h.sess.Name,
	}
}

// HandleDocument handles GET /: the document with its threads.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	doc := ops.GetDocument(h.sess)
	list, err := ops.ListThreads(h.sess, ops.ListThreadsInput{})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "document", DocumentPageData{
		PageData:  h.pageData(doc.FileName, "document"),
		Doc:       doc,
		Lines:     documentLines(doc),
		Threads:   list.Threads,
		Actions:   thread.Actions,
		Languages: languageOptions(),
		Streaming: h.sess.Streaming(),
	})
}

// HandleEdit handles POST /document: replace the text as typed.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	out, err := ops.EditDocument(r.Context(), h.sess, ops.EditDocumentInput{Code: r.PostFormValue("code")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/", out)
}

// HandleUpload handles POST /document/upload: load a dropped file.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ops.MaxDocumentBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid upload: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, ops.MaxDocumentBytes+1))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	if len(data) > ops.MaxDocumentBytes {
		h.renderer.renderError(w, r, errors.NewFileTooLarge(ops.MaxDocumentBytes, header.Size))
		return
	}

	content := string(data)
	out, err := ops.LoadDocument(r.Context(), h.sess, ops.LoadDocumentInput{
		Content:  &content,
		FileName: header.Filename,
		Language: r.PostFormValue("language"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/", out)
}

// HandleLanguage handles POST /document/language.
func (h *Handlers) HandleLanguage(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	doc, err := ops.SetLanguage(r.Context(), h.sess, r.PostFormValue("language"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/", doc)
}

// HandleTheme handles POST /theme. An empty theme toggles.
func (h *Handlers) HandleTheme(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	theme := r.PostFormValue("theme")
	if theme == "" {
		theme = "toggle"
	}
	next, err := ops.SetTheme(r.Context(), h.sess, theme)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, returnPath(r, "/"), map[string]string{"theme": string(next)})
}

// HandleCreateThread handles POST /threads: anchor a thread to the
// selected lines and start its first review.
func (h *Handlers) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	start, err := formInt(r, "start_line")
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	end, err := formInt(r, "end_line")
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	action := r.PostFormValue("action")
	customPrompt := r.PostFormValue("custom_prompt")
	out, err := ops.CreateThread(r.Context(), h.sess, ops.CreateThreadInput{
		StartLine:    start,
		EndLine:      end,
		Action:       action,
		CustomPrompt: customPrompt,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	id := out.Thread.ID
	if _, err := ops.StartReview(h.baseCtx, h.sess, ops.ReviewInput{
		ThreadID:     id,
		Action:       action,
		CustomPrompt: customPrompt,
	}); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(id), out)
}

// HandleThread handles GET /threads/{id}.
func (h *Handlers) HandleThread(w http.ResponseWriter, r *http.Request) {
	data, err := h.threadData(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, r, "thread", data)
}

// HandleMessages handles GET /threads/{id}/messages: the conversation
// fragment polled while a reply streams.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	data, err := h.threadData(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"thread":    data.Thread,
			"streaming": data.Streaming,
			"error":     data.ReviewError,
		})
		return
	}
	h.renderer.renderBlock(w, http.StatusOK, "thread", "messages", data)
}

// HandleReview handles POST /threads/{id}/review: request a fresh review.
func (h *Handlers) HandleReview(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	id := r.PathValue("id")
	job, err := ops.StartReview(h.baseCtx, h.sess, ops.ReviewInput{
		ThreadID:     id,
		Action:       r.PostFormValue("action"),
		CustomPrompt: r.PostFormValue("custom_prompt"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(id), job)
}

// HandleFollowUp handles POST /threads/{id}/followup.
func (h *Handlers) HandleFollowUp(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	id := r.PathValue("id")
	job, err := ops.StartFollowUp(h.baseCtx, h.sess, ops.FollowUpInput{
		ThreadID: id,
		Message:  r.PostFormValue("message"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(id), job)
}

// HandleReselect handles POST /threads/{id}/reselect.
func (h *Handlers) HandleReselect(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	start, err := formInt(r, "start_line")
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	end, err := formInt(r, "end_line")
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	t, err := ops.ReselectThread(r.Context(), h.sess, ops.ReselectThreadInput{
		ThreadID:  r.PathValue("id"),
		StartLine: start,
		EndLine:   end,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(t.ID), t)
}

// HandleResolve handles POST /threads/{id}/resolve.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	t, err := ops.ResolveThread(r.Context(), h.sess, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(t.ID), t)
}

// HandleApply handles POST /threads/{id}/apply: splice a suggestion into
// the document.
func (h *Handlers) HandleApply(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	id := r.PathValue("id")
	out, err := ops.ApplySuggestion(r.Context(), h.sess, ops.SuggestionRef{
		ThreadID:     id,
		MessageID:    r.PostFormValue("message_id"),
		SuggestionID: r.PostFormValue("suggestion_id"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(id), out)
}

// HandleDeleteThread handles DELETE /threads/{id} and its form fallback.
func (h *Handlers) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteThread(r.Context(), h.sess, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/", out)
}

// HandleRetry handles POST /review/retry: re-run the last review.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := ops.RetryReview(h.baseCtx, h.sess)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, threadPath(job.ThreadID), job)
}

// HandleAbort handles POST /review/abort: stop the reply in flight.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	state := h.sess.ReviewState()
	if err := ops.AbortReview(r.Context(), h.sess); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	next := "/"
	if state.ThreadID != "" {
		next = threadPath(state.ThreadID)
	}
	respond(w, r, returnPath(r, next), map[string]bool{"aborted": state.Streaming})
}

// HandleExportPreview handles GET /export: the Markdown export rendered.
func (h *Handlers) HandleExportPreview(w http.ResponseWriter, r *http.Request) {
	snap := h.sess.Store.Snapshot()
	md := ops.RenderMarkdown(h.sess, h.now())
	h.renderer.renderPage(w, r, "export", ExportPageData{
		PageData: h.pageData("Export", "export"),
		FileName: export.FileName(snap.Document.FileName),
		Threads:  len(snap.Threads),
		HTML:     renderMarkdown(md),
	})
}

// HandleExportMarkdown handles GET /export.md: download the Markdown export.
func (h *Handlers) HandleExportMarkdown(w http.ResponseWriter, r *http.Request) {
	name := export.FileName(ops.SanitizeForFilename(h.sess.Store.Snapshot().Document.FileName))
	md := ops.RenderMarkdown(h.sess, h.now())
	download(w, "text/markdown; charset=utf-8", name, []byte(md))
}

// HandleExportJSON handles GET /export.json: download a session backup.
func (h *Handlers) HandleExportJSON(w http.ResponseWriter, r *http.Request) {
	data, err := ops.RenderBackup(h.sess, h.now())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	name := ops.SanitizeForFilename(h.sess.Name) + "-backup.json"
	download(w, "application/json", name, data)
}

// HandleClear handles POST /session/clear.
func (h *Handlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, h.renderer) {
		return
	}
	confirm, _ := strconv.ParseBool(r.PostFormValue("confirm"))
	out, err := ops.Clear(r.Context(), h.sess, ops.ClearInput{Confirm: confirm})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/", out)
}

// HandleSessions handles GET /sessions: saved sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListSessions(r.Context(), h.db, h.sess.Name)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}
	h.renderer.renderPage(w, r, "sessions", SessionsPageData{
		PageData: h.pageData("Sessions", "sessions"),
		Sessions: out.Sessions,
		Current:  out.Current,
	})
}

// HandleDeleteSession handles POST /sessions/{name}/delete.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteSession(r.Context(), h.db, r.PathValue("name"), h.sess.Name)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respond(w, r, "/sessions", out)
}

// threadData builds the thread page from the current snapshot.
func (h *Handlers) threadData(id string) (ThreadPageData, error) {
	t, err := ops.GetThread(h.sess, id)
	if err != nil {
		return ThreadPageData{}, err
	}

	state := h.sess.ReviewState()
	streaming := state.Streaming && state.ThreadID == t.ID
	resolved := t.Status == thread.StatusResolved

	messages := make([]MessageView, 0, len(t.Messages))
	for i := range t.Messages {
		m := &t.Messages[i]
		pending := streaming && m.ID == state.MessageID
		view := MessageView{
			ID:      m.ID,
			Role:    m.Role,
			HTML:    renderMarkdown(m.Content),
			Time:    formatTime(m.CreatedAt),
			Pending: pending,
			Notes:   m.OutsideNotes,
		}
		applied := m.HasApplied()
		for _, s := range m.Suggestions {
			sv := SuggestionView{
				ID:        s.ID,
				MessageID: m.ID,
				Applied:   s.Applied,
				CanApply:  !resolved && !applied && !pending && strings.TrimSpace(s.Suggested) != "",
			}
			if d, err := ops.SuggestionDiff(h.sess, ops.SuggestionRef{ThreadID: t.ID, MessageID: m.ID, SuggestionID: s.ID}); err == nil {
				sv.Summary = d.Summary()
				sv.Lines = d.Lines
			}
			view.Suggestions = append(view.Suggestions, sv)
		}
		messages = append(messages, view)
	}

	var reviewErr string
	if !state.Streaming && state.ThreadID == t.ID {
		reviewErr = state.Error
	}

	return ThreadPageData{
		PageData:    h.pageData(threadTitle(t), "document"),
		Thread:      t,
		Messages:    messages,
		Actions:     thread.Actions,
		Resolved:    resolved,
		Streaming:   streaming,
		ReviewError: reviewErr,
	}, nil
}

func threadTitle(t *thread.Thread) string {
	if t.StartLine == t.EndLine {
		return "Line " + strconv.Itoa(t.StartLine)
	}
	return "Lines " + strconv.Itoa(t.StartLine) + "-" + strconv.Itoa(t.EndLine)
}

// documentLines splits the document for the gutter view. Each line takes
// the highlight of the first thread covering it.
func documentLines(doc *ops.DocumentView) []LineView {
	if doc.Code == "" {
		return nil
	}
	lines := thread.Lines(doc.Code)
	out := make([]LineView, len(lines))
	for i, text := range lines {
		n := i + 1
		out[i] = LineView{Number: n, Text: text}
		for _, hl := range doc.Highlights {
			if n >= hl.StartLine && n <= hl.EndLine {
				out[i].Class = "hl-" + string(hl.Status)
				out[i].ThreadID = hl.ThreadID
				out[i].First = n == hl.StartLine
				break
			}
		}
	}
	return out
}

func languageOptions() []LanguageOption {
	tags := lang.Languages()
	out := make([]LanguageOption, len(tags))
	for i, tag := range tags {
		out[i] = LanguageOption{Tag: tag, Name: lang.DisplayName(tag)}
	}
	return out
}

func threadPath(id string) string {
	return "/threads/" + url.PathEscape(id)
}

// returnPath honors a local "return" form value, falling back to def.
func returnPath(r *http.Request, def string) string {
	p := r.PostFormValue("return")
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return def
	}
	return p
}

// respond finishes a mutation: HTMX-style requests are told where to go,
// JSON clients get the result, and plain forms are redirected.
func respond(w http.ResponseWriter, r *http.Request, location string, payload any) {
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, payload)
	default:
		http.Redirect(w, r, location, http.StatusSeeOther)
	}
}

func download(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseForm parses the request body, rendering an error on failure.
func parseForm(w http.ResponseWriter, r *http.Request, renderer *Renderer) bool {
	if err := r.ParseForm(); err != nil {
		renderer.renderError(w, r, errors.NewInvalidRequest("invalid form: "+err.Error()))
		return false
	}
	return true
}

// formInt parses an integer form field. A missing field is zero.
func formInt(r *http.Request, key string) (int, error) {
	s := strings.TrimSpace(r.PostFormValue(key))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.NewInvalidRequest(key + " must be an integer")
	}
	return n, nil
}
