package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/lang"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/store"
	"github.com/hpungsan/critique/internal/thread"
)

// MaxDocumentBytes bounds files read by LoadDocument and Import.
const MaxDocumentBytes = 5 << 20

// ThreadSummary is the list view of a thread.
type ThreadSummary struct {
	ID          string        `json:"id"`
	StartLine   int           `json:"start_line"`
	EndLine     int           `json:"end_line"`
	Status      thread.Status `json:"status"`
	Messages    int           `json:"messages"`
	Suggestions int           `json:"suggestions"`
	Preview     string        `json:"preview"`
	CreatedAt   int64         `json:"created_at"`
}

// DocumentView is the current document with its decorations.
type DocumentView struct {
	Code         string            `json:"code"`
	Language     string            `json:"language"`
	LanguageName string            `json:"language_name"`
	FileName     string            `json:"file_name"`
	LineCount    int               `json:"line_count"`
	Theme        thread.Theme      `json:"theme"`
	Highlights   []store.Highlight `json:"highlights"`
}

const previewChars = 80

func summarize(t *thread.Thread) ThreadSummary {
	s := ThreadSummary{
		ID:        t.ID,
		StartLine: t.StartLine,
		EndLine:   t.EndLine,
		Status:    t.Status,
		Messages:  len(t.Messages),
		CreatedAt: unixOrZero(t.CreatedAt),
	}
	for _, m := range t.Messages {
		s.Suggestions += len(m.Suggestions)
	}
	if len(t.Messages) > 0 {
		s.Preview = preview(t.Messages[len(t.Messages)-1].Content)
	}
	return s
}

// preview returns the first line of text, cut to previewChars runes.
func preview(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	r := []rune(line)
	if len(r) > previewChars {
		return string(r[:previewChars]) + "…"
	}
	return line
}

func documentView(snap *thread.Snapshot) *DocumentView {
	return &DocumentView{
		Code:         snap.Document.Code,
		Language:     snap.Document.Language,
		LanguageName: lang.DisplayName(snap.Document.Language),
		FileName:     snap.Document.FileName,
		LineCount:    thread.LineCount(snap.Document.Code),
		Theme:        snap.Theme,
		Highlights:   store.Highlights(snap),
	}
}

// requireThread returns the thread or a NOT_FOUND error.
func requireThread(sess *session.Session, id string) (*thread.Thread, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("thread_id is required")
	}
	t := sess.Store.Thread(id)
	if t == nil {
		return nil, errors.NewNotFound("thread", id)
	}
	return t, nil
}

// requireOpen additionally rejects resolved threads.
func requireOpen(sess *session.Session, id string) (*thread.Thread, error) {
	t, err := requireThread(sess, id)
	if err != nil {
		return nil, err
	}
	if t.Status == thread.StatusResolved {
		return nil, errors.NewThreadResolved(t.ID)
	}
	return t, nil
}

// requireIdle rejects changes to a thread whose reply is still streaming.
func requireIdle(sess *session.Session, threadID string) error {
	if st := sess.ReviewState(); st.Streaming && st.ThreadID == threadID {
		return errors.NewReviewInProgress(threadID)
	}
	return nil
}

// flush persists the session after a mutation.
func flush(ctx context.Context, sess *session.Session) error {
	if err := sess.Flush(ctx); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func parseAction(action, customPrompt string) (thread.Action, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		if strings.TrimSpace(customPrompt) != "" {
			return thread.ActionCustom, nil
		}
		return "", errors.NewInvalidRequest("action is required (explain, bugs, improve, custom)")
	}
	a, ok := thread.ParseAction(action)
	if !ok {
		return "", errors.NewInvalidRequest("action must be one of: explain, bugs, improve, custom")
	}
	return a, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
