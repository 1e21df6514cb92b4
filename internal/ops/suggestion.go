package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/critique/internal/diffview"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
)

// SuggestionRef addresses one suggestion.
type SuggestionRef struct {
	ThreadID     string
	MessageID    string
	SuggestionID string
}

// ApplySuggestionOutput contains the result of the ApplySuggestion operation.
type ApplySuggestionOutput struct {
	Thread    *thread.Thread `json:"thread"`
	LineCount int            `json:"line_count"`
	// Shifted counts other threads moved by the change in length.
	Shifted int `json:"shifted"`
}

// ApplySuggestion splices a suggestion into the document over its thread's
// range.
func ApplySuggestion(ctx context.Context, sess *session.Session, ref SuggestionRef) (*ApplySuggestionOutput, error) {
	t, msg, sug, err := resolveSuggestion(sess, ref)
	if err != nil {
		return nil, err
	}
	if t.Status == thread.StatusResolved {
		return nil, errors.NewThreadResolved(t.ID)
	}
	if err := requireIdle(sess, t.ID); err != nil {
		return nil, err
	}
	if msg.HasApplied() {
		return nil, errors.NewAlreadyApplied(msg.ID)
	}
	if strings.TrimSpace(sug.Suggested) == "" {
		return nil, errors.NewInvalidRequest("suggestion is empty")
	}

	before := sess.Store.Snapshot()
	if !sess.Store.ApplySuggestion(t.ID, msg.ID, sug.ID) {
		// lost a race with another writer
		return nil, errors.NewAlreadyApplied(msg.ID)
	}
	after := sess.Store.Snapshot()

	shifted := 0
	for _, other := range after.Threads {
		if other.ID == t.ID {
			continue
		}
		if prev := before.Thread(other.ID); prev != nil && prev.StartLine != other.StartLine {
			shifted++
		}
	}

	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return &ApplySuggestionOutput{
		Thread:    after.Thread(t.ID),
		LineCount: thread.LineCount(after.Document.Code),
		Shifted:   shifted,
	}, nil
}

// SuggestionDiffOutput contains the result of the SuggestionDiff operation.
type SuggestionDiffOutput struct {
	Applied bool   `json:"applied"`
	Unified string `json:"unified"`
	*diffview.Diff
}

// SuggestionDiff compares a suggestion with the code it would replace. The
// suggested side is indented the way ApplySuggestion would indent it.
func SuggestionDiff(sess *session.Session, ref SuggestionRef) (*SuggestionDiffOutput, error) {
	t, _, sug, err := resolveSuggestion(sess, ref)
	if err != nil {
		return nil, err
	}

	lines := thread.Lines(sess.Store.Snapshot().Document.Code)
	var firstLine string
	if t.StartLine >= 1 && t.StartLine <= len(lines) {
		firstLine = lines[t.StartLine-1]
	}
	adjusted := strings.Join(thread.Reindent(thread.Lines(sug.Suggested), thread.LeadingWhitespace(firstLine)), "\n")

	d := diffview.Lines(sug.Original, adjusted, t.StartLine)
	return &SuggestionDiffOutput{Applied: sug.Applied, Unified: d.Unified(), Diff: d}, nil
}

func resolveSuggestion(sess *session.Session, ref SuggestionRef) (*thread.Thread, *thread.Message, *thread.Suggestion, error) {
	t, err := requireThread(sess, ref.ThreadID)
	if err != nil {
		return nil, nil, nil, err
	}
	if ref.MessageID == "" || ref.SuggestionID == "" {
		return nil, nil, nil, errors.NewInvalidRequest("message_id and suggestion_id are required")
	}
	mi := t.MessageIndex(ref.MessageID)
	if mi < 0 {
		return nil, nil, nil, errors.NewNotFound("message", ref.MessageID)
	}
	msg := &t.Messages[mi]
	sug := msg.Suggestion(ref.SuggestionID)
	if sug == nil {
		return nil, nil, nil, errors.NewNotFound("suggestion", ref.SuggestionID)
	}
	return t, msg, sug, nil
}
