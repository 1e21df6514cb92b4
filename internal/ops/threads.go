package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/review"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
)

// CreateThreadInput contains parameters for the CreateThread operation.
type CreateThreadInput struct {
	StartLine    int
	EndLine      int
	Action       string // explain, bugs, improve, custom
	CustomPrompt string
	// Review also runs the review and waits for the reply.
	Review  bool
	OnChunk func(chunk string)
}

// CreateThreadOutput contains the result of the CreateThread operation.
type CreateThreadOutput struct {
	Thread *thread.Thread `json:"thread"`
	Review *review.Result `json:"review,omitempty"`
}

// CreateThread anchors a new thread to a line range.
func CreateThread(ctx context.Context, sess *session.Session, input CreateThreadInput) (*CreateThreadOutput, error) {
	action, err := parseAction(input.Action, input.CustomPrompt)
	if err != nil {
		return nil, err
	}
	lineCount := sess.Store.LineCount()
	if !thread.ValidRange(input.StartLine, input.EndLine, lineCount) {
		return nil, errors.NewInvalidRange(input.StartLine, input.EndLine, lineCount)
	}
	if sess.Store.Snapshot().Document.Code == "" {
		return nil, errors.NewInvalidRequest("document is empty")
	}

	customPrompt := strings.TrimSpace(input.CustomPrompt)
	id := sess.Store.CreateThread(input.StartLine, input.EndLine, action, customPrompt)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}

	out := &CreateThreadOutput{}
	if input.Review {
		res, err := runReview(ctx, sess, review.Options{
			ThreadID:     id,
			Action:       action,
			CustomPrompt: customPrompt,
			OnChunk:      input.OnChunk,
		})
		if err != nil {
			return nil, err
		}
		out.Review = res
	}
	out.Thread = sess.Store.Thread(id)
	return out, nil
}

// ListThreadsInput contains parameters for the ListThreads operation.
type ListThreadsInput struct {
	Status string // optional: active, outdated, resolved
}

// ListThreadsOutput contains the result of the ListThreads operation.
type ListThreadsOutput struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int             `json:"total"`
}

// ListThreads returns thread summaries in document order.
func ListThreads(sess *session.Session, input ListThreadsInput) (*ListThreadsOutput, error) {
	var filter thread.Status
	if s := strings.TrimSpace(input.Status); s != "" {
		st, ok := thread.ParseStatus(strings.ToLower(s))
		if !ok {
			return nil, errors.NewInvalidRequest("status must be one of: active, outdated, resolved")
		}
		filter = st
	}

	snap := sess.Store.Snapshot()
	out := &ListThreadsOutput{Threads: []ThreadSummary{}}
	for _, h := range sess.Store.Highlights() {
		t := snap.Thread(h.ThreadID)
		if t == nil || (filter != "" && t.Status != filter) {
			continue
		}
		out.Threads = append(out.Threads, summarize(t))
	}
	out.Total = len(out.Threads)
	return out, nil
}

// GetThread returns one thread with its full conversation.
func GetThread(sess *session.Session, threadID string) (*thread.Thread, error) {
	return requireThread(sess, threadID)
}

// ReselectThreadInput contains parameters for the ReselectThread operation.
// Zero lines keep the thread's current range.
type ReselectThreadInput struct {
	ThreadID  string
	StartLine int
	EndLine   int
}

// ReselectThread re-anchors a thread to a range and marks it active again.
func ReselectThread(ctx context.Context, sess *session.Session, input ReselectThreadInput) (*thread.Thread, error) {
	t, err := requireOpen(sess, input.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := requireIdle(sess, t.ID); err != nil {
		return nil, err
	}

	start, end := input.StartLine, input.EndLine
	if start == 0 && end == 0 {
		start, end = t.StartLine, t.EndLine
	}
	lineCount := sess.Store.LineCount()
	if !thread.ValidRange(start, end, lineCount) {
		return nil, errors.NewInvalidRange(start, end, lineCount)
	}

	sess.Store.UpdateThreadSelection(t.ID, start, end)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Store.Thread(t.ID), nil
}

// ResolveThread closes a thread for good.
func ResolveThread(ctx context.Context, sess *session.Session, threadID string) (*thread.Thread, error) {
	t, err := requireOpen(sess, threadID)
	if err != nil {
		return nil, err
	}
	sess.Store.ResolveThread(t.ID)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Store.Thread(t.ID), nil
}

// DeleteThreadOutput contains the result of the DeleteThread operation.
type DeleteThreadOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteThread removes a thread. A review streaming into it is aborted.
func DeleteThread(ctx context.Context, sess *session.Session, threadID string) (*DeleteThreadOutput, error) {
	t, err := requireThread(sess, threadID)
	if err != nil {
		return nil, err
	}
	if st := sess.ReviewState(); st.Streaming && st.ThreadID == t.ID {
		if o, err := sess.Reviews(); err == nil {
			o.Abort()
		}
	}
	sess.Store.DeleteThread(t.ID)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return &DeleteThreadOutput{ID: t.ID, Deleted: true}, nil
}
