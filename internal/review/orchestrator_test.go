package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/store"
	"github.com/hpungsan/critique/internal/thread"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// sequence hands each Stream call to the next client in line.
type sequence struct {
	mu      sync.Mutex
	clients []*completion.Fake
	n       int
}

func (q *sequence) Name() string { return "fake/sequence" }

func (q *sequence) Stream(ctx context.Context, req completion.Request, onChunk completion.ChunkFunc) error {
	q.mu.Lock()
	c := q.clients[q.n]
	q.n++
	q.mu.Unlock()
	return c.Stream(ctx, req, onChunk)
}

func setupStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := store.New()
	s.SetCode("func add(a, b int) int {\n    return a - b\n}")
	s.SetLanguage("go")
	id := s.CreateThread(2, 2, thread.ActionBugs, "")
	return s, id
}

func TestRun_StreamsCumulativeContent(t *testing.T) {
	s, id := setupStore(t)
	fake := &completion.Fake{Chunks: []string{"The ", "operator ", "is wrong."}}
	o := New(s, fake)

	var seen []string
	s.Subscribe(func(ev store.Event) {
		if ev.Kind == store.EventMessageUpdated {
			seen = append(seen, ev.Snapshot.Thread(id).Messages[1].Content)
		}
	})

	res, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionBugs})

	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "The operator ", "The operator is wrong."}, seen)
	assert.Equal(t, "The operator is wrong.", res.Content)
	assert.False(t, res.Cancelled)

	th := s.Thread(id)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, thread.RoleAssistant, th.Messages[1].Role)
	assert.Equal(t, res.MessageID, th.Messages[1].ID)
	assert.False(t, o.State().Streaming)
}

func TestRun_ParsesSuggestionsAndNotes(t *testing.T) {
	s, id := setupStore(t)
	fake := &completion.Fake{Chunks: []string{
		"Use addition.\n```suggestion\n",
		"return a + b\n```\n",
		"```outside\nUpdate the tests.\n```",
	}}
	o := New(s, fake)

	res, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionBugs})

	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "return a + b", res.Suggestions[0].Suggested)
	assert.Equal(t, "    return a - b", res.Suggestions[0].Original)
	assert.Equal(t, []string{"Update the tests."}, res.OutsideNotes)

	msg := s.Thread(id).Messages[1]
	require.Len(t, msg.Suggestions, 1)
	assert.Equal(t, []string{"Update the tests."}, msg.OutsideNotes)

	// applying it re-indents to the anchored line
	require.True(t, s.ApplySuggestion(id, msg.ID, msg.Suggestions[0].ID))
	assert.Equal(t, "func add(a, b int) int {\n    return a + b\n}", s.Snapshot().Document.Code)
}

func TestRun_SendsFreshPrompt(t *testing.T) {
	s, id := setupStore(t)
	fake := &completion.Fake{Chunks: []string{"ok"}}
	o := New(s, fake)

	_, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionBugs})
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "**Selected Code (lines 2-2):**\n```go\n    return a - b\n```")
	assert.NotEmpty(t, reqs[0].System)
}

func TestRun_FollowUpReplaysHistory(t *testing.T) {
	s, id := setupStore(t)
	fake := &completion.Fake{Chunks: []string{"First answer."}}
	o := New(s, fake)

	_, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionBugs})
	require.NoError(t, err)

	s.AddMessage(id, thread.RoleUser, "Are you sure?")
	fake.Chunks = []string{"Yes."}
	_, err = o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionCustom, FollowUp: true})
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	history := reqs[1].Messages
	require.Len(t, history, 3) // the pending empty reply is not replayed
	assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "Find bugs in this code"}, history[0])
	assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: "First answer."}, history[1])
	assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "Are you sure?"}, history[2])

	assert.Len(t, s.Thread(id).Messages, 4)
}

func TestRun_FailureWritesApology(t *testing.T) {
	s, id := setupStore(t)
	fake := &completion.Fake{
		Chunks: []string{"partial"},
		Err:    &completion.Error{Provider: "fake", StatusCode: 500, Err: errors.New("boom")},
	}
	o := New(s, fake)

	res, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionExplain})

	require.Error(t, err)
	var cErr *completion.Error
	assert.ErrorAs(t, err, &cErr)
	assert.Equal(t, ApologyMessage, res.Content)
	assert.Equal(t, ApologyMessage, s.Thread(id).Messages[1].Content)

	st := o.State()
	assert.False(t, st.Streaming)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, res.MessageID, st.MessageID)
}

func TestRun_UnknownThread(t *testing.T) {
	s, _ := setupStore(t)
	o := New(s, &completion.Fake{})
	before := s.Snapshot()

	_, err := o.Run(context.Background(), Options{ThreadID: "missing", Action: thread.ActionExplain})

	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.Same(t, before, s.Snapshot())
	assert.NotEmpty(t, o.State().Error)
}

func TestRun_ResolvedThread(t *testing.T) {
	s, id := setupStore(t)
	s.ResolveThread(id)
	o := New(s, &completion.Fake{})

	_, err := o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionExplain})

	assert.ErrorIs(t, err, ErrThreadResolved)
	assert.Len(t, s.Thread(id).Messages, 1)
}

func TestStart_SupersedesPreviousCycle(t *testing.T) {
	s, id := setupStore(t)
	gate := make(chan struct{})
	o := New(s, &sequence{clients: []*completion.Fake{
		{Chunks: []string{"one ", "two"}, Gate: gate},
		{Chunks: []string{"fresh"}},
	}})

	job1, err := o.Start(context.Background(), Options{ThreadID: id, Action: thread.ActionExplain})
	require.NoError(t, err)
	gate <- struct{}{} // deliver "one "

	// wait until the first chunk is visible
	require.Eventually(t, func() bool {
		th := s.Thread(id)
		return th.Messages[1].Content == "one "
	}, timeout, tick)

	job2, err := o.Start(context.Background(), Options{ThreadID: id, Action: thread.ActionImprove})
	require.NoError(t, err)

	res1, err := job1.Wait()
	require.NoError(t, err)
	assert.True(t, res1.Cancelled)

	res2, err := job2.Wait()
	require.NoError(t, err)
	assert.Equal(t, "fresh", res2.Content)

	th := s.Thread(id)
	require.Len(t, th.Messages, 3)
	// the abandoned reply keeps what had streamed
	assert.Equal(t, "one ", th.Messages[1].Content)
	assert.Equal(t, "fresh", th.Messages[2].Content)
}

func TestAbort_IsSilent(t *testing.T) {
	s, id := setupStore(t)
	gate := make(chan struct{})
	o := New(s, &completion.Fake{Chunks: []string{"a", "b"}, Gate: gate})

	job, err := o.Start(context.Background(), Options{ThreadID: id, Action: thread.ActionExplain})
	require.NoError(t, err)
	assert.True(t, o.State().Streaming)

	gate <- struct{}{}
	require.Eventually(t, func() bool { return s.Thread(id).Messages[1].Content == "a" }, timeout, tick)

	o.Abort()
	res, err := job.Wait()

	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "a", s.Thread(id).Messages[1].Content)
	st := o.State()
	assert.False(t, st.Streaming)
	assert.Empty(t, st.Error)
}

func TestRetry(t *testing.T) {
	s, id := setupStore(t)
	o := New(s, &completion.Fake{Chunks: []string{"again"}})

	_, err := o.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNothingToRetry)

	_, err = o.Run(context.Background(), Options{ThreadID: id, Action: thread.ActionExplain})
	require.NoError(t, err)

	job, err := o.Retry(context.Background())
	require.NoError(t, err)
	res, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, "again", res.Content)
	assert.Len(t, s.Thread(id).Messages, 3)
}

func TestRun_OnChunk(t *testing.T) {
	s, id := setupStore(t)
	o := New(s, &completion.Fake{Chunks: []string{"x", "y"}})

	var mu sync.Mutex
	var chunks []string
	_, err := o.Run(context.Background(), Options{
		ThreadID: id,
		Action:   thread.ActionExplain,
		OnChunk: func(c string) {
			mu.Lock()
			chunks = append(chunks, c)
			mu.Unlock()
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, chunks)
}
