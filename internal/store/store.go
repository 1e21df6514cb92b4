// Package store owns the document buffer and its review threads.
//
// State lives in an immutable *thread.Snapshot. Every mutation builds the next
// snapshot copy-on-write, sharing untouched threads, and swaps it in
// atomically, so readers never observe a partially applied change. Writers
// are serialized.
//
// Mutations that reference unknown threads, messages or suggestions, or
// that would change a resolved thread, are silent no-ops: they come from
// stale client state and are not errors.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/critique/internal/thread"
)

// Clock returns the current time.
type Clock func() time.Time

// IDGenerator returns a new unique identifier.
type IDGenerator func() string

// ULIDGenerator returns an IDGenerator producing monotonic ULIDs.
func ULIDGenerator(now Clock) IDGenerator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
	}
}

// Persister loads and saves session snapshots.
type Persister interface {
	// Load returns the saved snapshot, or nil if nothing was saved yet.
	Load(ctx context.Context) (*thread.Snapshot, error)
	Save(ctx context.Context, snap *thread.Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithIDGenerator sets the generator for thread and message ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.newID = g }
}

// WithPersister attaches a persistence adapter used by Load and Save.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithDefaultTheme sets the theme of a fresh session.
func WithDefaultTheme(t thread.Theme) Option {
	return func(s *Store) { s.defaultTheme = t }
}

// WithClearResetsTheme controls whether ClearSession resets the theme.
func WithClearResetsTheme(reset bool) Option {
	return func(s *Store) { s.clearResetsTheme = reset }
}

// Store is the single source of truth for a review session.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[thread.Snapshot]

	now              Clock
	newID            IDGenerator
	persister        Persister
	defaultTheme     thread.Theme
	clearResetsTheme bool

	pubMu   sync.Mutex // held while delivering one event
	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a store holding an empty session.
func New(opts ...Option) *Store {
	s := &Store{
		now:              time.Now,
		defaultTheme:     thread.ThemeDark,
		clearResetsTheme: true,
		subs:             make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newID == nil {
		s.newID = ULIDGenerator(s.now)
	}
	s.snap.Store(s.initial())
	return s
}

func (s *Store) initial() *thread.Snapshot {
	return &thread.Snapshot{
		Document: thread.EmptyDocument(),
		Theme:    s.defaultTheme,
	}
}

// Snapshot returns the current immutable state.
func (s *Store) Snapshot() *thread.Snapshot {
	return s.snap.Load()
}

// Thread returns the thread with the given id, or nil.
func (s *Store) Thread(id string) *thread.Thread {
	return s.Snapshot().Thread(id)
}

// LineCount returns the number of lines in the document.
func (s *Store) LineCount() int {
	return thread.LineCount(s.Snapshot().Document.Code)
}

// update runs fn under the write lock. If fn reports a change, the returned
// snapshot replaces the current one and ev is published.
func (s *Store) update(fn func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool)) bool {
	s.mu.Lock()
	next, ev, changed := fn(s.snap.Load())
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.snap.Store(next)

	// pubMu is taken before mu is released so events go out in commit order.
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()

	ev.Snapshot = next
	s.publish(ev)
	return true
}

// withThread returns a copy of cur whose thread at index i is replaced by t.
func withThread(cur *thread.Snapshot, i int, t *thread.Thread) *thread.Snapshot {
	next := *cur
	next.Threads = make([]*thread.Thread, len(cur.Threads))
	copy(next.Threads, cur.Threads)
	next.Threads[i] = t
	return &next
}

// SetCode replaces the document text and marks every non-resolved thread
// whose anchored range no longer matches its original code as outdated.
func (s *Store) SetCode(code string) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		if cur.Document.Code == code {
			return nil, Event{}, false
		}
		next := *cur
		next.Document.Code = code
		next.Threads = markOutdated(cur.Threads, thread.Lines(code))
		return &next, Event{Kind: EventDocumentChanged}, true
	})
}

// markOutdated returns threads with drifted ranges flipped to outdated.
// Unchanged threads are shared with the input.
func markOutdated(threads []*thread.Thread, lines []string) []*thread.Thread {
	var out []*thread.Thread
	for i, t := range threads {
		if t.Status != thread.StatusActive {
			continue
		}
		if thread.SliceRange(lines, t.StartLine, t.EndLine) == t.OriginalCode {
			continue
		}
		if out == nil {
			out = make([]*thread.Thread, len(threads))
			copy(out, threads)
		}
		c := *t
		c.Status = thread.StatusOutdated
		out[i] = &c
	}
	if out == nil {
		return threads
	}
	return out
}

// SetLanguage sets the document language tag.
func (s *Store) SetLanguage(language string) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		if cur.Document.Language == language {
			return nil, Event{}, false
		}
		next := *cur
		next.Document.Language = language
		return &next, Event{Kind: EventDocumentChanged}, true
	})
}

// SetFileName sets the document file name.
func (s *Store) SetFileName(name string) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		if cur.Document.FileName == name {
			return nil, Event{}, false
		}
		next := *cur
		next.Document.FileName = name
		return &next, Event{Kind: EventDocumentChanged}, true
	})
}

// SetTheme sets the theme preference.
func (s *Store) SetTheme(theme thread.Theme) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		if cur.Theme == theme {
			return nil, Event{}, false
		}
		next := *cur
		next.Theme = theme
		return &next, Event{Kind: EventThemeChanged}, true
	})
}

// CreateThread anchors a new thread to lines [start, end] of the current
// document and seeds it with the user message for action. The range must be
// valid for the current document; callers validate it.
func (s *Store) CreateThread(start, end int, action thread.Action, customPrompt string) string {
	var id string
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		now := s.now()
		id = s.newID()
		t := &thread.Thread{
			ID:           id,
			StartLine:    start,
			EndLine:      end,
			Status:       thread.StatusActive,
			OriginalCode: thread.SliceRange(thread.Lines(cur.Document.Code), start, end),
			Messages: []thread.Message{{
				ID:        s.newID(),
				Role:      thread.RoleUser,
				Content:   action.Phrase(customPrompt),
				CreatedAt: now,
			}},
			CreatedAt: now,
		}

		next := *cur
		next.Threads = make([]*thread.Thread, len(cur.Threads), len(cur.Threads)+1)
		copy(next.Threads, cur.Threads)
		next.Threads = append(next.Threads, t)
		return &next, Event{Kind: EventThreadCreated, ThreadID: id}, true
	})
	return id
}

// AddMessage appends a message to a thread and returns its id. It returns ""
// if the thread does not exist or is resolved.
func (s *Store) AddMessage(threadID string, role thread.Role, content string) string {
	var id string
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		i := cur.ThreadIndex(threadID)
		if i < 0 || cur.Threads[i].Status == thread.StatusResolved {
			return nil, Event{}, false
		}
		id = s.newID()
		t := cur.Threads[i].Clone()
		t.Messages = append(t.Messages, thread.Message{
			ID:        id,
			Role:      role,
			Content:   content,
			CreatedAt: s.now(),
		})
		return withThread(cur, i, t), Event{Kind: EventMessageAdded, ThreadID: threadID, MessageID: id}, true
	})
	return id
}

// updateMessage applies fn to a copy of the addressed message.
func (s *Store) updateMessage(threadID, messageID string, fn func(m *thread.Message)) bool {
	return s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		i := cur.ThreadIndex(threadID)
		if i < 0 {
			return nil, Event{}, false
		}
		mi := cur.Threads[i].MessageIndex(messageID)
		if mi < 0 {
			return nil, Event{}, false
		}
		t := cur.Threads[i].Clone()
		fn(&t.Messages[mi])
		return withThread(cur, i, t), Event{Kind: EventMessageUpdated, ThreadID: threadID, MessageID: messageID}, true
	})
}

// UpdateMessageContent replaces a message's content.
func (s *Store) UpdateMessageContent(threadID, messageID, content string) {
	s.updateMessage(threadID, messageID, func(m *thread.Message) {
		m.Content = content
	})
}

// SetMessageSuggestions attaches parsed suggestions to a message.
func (s *Store) SetMessageSuggestions(threadID, messageID string, suggestions []thread.Suggestion) {
	cp := append([]thread.Suggestion(nil), suggestions...)
	s.updateMessage(threadID, messageID, func(m *thread.Message) {
		m.Suggestions = cp
	})
}

// SetMessageOutsideNotes attaches parsed outside notes to a message.
func (s *Store) SetMessageOutsideNotes(threadID, messageID string, notes []string) {
	cp := append([]string(nil), notes...)
	s.updateMessage(threadID, messageID, func(m *thread.Message) {
		m.OutsideNotes = cp
	})
}

// UpdateThreadSelection re-anchors a thread to [start, end], snapshots the
// current text of that range and marks the thread active.
func (s *Store) UpdateThreadSelection(threadID string, start, end int) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		i := cur.ThreadIndex(threadID)
		if i < 0 || cur.Threads[i].Status == thread.StatusResolved {
			return nil, Event{}, false
		}
		c := *cur.Threads[i]
		c.StartLine = start
		c.EndLine = end
		c.OriginalCode = thread.SliceRange(thread.Lines(cur.Document.Code), start, end)
		c.Status = thread.StatusActive
		return withThread(cur, i, &c), Event{Kind: EventThreadUpdated, ThreadID: threadID}, true
	})
}

// ResolveThread marks a thread resolved. Resolution is terminal.
func (s *Store) ResolveThread(threadID string) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		i := cur.ThreadIndex(threadID)
		if i < 0 || cur.Threads[i].Status == thread.StatusResolved {
			return nil, Event{}, false
		}
		c := *cur.Threads[i]
		c.Status = thread.StatusResolved
		return withThread(cur, i, &c), Event{Kind: EventThreadUpdated, ThreadID: threadID}, true
	})
}

// DeleteThread removes a thread.
func (s *Store) DeleteThread(threadID string) {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		i := cur.ThreadIndex(threadID)
		if i < 0 {
			return nil, Event{}, false
		}
		next := *cur
		next.Threads = make([]*thread.Thread, 0, len(cur.Threads)-1)
		next.Threads = append(next.Threads, cur.Threads[:i]...)
		next.Threads = append(next.Threads, cur.Threads[i+1:]...)
		return &next, Event{Kind: EventThreadDeleted, ThreadID: threadID}, true
	})
}

// ApplySuggestion splices a suggestion into the document over its thread's
// range. The suggestion is re-indented to the range's first line, the thread
// is re-anchored to the new text, and threads strictly below the replaced
// range shift by the change in line count. No outdated scan runs.
//
// It reports whether the document changed. Unknown ids, resolved threads,
// blank suggestions and a second apply within the same message are no-ops.
func (s *Store) ApplySuggestion(threadID, messageID, suggestionID string) bool {
	return s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		ti := cur.ThreadIndex(threadID)
		if ti < 0 {
			return nil, Event{}, false
		}
		t := cur.Threads[ti]
		if t.Status == thread.StatusResolved {
			return nil, Event{}, false
		}
		mi := t.MessageIndex(messageID)
		if mi < 0 {
			return nil, Event{}, false
		}
		msg := &t.Messages[mi]
		sug := msg.Suggestion(suggestionID)
		if sug == nil || msg.HasApplied() {
			return nil, Event{}, false
		}

		lines := thread.Lines(cur.Document.Code)
		var firstLine string
		if t.StartLine >= 1 && t.StartLine <= len(lines) {
			firstLine = lines[t.StartLine-1]
		}
		adjusted := thread.Reindent(thread.Lines(sug.Suggested), thread.LeadingWhitespace(firstLine))
		adjustedText := strings.Join(adjusted, "\n")
		if strings.TrimSpace(adjustedText) == "" {
			return nil, Event{}, false
		}

		oldCount := t.EndLine - t.StartLine + 1
		newCount := len(adjusted)
		lineDiff := newCount - oldCount

		owner := t.Clone()
		owner.EndLine = t.StartLine + newCount - 1
		owner.OriginalCode = adjustedText
		owner.Status = thread.StatusActive
		m := owner.Messages[mi]
		m.Suggestions = append([]thread.Suggestion(nil), m.Suggestions...)
		m.Suggestion(suggestionID).Applied = true
		owner.Messages[mi] = m

		next := *cur
		next.Document.Code = strings.Join(thread.Splice(lines, t.StartLine, t.EndLine, adjusted), "\n")
		next.Threads = make([]*thread.Thread, len(cur.Threads))
		for i, other := range cur.Threads {
			switch {
			case i == ti:
				next.Threads[i] = owner
			case lineDiff != 0 && other.StartLine > t.EndLine:
				shifted := *other
				shifted.StartLine += lineDiff
				shifted.EndLine += lineDiff
				next.Threads[i] = &shifted
			default:
				next.Threads[i] = other
			}
		}
		return &next, Event{Kind: EventSuggestionApplied, ThreadID: threadID, MessageID: messageID}, true
	})
}

// ClearSession resets the document and removes every thread. The theme is
// reset to the default only if the store was configured to do so.
func (s *Store) ClearSession() {
	s.update(func(cur *thread.Snapshot) (*thread.Snapshot, Event, bool) {
		next := s.initial()
		if !s.clearResetsTheme {
			next.Theme = cur.Theme
		}
		return next, Event{Kind: EventSessionCleared}, true
	})
}

// Replace swaps in an entire snapshot, filling empty document fields and
// theme with their defaults. The store keeps its own copy of the thread list.
func (s *Store) Replace(snap *thread.Snapshot) {
	if snap == nil {
		return
	}
	next := *snap
	next.Threads = append([]*thread.Thread(nil), snap.Threads...)
	if next.Document.Language == "" {
		next.Document.Language = thread.DefaultLanguage
	}
	if next.Document.FileName == "" {
		next.Document.FileName = thread.DefaultFileName
	}
	if next.Theme == "" {
		next.Theme = s.defaultTheme
	}
	s.update(func(*thread.Snapshot) (*thread.Snapshot, Event, bool) {
		return &next, Event{Kind: EventSessionReplaced}, true
	})
}

// Load hydrates the store from its persister. It is a no-op without a
// persister or when nothing was saved.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.Replace(snap)
	return nil
}

// Save writes the current snapshot through the persister.
func (s *Store) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Highlight is a render instruction for one thread's line range.
type Highlight struct {
	ThreadID  string        `json:"thread_id"`
	StartLine int           `json:"start_line"`
	EndLine   int           `json:"end_line"`
	Status    thread.Status `json:"status"`
}

// Highlights returns one decoration per thread, in document order.
func (s *Store) Highlights() []Highlight {
	return Highlights(s.Snapshot())
}

// Highlights returns one decoration per thread of snap, in document order.
func Highlights(snap *thread.Snapshot) []Highlight {
	out := make([]Highlight, 0, len(snap.Threads))
	for _, t := range snap.Threads {
		out = append(out, Highlight{
			ThreadID:  t.ID,
			StartLine: t.StartLine,
			EndLine:   t.EndLine,
			Status:    t.Status,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].EndLine < out[j].EndLine
	})
	return out
}
