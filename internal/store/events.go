package store

import "github.com/hpungsan/critique/internal/thread"

// EventKind identifies the mutation that produced an Event.
type EventKind string

const (
	EventDocumentChanged   EventKind = "document_changed"
	EventThemeChanged      EventKind = "theme_changed"
	EventThreadCreated     EventKind = "thread_created"
	EventThreadUpdated     EventKind = "thread_updated"
	EventThreadDeleted     EventKind = "thread_deleted"
	EventMessageAdded      EventKind = "message_added"
	EventMessageUpdated    EventKind = "message_updated"
	EventSuggestionApplied EventKind = "suggestion_applied"
	EventSessionCleared    EventKind = "session_cleared"
	EventSessionReplaced   EventKind = "session_replaced"
)

// Event describes a committed mutation. Snapshot is the state right after it.
type Event struct {
	Kind      EventKind
	ThreadID  string
	MessageID string
	Snapshot  *thread.Snapshot
}

// Subscribe registers fn to be called after every committed mutation and
// returns a function that removes it. fn runs on the mutating goroutine,
// outside the write lock, and must not block. Events arrive in commit order,
// one at a time, so fn may read the store but must not mutate it.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
