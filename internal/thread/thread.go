package thread

import (
	"time"
)

// Status is the consistency state of a thread relative to the document.
type Status string

const (
	StatusActive   Status = "active"
	StatusOutdated Status = "outdated"
	StatusResolved Status = "resolved"
)

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusOutdated, StatusResolved:
		return Status(s), true
	}
	return "", false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Action is the kind of review requested for a selection.
type Action string

const (
	ActionExplain Action = "explain"
	ActionBugs    Action = "bugs"
	ActionImprove Action = "improve"
	ActionCustom  Action = "custom"
)

// Actions lists the valid review actions in menu order.
var Actions = []Action{ActionExplain, ActionBugs, ActionImprove, ActionCustom}

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// DefaultCustomPhrase is used when a custom action carries no prompt.
const DefaultCustomPhrase = "Review this code"

// Phrase returns the text of the initial user message for the action.
func (a Action) Phrase(customPrompt string) string {
	switch a {
	case ActionExplain:
		return "Explain this code"
	case ActionBugs:
		return "Find bugs in this code"
	case ActionImprove:
		return "Improve this code"
	default:
		if customPrompt != "" {
			return customPrompt
		}
		return DefaultCustomPhrase
	}
}

// Theme is the persisted UI theme preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme converts a string to a Theme.
func ParseTheme(s string) (Theme, bool) {
	switch Theme(s) {
	case ThemeDark, ThemeLight:
		return Theme(s), true
	}
	return "", false
}

// Suggestion is a proposed replacement for a thread's anchored code.
type Suggestion struct {
	ID        string `json:"id"`
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
	Applied   bool   `json:"applied"`
}

// Message is one turn of a thread conversation.
type Message struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
	OutsideNotes []string     `json:"outside_notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Suggestion returns the suggestion with the given id, or nil.
func (m *Message) Suggestion(id string) *Suggestion {
	for i := range m.Suggestions {
		if m.Suggestions[i].ID == id {
			return &m.Suggestions[i]
		}
	}
	return nil
}

// HasApplied reports whether any suggestion of the message was applied.
func (m *Message) HasApplied() bool {
	for _, s := range m.Suggestions {
		if s.Applied {
			return true
		}
	}
	return false
}

// Thread is a conversation anchored to a 1-indexed inclusive line range.
// Threads held by a Snapshot are never mutated; the store replaces them.
type Thread struct {
	ID           string    `json:"id"`
	StartLine    int       `json:"start_line"`
	EndLine      int       `json:"end_line"`
	Status       Status    `json:"status"`
	OriginalCode string    `json:"original_code"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageIndex returns the index of the message with the given id, or -1.
func (t *Thread) MessageIndex(id string) int {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy of t whose message slice may be modified freely.
// Suggestion and note slices are shared until replaced.
func (t *Thread) Clone() *Thread {
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return &c
}

// Document is the single text buffer under review.
type Document struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	FileName string `json:"file_name"`
}

// Default document values.
const (
	DefaultLanguage = "plaintext"
	DefaultFileName = "untitled"
)

// EmptyDocument returns the initial document.
func EmptyDocument() Document {
	return Document{Code: "", Language: DefaultLanguage, FileName: DefaultFileName}
}

// Snapshot is an immutable view of the whole session state.
type Snapshot struct {
	Document Document  `json:"document"`
	Threads  []*Thread `json:"threads"`
	Theme    Theme     `json:"theme"`
}

// Thread returns the thread with the given id, or nil.
func (s *Snapshot) Thread(id string) *Thread {
	for _, t := range s.Threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ThreadIndex returns the index of the thread with the given id, or -1.
func (s *Snapshot) ThreadIndex(id string) int {
	for i, t := range s.Threads {
		if t.ID == id {
			return i
		}
	}
	return -1
}
