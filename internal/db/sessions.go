package db

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/thread"
)

// DefaultSessionName is used when no session is named.
const DefaultSessionName = "default"

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName trims, lowercases and collapses internal whitespace, so
// "My  Review" and "my review" address the same session.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// SessionInfo summarizes a saved session.
type SessionInfo struct {
	Name      string `json:"name"`
	FileName  string `json:"file_name"`
	Language  string `json:"language"`
	Threads   int    `json:"threads"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SessionStore persists one named session. It implements store.Persister.
type SessionStore struct {
	db      *sql.DB
	nameRaw string
	norm    string
	now     func() time.Time
}

// NewSessionStore returns the persister for the named session. An empty
// name selects DefaultSessionName.
func NewSessionStore(db *sql.DB, name string) *SessionStore {
	if NormalizeName(name) == "" {
		name = DefaultSessionName
	}
	return &SessionStore{
		db:      db,
		nameRaw: strings.TrimSpace(name),
		norm:    NormalizeName(name),
		now:     time.Now,
	}
}

// Name returns the normalized session name.
func (s *SessionStore) Name() string { return s.norm }

// Load returns the saved snapshot, or nil if the session was never saved.
func (s *SessionStore) Load(ctx context.Context) (*thread.Snapshot, error) {
	snap := &thread.Snapshot{}
	var theme string
	err := s.db.QueryRowContext(ctx, `
		SELECT code, language, file_name, theme
		FROM sessions WHERE name_norm = ?
	`, s.norm).Scan(&snap.Document.Code, &snap.Document.Language, &snap.Document.FileName, &theme)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	snap.Theme = thread.Theme(theme)

	threads, err := s.loadThreads(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	snap.Threads = threads
	return snap, nil
}

func (s *SessionStore) loadThreads(ctx context.Context) ([]*thread.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_line, end_line, status, original_code, created_at
		FROM threads WHERE session = ? ORDER BY position
	`, s.norm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*thread.Thread
	byID := make(map[string]*thread.Thread)
	for rows.Next() {
		var (
			t       thread.Thread
			status  string
			created int64
		)
		if err := rows.Scan(&t.ID, &t.StartLine, &t.EndLine, &status, &t.OriginalCode, &created); err != nil {
			return nil, err
		}
		t.Status = thread.Status(status)
		t.CreatedAt = fromNanos(created)
		threads = append(threads, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	messages, err := s.loadMessages(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if t := byID[m.threadID]; t != nil {
			t.Messages = append(t.Messages, m.Message)
		}
	}
	return threads, nil
}

type storedMessage struct {
	threadID string
	thread.Message
}

func (s *SessionStore) loadMessages(ctx context.Context) ([]storedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, id, role, content, created_at
		FROM messages WHERE session = ? ORDER BY thread_id, position
	`, s.norm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []storedMessage
	index := make(map[string]int)
	for rows.Next() {
		var (
			m       storedMessage
			role    string
			created int64
		)
		if err := rows.Scan(&m.threadID, &m.ID, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Role = thread.Role(role)
		m.CreatedAt = fromNanos(created)
		index[m.threadID+"\x00"+m.ID] = len(messages)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadSuggestions(ctx, messages, index); err != nil {
		return nil, err
	}
	if err := s.loadNotes(ctx, messages, index); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SessionStore) loadSuggestions(ctx context.Context, messages []storedMessage, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, message_id, id, original, suggested, applied
		FROM suggestions WHERE session = ? ORDER BY thread_id, message_id, position
	`, s.norm)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			threadID, messageID string
			sg                  thread.Suggestion
		)
		if err := rows.Scan(&threadID, &messageID, &sg.ID, &sg.Original, &sg.Suggested, &sg.Applied); err != nil {
			return err
		}
		if i, ok := index[threadID+"\x00"+messageID]; ok {
			messages[i].Suggestions = append(messages[i].Suggestions, sg)
		}
	}
	return rows.Err()
}

func (s *SessionStore) loadNotes(ctx context.Context, messages []storedMessage, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, message_id, note
		FROM outside_notes WHERE session = ? ORDER BY thread_id, message_id, position
	`, s.norm)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var threadID, messageID, note string
		if err := rows.Scan(&threadID, &messageID, &note); err != nil {
			return err
		}
		if i, ok := index[threadID+"\x00"+messageID]; ok {
			messages[i].OutsideNotes = append(messages[i].OutsideNotes, note)
		}
	}
	return rows.Err()
}

// Save replaces the stored session with snap in a single transaction.
func (s *SessionStore) Save(ctx context.Context, snap *thread.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (name_norm, name_raw, code, language, file_name, theme, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_norm) DO UPDATE SET
			code = excluded.code,
			language = excluded.language,
			file_name = excluded.file_name,
			theme = excluded.theme,
			updated_at = excluded.updated_at
	`, s.norm, s.nameRaw, snap.Document.Code, snap.Document.Language, snap.Document.FileName,
		string(snap.Theme), now, now)
	if err != nil {
		return errors.NewInternal(err)
	}

	if err := deleteChildren(ctx, tx, s.norm); err != nil {
		return errors.NewInternal(err)
	}

	for i, t := range snap.Threads {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threads (session, id, position, start_line, end_line, status, original_code, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.norm, t.ID, i, t.StartLine, t.EndLine, string(t.Status), t.OriginalCode, toNanos(t.CreatedAt)); err != nil {
			return errors.NewInternal(err)
		}
		for j, m := range t.Messages {
			if err := insertMessage(ctx, tx, s.norm, t.ID, j, m); err != nil {
				return errors.NewInternal(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, session, threadID string, position int, m thread.Message) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session, thread_id, id, position, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session, threadID, m.ID, position, string(m.Role), m.Content, toNanos(m.CreatedAt)); err != nil {
		return err
	}
	for k, sg := range m.Suggestions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suggestions (session, thread_id, message_id, id, position, original, suggested, applied)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, session, threadID, m.ID, sg.ID, k, sg.Original, sg.Suggested, sg.Applied); err != nil {
			return err
		}
	}
	for k, note := range m.OutsideNotes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outside_notes (session, thread_id, message_id, position, note)
			VALUES (?, ?, ?, ?, ?)
		`, session, threadID, m.ID, k, note); err != nil {
			return err
		}
	}
	return nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, session string) error {
	for _, table := range []string{"outside_notes", "suggestions", "messages", "threads"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session = ?", session); err != nil {
			return err
		}
	}
	return nil
}

// ListSessions returns all saved sessions, most recently updated first.
func ListSessions(ctx context.Context, db *sql.DB) ([]SessionInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.name_norm, s.file_name, s.language, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM threads t WHERE t.session = s.name_norm)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.name_norm
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.Name, &info.FileName, &info.Language, &info.CreatedAt, &info.UpdatedAt, &info.Threads); err != nil {
			return nil, errors.NewInternal(err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return sessions, nil
}

// DeleteSession removes a saved session and all of its threads.
func DeleteSession(ctx context.Context, db *sql.DB, name string) error {
	norm := NormalizeName(name)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE name_norm = ?", norm)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", norm)
	}

	if err := deleteChildren(ctx, tx, norm); err != nil {
		return errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
