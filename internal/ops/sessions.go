package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/critique/internal/db"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/session"
)

// ClearInput contains parameters for the Clear operation.
type ClearInput struct {
	// Confirm must be true; clearing cannot be undone.
	Confirm bool
}

// ClearOutput contains the result of the Clear operation.
type ClearOutput struct {
	Cleared        bool `json:"cleared"`
	ThreadsRemoved int  `json:"threads_removed"`
}

// Clear empties the document and removes every thread.
func Clear(ctx context.Context, sess *session.Session, input ClearInput) (*ClearOutput, error) {
	if !input.Confirm {
		return nil, errors.NewInvalidRequest("clearing the session requires confirm=true")
	}
	if err := AbortReview(ctx, sess); err != nil {
		return nil, err
	}
	removed := len(sess.Store.Snapshot().Threads)
	sess.Store.ClearSession()
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return &ClearOutput{Cleared: true, ThreadsRemoved: removed}, nil
}

// ListSessionsOutput contains the result of the ListSessions operation.
type ListSessionsOutput struct {
	Sessions []db.SessionInfo `json:"sessions"`
	Current  string           `json:"current,omitempty"`
}

// ListSessions returns the saved sessions, most recently updated first.
// current, if non-empty, is echoed back normalized.
func ListSessions(ctx context.Context, database *sql.DB, current string) (*ListSessionsOutput, error) {
	sessions, err := db.ListSessions(ctx, database)
	if err != nil {
		return nil, err
	}
	return &ListSessionsOutput{Sessions: sessions, Current: db.NormalizeName(current)}, nil
}

// DeleteSessionOutput contains the result of the DeleteSession operation.
type DeleteSessionOutput struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// DeleteSession removes a saved session. The session in use cannot be
// deleted; clear it instead.
func DeleteSession(ctx context.Context, database *sql.DB, name, current string) (*DeleteSessionOutput, error) {
	norm := db.NormalizeName(name)
	if norm == "" {
		return nil, errors.NewInvalidRequest("session name is required")
	}
	if strings.TrimSpace(current) != "" && norm == db.NormalizeName(current) {
		return nil, errors.NewInvalidRequest("cannot delete the session in use; clear it instead")
	}
	if err := db.DeleteSession(ctx, database, norm); err != nil {
		return nil, err
	}
	return &DeleteSessionOutput{Name: norm, Deleted: true}, nil
}
