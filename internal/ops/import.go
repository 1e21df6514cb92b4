package ops

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/export"
	"github.com/hpungsan/critique/internal/session"
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required, a JSON backup written by Export
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Path          string `json:"path"`
	SourceSession string `json:"source_session"`
	Threads       int    `json:"threads"`
	ExportedAt    int64  `json:"exported_at"`
}

// Import replaces the current session with a JSON backup. A review in
// flight is aborted first.
func Import(ctx context.Context, sess *session.Session, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, ImportExtensions, sess.Config); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := err.(*errors.CritiqueError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if info.Size() > MaxDocumentBytes {
		return nil, errors.NewFileTooLarge(MaxDocumentBytes, info.Size())
	}

	backup, err := export.DecodeBackup(io.LimitReader(file, MaxDocumentBytes), sess.Config.Editor.MaxLines)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	if err := AbortReview(ctx, sess); err != nil {
		return nil, err
	}
	sess.Store.Replace(&backup.Snapshot)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", input.Path).
		Str("source_session", backup.Session).
		Int("threads", len(backup.Snapshot.Threads)).
		Msg("Session imported")

	return &ImportOutput{
		Path:          input.Path,
		SourceSession: backup.Session,
		Threads:       len(backup.Snapshot.Threads),
		ExportedAt:    backup.ExportedAt,
	}, nil
}
