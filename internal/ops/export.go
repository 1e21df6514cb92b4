package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/export"
	"github.com/hpungsan/critique/internal/session"
)

// ExportFormat selects the export artifact.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatJSON     ExportFormat = "json"
)

// Extension returns the file extension for the format.
func (f ExportFormat) Extension() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".md"
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path   string       // optional, default: ~/.critique/exports/<name>-<timestamp>.<ext>
	Format ExportFormat // default: markdown, or inferred from Path's extension
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string       `json:"path"`
	Format     ExportFormat `json:"format"`
	Threads    int          `json:"threads"`
	Bytes      int          `json:"bytes"`
	ExportedAt int64        `json:"exported_at"`
}

// RenderMarkdown returns the Markdown export of the current session.
func RenderMarkdown(sess *session.Session, now time.Time) string {
	snap := sess.Store.Snapshot()
	return export.Markdown(export.Input{
		FileName:   snap.Document.FileName,
		Language:   snap.Document.Language,
		Threads:    snap.Threads,
		ExportedAt: now,
	})
}

// RenderBackup returns the JSON backup of the current session.
func RenderBackup(sess *session.Session, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := export.EncodeBackup(&buf, export.NewBackup(sess.Name, sess.Store.Snapshot(), now)); err != nil {
		return nil, errors.NewInternal(err)
	}
	return buf.Bytes(), nil
}

// Export writes the session to a file.
func Export(ctx context.Context, sess *session.Session, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	format, err := exportFormat(input)
	if err != nil {
		return nil, err
	}

	exportPath := input.Path
	if exportPath != "" && !strings.EqualFold(filepath.Ext(exportPath), format.Extension()) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s exports must use the %s extension", format, format.Extension()))
	}
	if exportPath == "" {
		exportPath, err = defaultExportPath(sess, format, now)
		if err != nil {
			return nil, err
		}
	}
	// Default paths embed user-controlled names, so they are checked too.
	if err := ValidatePath(exportPath, PathCheckWrite, ExportExtensions, sess.Config); err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = RenderBackup(sess, now)
		if err != nil {
			return nil, err
		}
	default:
		data = []byte(RenderMarkdown(sess, now))
	}

	select {
	case <-ctx.Done():
		return nil, errors.NewCancelled()
	default:
	}

	if err := writeFileAtomic(exportPath, data); err != nil {
		return nil, err
	}
	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Threads:    len(sess.Store.Snapshot().Threads),
		Bytes:      len(data),
		ExportedAt: now.Unix(),
	}, nil
}

func exportFormat(input ExportInput) (ExportFormat, error) {
	switch strings.ToLower(string(input.Format)) {
	case "md", string(FormatMarkdown):
		return FormatMarkdown, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case "":
		if strings.EqualFold(filepath.Ext(input.Path), ".json") {
			return FormatJSON, nil
		}
		return FormatMarkdown, nil
	default:
		return "", errors.NewInvalidRequest("format must be one of: markdown, json")
	}
}

// defaultExportPath names Markdown exports after the document and JSON
// backups after the session.
func defaultExportPath(sess *session.Session, format ExportFormat, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	timestamp := now.Format("2006-01-02T150405")

	var filename string
	if format == FormatJSON {
		filename = fmt.Sprintf("%s-%s.json", SanitizeForFilename(sess.Name), timestamp)
	} else {
		base := strings.TrimSuffix(export.FileName(sess.Store.Snapshot().Document.FileName), ".md")
		filename = fmt.Sprintf("%s-%s.md", SanitizeForFilename(base), timestamp)
	}
	return filepath.Join(dir, filename), nil
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so a failed export never leaves a partial file or clobbers the old
// one.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Windows cannot rename an open file.
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path is a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Windows refuses to rename over an existing file; keep the old one.
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}
