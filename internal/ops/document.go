package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/lang"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
)

// LoadDocumentInput contains parameters for the LoadDocument operation.
// Exactly one of Path or Content is used.
type LoadDocumentInput struct {
	Path     string  // file to read
	Content  *string // inline text
	FileName string  // default: base name of Path, or "untitled"
	Language string  // default: detected from FileName and content
}

// LoadDocumentOutput contains the result of LoadDocument and EditDocument.
type LoadDocumentOutput struct {
	DocumentView
	Truncated bool `json:"truncated"`
}

// LoadDocument replaces the document with a file or inline text, as if it
// had been dropped onto the editor. Threads are kept and re-checked.
func LoadDocument(ctx context.Context, sess *session.Session, input LoadDocumentInput) (*LoadDocumentOutput, error) {
	hasPath := strings.TrimSpace(input.Path) != ""
	if hasPath == (input.Content != nil) {
		return nil, errors.NewInvalidRequest("specify exactly one of path or content")
	}

	var code string
	fileName := strings.TrimSpace(input.FileName)
	if hasPath {
		data, err := readDocumentFile(input.Path)
		if err != nil {
			return nil, err
		}
		code = string(data)
		if fileName == "" {
			fileName = filepath.Base(input.Path)
		}
	} else {
		code = *input.Content
	}
	if fileName == "" {
		fileName = thread.DefaultFileName
	}

	code = normalizeNewlines(code)
	code, truncated := thread.Truncate(code, sess.Config.Editor.MaxLines)

	language := strings.ToLower(strings.TrimSpace(input.Language))
	if language == "" {
		language = lang.Detect(fileName, code)
	}

	sess.Store.SetCode(code)
	sess.Store.SetFileName(fileName)
	sess.Store.SetLanguage(language)

	if truncated {
		log.Warn().Str("file", fileName).Int("max_lines", sess.Config.Editor.MaxLines).Msg("Document truncated")
	}
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return &LoadDocumentOutput{DocumentView: *documentView(sess.Store.Snapshot()), Truncated: truncated}, nil
}

// EditDocumentInput contains parameters for the EditDocument operation.
type EditDocumentInput struct {
	Code string
}

// EditDocument replaces the text as a typed edit. While the language is
// still plaintext it is re-detected from the new content.
func EditDocument(ctx context.Context, sess *session.Session, input EditDocumentInput) (*LoadDocumentOutput, error) {
	code, truncated := thread.Truncate(normalizeNewlines(input.Code), sess.Config.Editor.MaxLines)

	sess.Store.SetCode(code)
	doc := sess.Store.Snapshot().Document
	if doc.Language == lang.Plaintext {
		if detected := lang.Detect(doc.FileName, code); detected != lang.Plaintext {
			sess.Store.SetLanguage(detected)
		}
	}

	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return &LoadDocumentOutput{DocumentView: *documentView(sess.Store.Snapshot()), Truncated: truncated}, nil
}

// GetDocument returns the document, its language and its highlights.
func GetDocument(sess *session.Session) *DocumentView {
	return documentView(sess.Store.Snapshot())
}

// SetLanguage overrides the detected language.
func SetLanguage(ctx context.Context, sess *session.Session, language string) (*DocumentView, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return nil, errors.NewInvalidRequest("language is required")
	}
	sess.Store.SetLanguage(language)
	if err := flush(ctx, sess); err != nil {
		return nil, err
	}
	return documentView(sess.Store.Snapshot()), nil
}

// SetTheme sets the theme. "toggle" flips between dark and light.
func SetTheme(ctx context.Context, sess *session.Session, theme string) (thread.Theme, error) {
	theme = strings.ToLower(strings.TrimSpace(theme))
	var next thread.Theme
	if theme == "toggle" {
		next = thread.ThemeLight
		if sess.Store.Snapshot().Theme == thread.ThemeLight {
			next = thread.ThemeDark
		}
	} else {
		t, ok := thread.ParseTheme(theme)
		if !ok {
			return "", errors.NewInvalidRequest("theme must be one of: dark, light, toggle")
		}
		next = t
	}
	sess.Store.SetTheme(next)
	if err := flush(ctx, sess); err != nil {
		return "", err
	}
	return next, nil
}

// readDocumentFile reads a source file, refusing anything over
// MaxDocumentBytes.
func readDocumentFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, errors.NewFileNotFound(path)
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to stat %s: %w", path, err))
	}
	if info.IsDir() {
		return nil, errors.NewInvalidRequest("path is a directory")
	}
	if info.Size() > MaxDocumentBytes {
		return nil, errors.NewFileTooLarge(MaxDocumentBytes, info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to open %s: %w", path, err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if int64(len(data)) > MaxDocumentBytes {
		return nil, errors.NewFileTooLarge(MaxDocumentBytes, int64(len(data)))
	}
	return data, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
