package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hpungsan/critique/internal/thread"
)

// SchemaVersion is the current backup format version.
const SchemaVersion = "1.0"

// Backup is a complete session in JSON form.
type Backup struct {
	// Header detection field, always true in files we write.
	CritiqueExport bool            `json:"_critique_export"`
	SchemaVersion  string          `json:"schema_version"`
	ExportedAt     int64           `json:"exported_at"`
	Session        string          `json:"session"`
	Snapshot       thread.Snapshot `json:"snapshot"`
}

// NewBackup wraps a snapshot for export.
func NewBackup(session string, snap *thread.Snapshot, now time.Time) *Backup {
	b := &Backup{
		CritiqueExport: true,
		SchemaVersion:  SchemaVersion,
		ExportedAt:     now.Unix(),
		Session:        session,
	}
	if snap != nil {
		b.Snapshot = *snap
	}
	return b
}

// EncodeBackup writes b as indented JSON.
func EncodeBackup(w io.Writer, b *Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// DecodeBackup reads and validates a backup. maxLines bounds the document;
// 0 disables the bound.
func DecodeBackup(r io.Reader, maxLines int) (*Backup, error) {
	var b Backup
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("invalid backup JSON: %w", err)
	}
	if !b.CritiqueExport {
		return nil, fmt.Errorf("not a critique backup (missing _critique_export header)")
	}
	if b.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q", b.SchemaVersion)
	}
	if err := Validate(&b.Snapshot, maxLines); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks a snapshot read from outside for the structural rules the
// store relies on.
func Validate(snap *thread.Snapshot, maxLines int) error {
	if maxLines > 0 && thread.LineCount(snap.Document.Code) > maxLines {
		return fmt.Errorf("document has %d lines (max %d)", thread.LineCount(snap.Document.Code), maxLines)
	}
	if snap.Theme != "" {
		if _, ok := thread.ParseTheme(string(snap.Theme)); !ok {
			return fmt.Errorf("unknown theme %q", snap.Theme)
		}
	}

	threadIDs := make(map[string]bool, len(snap.Threads))
	for i, t := range snap.Threads {
		if t == nil {
			return fmt.Errorf("threads[%d]: null thread", i)
		}
		if t.ID == "" {
			return fmt.Errorf("threads[%d]: id is required", i)
		}
		if threadIDs[t.ID] {
			return fmt.Errorf("threads[%d]: duplicate id %s", i, t.ID)
		}
		threadIDs[t.ID] = true
		if _, ok := thread.ParseStatus(string(t.Status)); !ok {
			return fmt.Errorf("threads[%d]: unknown status %q", i, t.Status)
		}
		if t.StartLine < 1 || t.StartLine > t.EndLine {
			return fmt.Errorf("threads[%d]: invalid range %d-%d", i, t.StartLine, t.EndLine)
		}

		messageIDs := make(map[string]bool, len(t.Messages))
		for j, m := range t.Messages {
			if m.ID == "" || messageIDs[m.ID] {
				return fmt.Errorf("threads[%d].messages[%d]: missing or duplicate id", i, j)
			}
			messageIDs[m.ID] = true
			if m.Role != thread.RoleUser && m.Role != thread.RoleAssistant {
				return fmt.Errorf("threads[%d].messages[%d]: unknown role %q", i, j, m.Role)
			}
			applied := 0
			for _, s := range m.Suggestions {
				if s.Applied {
					applied++
				}
			}
			if applied > 1 {
				return fmt.Errorf("threads[%d].messages[%d]: more than one applied suggestion", i, j)
			}
		}
	}
	return nil
}
