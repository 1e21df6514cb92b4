// Package export renders review sessions for people (Markdown) and for
// re-import (JSON backup).
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/critique/internal/thread"
)

// TimeFormat is used for every timestamp in the Markdown export.
const TimeFormat = "1/2/2006, 3:04:05 PM"

// Input is what a Markdown export covers.
type Input struct {
	FileName   string
	Language   string
	Threads    []*thread.Thread
	ExportedAt time.Time
	// Location for timestamps. Nil means time.Local.
	Location *time.Location
}

// FileName returns the download name for a document's export.
func FileName(documentName string) string {
	return documentName + "-review.md"
}

var statusLabels = map[thread.Status]string{
	thread.StatusActive:   "",
	thread.StatusOutdated: " (Outdated)",
	thread.StatusResolved: " (Resolved)",
}

// Markdown renders the session: a metadata header, then one section per
// thread oldest first, each with its original code and its conversation.
func Markdown(in Input) string {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}
	stamp := func(t time.Time) string { return t.In(loc).Format(TimeFormat) }

	var b strings.Builder
	b.WriteString("# AI Code Review Export\n\n")
	fmt.Fprintf(&b, "**File:** %s\n", in.FileName)
	fmt.Fprintf(&b, "**Language:** %s\n", in.Language)
	fmt.Fprintf(&b, "**Exported:** %s\n", stamp(in.ExportedAt))
	fmt.Fprintf(&b, "**Total Threads:** %d\n\n", len(in.Threads))
	b.WriteString("---\n\n")

	if len(in.Threads) == 0 {
		b.WriteString("*No review threads to export.*\n")
		return b.String()
	}

	threads := append([]*thread.Thread(nil), in.Threads...)
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})

	for i, t := range threads {
		fmt.Fprintf(&b, "## Thread %d: Lines %d-%d%s\n\n", i+1, t.StartLine, t.EndLine, statusLabels[t.Status])
		fmt.Fprintf(&b, "*Created: %s*\n\n", stamp(t.CreatedAt))
		fmt.Fprintf(&b, "**Original Code:**\n\n```\n%s\n```\n\n", t.OriginalCode)
		b.WriteString("### Conversation\n\n")

		messages := append([]thread.Message(nil), t.Messages...)
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		})
		for _, m := range messages {
			writeMessage(&b, m, stamp)
			b.WriteString("\n---\n\n")
		}
	}
	return b.String()
}

func writeMessage(b *strings.Builder, m thread.Message, stamp func(time.Time) string) {
	role := "AI"
	if m.Role == thread.RoleUser {
		role = "You"
	}
	fmt.Fprintf(b, "**%s** (%s):\n\n%s\n", role, stamp(m.CreatedAt), m.Content)

	if len(m.Suggestions) > 0 {
		b.WriteString("\n#### Code Suggestions\n")
		for i, s := range m.Suggestions {
			status := "(Not applied)"
			if s.Applied {
				status = "(Applied)"
			}
			fmt.Fprintf(b, "\n**Suggestion %d** %s\n\n", i+1, status)
			b.WriteString("```diff\n")
			fmt.Fprintf(b, "- %s\n", strings.Join(strings.Split(s.Original, "\n"), "\n- "))
			fmt.Fprintf(b, "+ %s\n", strings.Join(strings.Split(s.Suggested, "\n"), "\n+ "))
			b.WriteString("```\n")
		}
	}

	if len(m.OutsideNotes) > 0 {
		b.WriteString("\n#### Notes (changes needed outside selection)\n")
		for _, note := range m.OutsideNotes {
			fmt.Fprintf(b, "- %s\n", note)
		}
	}
}
