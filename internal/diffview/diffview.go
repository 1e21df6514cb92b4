// Package diffview computes line-level diffs between a suggestion's
// original code and its replacement.
package diffview

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind classifies a diff line.
type Kind string

const (
	Equal  Kind = "equal"
	Delete Kind = "delete"
	Insert Kind = "insert"
)

// Line is one line of a diff. OldLine and NewLine are document line
// numbers, 0 when the line does not exist on that side.
type Line struct {
	Kind    Kind   `json:"kind"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
	Text    string `json:"text"`
}

// Diff is the result of comparing two texts.
type Diff struct {
	Lines   []Line `json:"lines"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// Lines diffs before against after line by line. firstLine is the document
// line number of the first line of before (and of after).
func Lines(before, after string, firstLine int) *Diff {
	if firstLine < 1 {
		firstLine = 1
	}
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(terminate(before), terminate(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	d := &Diff{}
	oldNum, newNum := firstLine, firstLine
	for _, diff := range diffs {
		for _, text := range splitLines(diff.Text) {
			switch diff.Type {
			case diffmatchpatch.DiffDelete:
				d.Lines = append(d.Lines, Line{Kind: Delete, OldLine: oldNum, Text: text})
				d.Removed++
				oldNum++
			case diffmatchpatch.DiffInsert:
				d.Lines = append(d.Lines, Line{Kind: Insert, NewLine: newNum, Text: text})
				d.Added++
				newNum++
			case diffmatchpatch.DiffEqual:
				d.Lines = append(d.Lines, Line{Kind: Equal, OldLine: oldNum, NewLine: newNum, Text: text})
				oldNum++
				newNum++
			}
		}
	}
	return d
}

// Unified renders the diff with "-", "+" and " " prefixes, one line each.
func (d *Diff) Unified() string {
	var b strings.Builder
	for _, l := range d.Lines {
		prefix := " "
		switch l.Kind {
		case Delete:
			prefix = "-"
		case Insert:
			prefix = "+"
		}
		b.WriteString(prefix)
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Summary is a short "+N -M" description.
func (d *Diff) Summary() string {
	return fmt.Sprintf("+%d -%d", d.Added, d.Removed)
}

// terminate ends text with a newline so the last line compares like the
// others.
func terminate(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
