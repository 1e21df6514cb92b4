package thread

import (
	"strings"
	"unicode"
)

// Lines splits text on "\n". Empty text is one empty line.
func Lines(text string) []string {
	return strings.Split(text, "\n")
}

// LineCount returns the number of lines in text.
func LineCount(text string) int {
	return strings.Count(text, "\n") + 1
}

// SliceRange returns lines [start, end] (1-indexed, inclusive) joined by "\n".
// The range is clamped to the available lines; a range entirely past the
// end yields "".
func SliceRange(lines []string, start, end int) string {
	lo := clamp(start-1, 0, len(lines))
	hi := clamp(end, 0, len(lines))
	if lo >= hi {
		return ""
	}
	return strings.Join(lines[lo:hi], "\n")
}

// LeadingWhitespace returns the whitespace prefix of s.
func LeadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

// IsBlank reports whether s contains only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Reindent re-roots lines at baseIndent while keeping each line's indentation
// relative to the first line. Blank lines are returned unchanged. If the
// first line already carries baseIndent, lines are returned as is.
func Reindent(lines []string, baseIndent string) []string {
	var first string
	if len(lines) > 0 {
		first = lines[0]
	}
	suggIndent := LeadingWhitespace(first)
	if suggIndent == baseIndent {
		return lines
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		if IsBlank(line) {
			out[i] = line
			continue
		}
		indent := LeadingWhitespace(line)
		var rel string
		if len(indent) > len(suggIndent) {
			rel = indent[len(suggIndent):]
		}
		out[i] = baseIndent + rel + line[len(indent):]
	}
	return out
}

// Splice replaces lines [start, end] (1-indexed, inclusive) with repl and
// returns a new slice. Bounds are clamped the same way SliceRange clamps.
func Splice(lines []string, start, end int, repl []string) []string {
	lo := clamp(start-1, 0, len(lines))
	hi := clamp(end, lo, len(lines))
	out := make([]string, 0, len(lines)-(hi-lo)+len(repl))
	out = append(out, lines[:lo]...)
	out = append(out, repl...)
	out = append(out, lines[hi:]...)
	return out
}

// Truncate keeps at most max lines of text, dropping the tail.
// It reports whether anything was dropped. A non-positive max disables the cap.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}
	lines := Lines(text)
	if len(lines) <= max {
		return text, false
	}
	return strings.Join(lines[:max], "\n"), true
}

// ValidRange reports whether 1 <= start <= end <= lineCount.
func ValidRange(start, end, lineCount int) bool {
	return start >= 1 && start <= end && end <= lineCount
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
