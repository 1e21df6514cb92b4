// Package response extracts structured review output from model text.
package response

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hpungsan/critique/internal/thread"
)

// BlockKind names a fenced block label the model is instructed to emit.
type BlockKind string

const (
	BlockSuggestion BlockKind = "suggestion"
	BlockOutside    BlockKind = "outside"
)

type blockPattern struct {
	kind    BlockKind
	pattern *regexp.Regexp
}

// blockPatterns are evaluated in order. Inner text is capture group 1.
// Unterminated fences never match.
var blockPatterns = []blockPattern{
	{BlockSuggestion, regexp.MustCompile("(?s)```suggestion(?::\\w+)?\\n(.*?)```")},
	{BlockOutside, regexp.MustCompile("(?s)```outside\\n(.*?)```")},
}

var suggestionOpen = regexp.MustCompile("```suggestion(?::\\w+)?\\n")

// Result is the structured content of a completed response.
type Result struct {
	Suggestions  []thread.Suggestion
	OutsideNotes []string
}

// Parse extracts suggestions and outside notes from text. Every suggestion
// records originalCode as the code it replaces.
func Parse(text, originalCode string) Result {
	return Result{
		Suggestions:  ParseSuggestions(text, originalCode),
		OutsideNotes: ParseOutsideNotes(text),
	}
}

// ParseSuggestions returns one suggestion per non-empty suggestion block,
// in source order, with ids "suggestion-0", "suggestion-1", ...
func ParseSuggestions(text, originalCode string) []thread.Suggestion {
	blocks := Blocks(text, BlockSuggestion)
	if len(blocks) == 0 {
		return nil
	}
	out := make([]thread.Suggestion, len(blocks))
	for i, b := range blocks {
		out[i] = thread.Suggestion{
			ID:        SuggestionID(i),
			Original:  originalCode,
			Suggested: b,
		}
	}
	return out
}

// ParseOutsideNotes returns the trimmed body of each non-empty outside block.
func ParseOutsideNotes(text string) []string {
	return Blocks(text, BlockOutside)
}

// HasSuggestions reports whether text opens at least one suggestion block.
func HasSuggestions(text string) bool {
	return suggestionOpen.MatchString(text)
}

// Blocks returns the trimmed, non-empty bodies of every block of kind.
func Blocks(text string, kind BlockKind) []string {
	var out []string
	for _, bp := range blockPatterns {
		if bp.kind != kind {
			continue
		}
		for _, m := range bp.pattern.FindAllStringSubmatch(text, -1) {
			if body := strings.TrimSpace(m[1]); body != "" {
				out = append(out, body)
			}
		}
	}
	return out
}

// SuggestionID formats the id of the n-th suggestion in a message.
func SuggestionID(n int) string {
	return fmt.Sprintf("suggestion-%d", n)
}
