package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceRange(t *testing.T) {
	lines := Lines("a\nb\nc\nd")

	tests := []struct {
		name       string
		start, end int
		want       string
	}{
		{"single line", 2, 2, "b"},
		{"full range", 1, 4, "a\nb\nc\nd"},
		{"clamped end", 3, 9, "c\nd"},
		{"past the end", 7, 9, ""},
		{"inverted", 3, 2, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SliceRange(lines, tt.start, tt.end))
		})
	}
}

func TestLeadingWhitespace(t *testing.T) {
	assert.Equal(t, "    ", LeadingWhitespace("    x := 1"))
	assert.Equal(t, "\t", LeadingWhitespace("\treturn"))
	assert.Equal(t, "", LeadingWhitespace("func main() {"))
	assert.Equal(t, "  ", LeadingWhitespace("  "))
}

func TestReindent(t *testing.T) {
	t.Run("re-roots relative structure", func(t *testing.T) {
		got := Reindent([]string{"if x {", "  y()", "", "}"}, "    ")
		assert.Equal(t, []string{"    if x {", "      y()", "", "    }"}, got)
	})

	t.Run("matching indent is untouched", func(t *testing.T) {
		in := []string{"  a", "b"}
		assert.Equal(t, in, Reindent(in, "  "))
	})

	t.Run("lines shallower than the first lose their indent", func(t *testing.T) {
		got := Reindent([]string{"    a", "  b"}, "\t")
		assert.Equal(t, []string{"\ta", "\tb"}, got)
	})

	t.Run("empty base strips the suggestion root", func(t *testing.T) {
		got := Reindent([]string{"  a", "    b"}, "")
		assert.Equal(t, []string{"a", "  b"}, got)
	})
}

func TestSplice(t *testing.T) {
	lines := Lines("1\n2\n3\n4\n5")

	got := Splice(lines, 2, 3, []string{"x", "y", "z"})
	assert.Equal(t, []string{"1", "x", "y", "z", "4", "5"}, got)

	// input untouched
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, lines)

	got = Splice(lines, 5, 5, []string{"last"})
	assert.Equal(t, []string{"1", "2", "3", "4", "last"}, got)
}

func TestTruncate(t *testing.T) {
	out, truncated := Truncate("a\nb\nc", 2)
	require.True(t, truncated)
	assert.Equal(t, "a\nb", out)

	out, truncated = Truncate("a\nb", 2)
	require.False(t, truncated)
	assert.Equal(t, "a\nb", out)

	out, truncated = Truncate("a\nb\nc", 0)
	require.False(t, truncated)
	assert.Equal(t, "a\nb\nc", out)
}

func TestValidRange(t *testing.T) {
	assert.True(t, ValidRange(1, 1, 1))
	assert.True(t, ValidRange(2, 5, 5))
	assert.False(t, ValidRange(0, 1, 5))
	assert.False(t, ValidRange(3, 2, 5))
	assert.False(t, ValidRange(4, 6, 5))
}

func TestActionPhrase(t *testing.T) {
	assert.Equal(t, "Explain this code", ActionExplain.Phrase("ignored"))
	assert.Equal(t, "Find bugs in this code", ActionBugs.Phrase(""))
	assert.Equal(t, "Improve this code", ActionImprove.Phrase(""))
	assert.Equal(t, "Why the loop?", ActionCustom.Phrase("Why the loop?"))
	assert.Equal(t, "Review this code", ActionCustom.Phrase(""))
}
