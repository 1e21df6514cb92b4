// Package lang classifies source text into editor language tags.
//
// Detection order is fixed: file extension, then shebang, then content
// heuristics, then "plaintext". Each stage is an ordered table and the first
// matching entry wins.
package lang

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Plaintext is the tag returned when nothing matches.
const Plaintext = "plaintext"

var extensions = map[string]string{
	"js":  "javascript",
	"jsx": "javascript",
	"mjs": "javascript",
	"cjs": "javascript",
	"ts":  "typescript",
	"tsx": "typescript",

	"html":   "html",
	"htm":    "html",
	"vue":    "html",
	"svelte": "html",
	"css":    "css",
	"scss":   "scss",
	"less":   "less",
	"json":   "json",
	"xml":    "xml",
	"svg":    "xml",

	"py":      "python",
	"pyw":     "python",
	"pyi":     "python",
	"rb":      "ruby",
	"rake":    "ruby",
	"gemspec": "ruby",
	"go":      "go",
	"rs":      "rust",
	"java":    "java",
	"kt":      "kotlin",
	"kts":     "kotlin",
	"c":       "c",
	"h":       "c",
	"cpp":     "cpp",
	"cc":      "cpp",
	"cxx":     "cpp",
	"hpp":     "cpp",
	"hxx":     "cpp",
	"cs":      "csharp",
	"php":     "php",
	"swift":   "swift",
	"sh":      "shell",
	"bash":    "shell",
	"zsh":     "shell",

	"yaml":       "yaml",
	"yml":        "yaml",
	"toml":       "ini",
	"ini":        "ini",
	"env":        "ini",
	"md":         "markdown",
	"mdx":        "markdown",
	"sql":        "sql",
	"graphql":    "graphql",
	"gql":        "graphql",
	"dockerfile": "dockerfile",

	"r":     "r",
	"lua":   "lua",
	"pl":    "perl",
	"pm":    "perl",
	"scala": "scala",
	"clj":   "clojure",
	"ex":    "elixir",
	"exs":   "elixir",
	"erl":   "erlang",
	"hrl":   "erlang",
	"hs":    "haskell",
	"dart":  "dart",
}

type rule struct {
	pattern  *regexp.Regexp
	language string
}

// shebangRules are matched against the trimmed first line only.
var shebangRules = []rule{
	{regexp.MustCompile(`^#!.*\bpython[23]?\b`), "python"},
	{regexp.MustCompile(`^#!.*\bnode\b`), "javascript"},
	{regexp.MustCompile(`^#!.*\b(ba)?sh\b`), "shell"},
	{regexp.MustCompile(`^#!.*\bzsh\b`), "shell"},
	{regexp.MustCompile(`^#!.*\bruby\b`), "ruby"},
	{regexp.MustCompile(`^#!.*\bperl\b`), "perl"},
	{regexp.MustCompile(`^#!.*\bphp\b`), "php"},
}

// contentRules are matched against the whole text. Order matters: more
// specific signatures come before languages that share their syntax.
// Without the m flag, ^ and $ anchor to the whole text.
var contentRules = []rule{
	// typescript before javascript
	{regexp.MustCompile(`\b(interface|type|enum)\s+\w+\s*[{=<]`), "typescript"},
	{regexp.MustCompile(`:\s*(string|number|boolean|void|any|never)\b`), "typescript"},
	{regexp.MustCompile(`<\w+>`), "typescript"},

	{regexp.MustCompile(`\b(const|let|var)\s+\w+\s*=\s*(async\s+)?\(`), "javascript"},
	{regexp.MustCompile(`\bexport\s+(default\s+)?(function|class|const)\b`), "javascript"},
	{regexp.MustCompile(`\bimport\s+.*\s+from\s+['"]`), "javascript"},
	{regexp.MustCompile(`<\w+(\s+\w+=['"].*['"])*\s*/?>`), "html"},

	{regexp.MustCompile(`\bdef\s+\w+\s*\(.*\)\s*:`), "python"},
	{regexp.MustCompile(`\bclass\s+\w+.*:`), "python"},
	{regexp.MustCompile(`\bimport\s+\w+|from\s+\w+\s+import`), "python"},
	{regexp.MustCompile(`^\s*@\w+(\.\w+)*\s*$`), "python"},

	{regexp.MustCompile(`\bdef\s+\w+.*\bend\b`), "ruby"},
	{regexp.MustCompile(`\bclass\s+\w+.*\bend\b`), "ruby"},
	{regexp.MustCompile(`\bdo\s*\|.*\|\s*$`), "ruby"},

	{regexp.MustCompile(`\bfunc\s+(\w+\s*)?\(`), "go"},
	{regexp.MustCompile(`\bpackage\s+\w+`), "go"},
	{regexp.MustCompile(`\btype\s+\w+\s+struct\b`), "go"},

	{regexp.MustCompile(`\bfn\s+\w+\s*(<.*>)?\s*\(`), "rust"},
	{regexp.MustCompile(`\blet\s+mut\s+`), "rust"},
	{regexp.MustCompile(`\bimpl\b.*\bfor\b`), "rust"},

	{regexp.MustCompile(`\bpublic\s+(static\s+)?(class|interface|enum)\b`), "java"},
	{regexp.MustCompile(`\bprivate\s+(static\s+)?\w+\s+\w+\s*[;=]`), "java"},

	{regexp.MustCompile(`#include\s*[<"]`), "cpp"},
	{regexp.MustCompile(`\bint\s+main\s*\(`), "c"},
	{regexp.MustCompile(`\bstd::\w+`), "cpp"},

	{regexp.MustCompile(`<\?php`), "php"},

	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER)\b`), "sql"},

	{regexp.MustCompile(`^\s*\w+:\s*\n`), "yaml"},

	{regexp.MustCompile(`^\s*\{[\s\S]*"[^"]+"\s*:`), "json"},

	{regexp.MustCompile(`(?i)<!DOCTYPE\s+html`), "html"},
	{regexp.MustCompile(`(?i)<html\b`), "html"},

	{regexp.MustCompile(`^\s*[.#]?\w+\s*\{[\s\S]*\}\s*$`), "css"},
	{regexp.MustCompile(`@media\s*\(|@import\s+`), "css"},

	{regexp.MustCompile(`^\s*(if|for|while|case)\s+.*;\s*then`), "shell"},
	{regexp.MustCompile(`\$\(\w+\)|\$\{\w+\}`), "shell"},
}

// FromExtension returns the language for fileName's extension, or "" if the
// extension is unknown. The bare name "Dockerfile" (any case) is recognized.
func FromExtension(fileName string) string {
	base := filepath.Base(fileName)
	if strings.EqualFold(base, "dockerfile") {
		return "dockerfile"
	}
	ext := base
	if i := strings.LastIndex(base, "."); i >= 0 {
		ext = base[i+1:]
	}
	if ext == "" {
		return ""
	}
	return extensions[strings.ToLower(ext)]
}

// FromContent guesses the language from text, or returns "" if no rule matches.
func FromContent(code string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}

	firstLine, _, _ := strings.Cut(code, "\n")
	firstLine = strings.TrimSpace(firstLine)
	for _, r := range shebangRules {
		if r.pattern.MatchString(firstLine) {
			return r.language
		}
	}

	for _, r := range contentRules {
		if r.pattern.MatchString(code) {
			return r.language
		}
	}
	return ""
}

// Detect classifies a document by file name first and content second.
func Detect(fileName, code string) string {
	if l := FromExtension(fileName); l != "" {
		return l
	}
	if l := FromContent(code); l != "" {
		return l
	}
	return Plaintext
}

var displayNames = map[string]string{
	"javascript": "JavaScript",
	"typescript": "TypeScript",
	"python":     "Python",
	"java":       "Java",
	"cpp":        "C++",
	"c":          "C",
	"csharp":     "C#",
	"go":         "Go",
	"rust":       "Rust",
	"ruby":       "Ruby",
	"php":        "PHP",
	"swift":      "Swift",
	"kotlin":     "Kotlin",
	"scala":      "Scala",
	"html":       "HTML",
	"css":        "CSS",
	"scss":       "SCSS",
	"less":       "Less",
	"json":       "JSON",
	"yaml":       "YAML",
	"xml":        "XML",
	"markdown":   "Markdown",
	"sql":        "SQL",
	"shell":      "Shell",
	"dockerfile": "Dockerfile",
	"graphql":    "GraphQL",
	Plaintext:    "Plain Text",
}

// DisplayName returns a human-readable name for a language tag.
func DisplayName(tag string) string {
	if name, ok := displayNames[tag]; ok {
		return name
	}
	if tag == "" {
		return ""
	}
	return strings.ToUpper(tag[:1]) + tag[1:]
}

// Languages returns every tag with a display name, sorted by display name.
func Languages() []string {
	tags := make([]string, 0, len(displayNames))
	for tag := range displayNames {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		return displayNames[tags[i]] < displayNames[tags[j]]
	})
	return tags
}
