package oracle

import (
	"regexp"
	"strings"
)

// taggedFence matches ```lang:path blocks, the multi-file format the prompts ask for.
var taggedFence = regexp.MustCompile("(?ms)^```[A-Za-z0-9_+-]*:([^\\s`]+)[ \\t\\r]*\\n(.*?)^```[ \\t\\r]*$")

// anyFence matches the first fenced block regardless of tag.
var anyFence = regexp.MustCompile("(?ms)^```[^\\n]*\\n(.*?)^```[ \\t\\r]*$")

// ParseFiles extracts path-tagged code blocks. When the text has no tagged block and exactly
// one target was requested, the first fenced block (or the whole text) is assigned to it.
func ParseFiles(text string, targets []string) map[string]string {
	files := make(map[string]string)
	for _, m := range taggedFence.FindAllStringSubmatch(text, -1) {
		path := strings.TrimPrefix(strings.TrimSpace(m[1]), "./")
		files[path] = normalizeContent(m[2])
	}
	if len(files) == 0 && len(targets) == 1 {
		if code := ExtractCode(text); strings.TrimSpace(code) != "" {
			files[targets[0]] = code
		}
	}
	return files
}

// ExtractCode returns the body of the first fenced block, or the trimmed text when there is
// none.
func ExtractCode(text string) string {
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return normalizeContent(m[1])
	}
	return normalizeContent(strings.TrimSpace(text))
}

func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}
