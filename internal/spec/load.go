package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON also accepts the planner's legacy keys (description, file_type).
func (f *FileSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Path        string   `json:"path"`
		Purpose     string   `json:"purpose"`
		Description string   `json:"description"`
		Language    Language `json:"language"`
		FileType    Language `json:"file_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Path = raw.Path
	f.Purpose = firstNonEmpty(raw.Purpose, raw.Description)
	f.Language = Language(firstNonEmpty(string(raw.Language), string(raw.FileType)))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// LoadFile reads a plan from a .json, .yaml or .yml file and validates it.
func LoadFile(path string) (*ProjectSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var s ProjectSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
	default:
		parsed, err := DecodePlan(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
		s = *parsed
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodePlan parses planner output into a ProjectSpec. Model output is cleaned first:
// code fences, comment lines and trailing commas are removed and unbalanced braces closed.
// The result is not validated.
func DecodePlan(text string) (*ProjectSpec, error) {
	var s ProjectSpec
	if err := json.Unmarshal([]byte(text), &s); err == nil {
		return &s, nil
	}

	cleaned := RepairJSON(text)
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON after repair: %w", err)
	}
	return &s, nil
}

var (
	fenceRe         = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	adjacentObjRe   = regexp.MustCompile(`}\s*{`)
)

// RepairJSON applies the cleanups that make typical LLM JSON parseable.
func RepairJSON(text string) string {
	s := fenceRe.ReplaceAllString(text, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	s = blockCommentRe.ReplaceAllString(s, "")

	if start := strings.Index(s, "{"); start >= 0 {
		s = s[start:]
		if end := strings.LastIndex(s, "}"); end >= 0 && balance(s[:end+1]) == 0 {
			s = s[:end+1]
		}
	}

	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = adjacentObjRe.ReplaceAllString(s, "},{")

	if open := balance(s); open > 0 {
		s = strings.TrimRight(strings.TrimSpace(s), ",")
		s += strings.Repeat("}", open)
	}
	return s
}

// balance counts unclosed braces outside string literals.
func balance(s string) int {
	depth := 0
	inString, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			depth++
		case r == '}':
			depth--
		}
	}
	return depth
}
