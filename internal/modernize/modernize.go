// Package modernize rewrites generated Python to current library import paths and builtin
// generic annotations. It never adds or removes files.
package modernize

import (
	"context"
	"regexp"
	"strings"

	"repoforge/internal/logging"
	"repoforge/internal/spec"
	"repoforge/internal/verification"
)

// Modernizer transforms a file set. Implementations must return the same path set.
type Modernizer interface {
	Modernize(ctx context.Context, fs spec.FileSet) (spec.FileSet, error)
}

// Rule is one regex rewrite.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultRules returns the built-in rewrites.
func DefaultRules() []Rule {
	r := func(name, pattern, repl string) Rule {
		return Rule{Name: name, Pattern: regexp.MustCompile(pattern), Replacement: repl}
	}
	return []Rule{
		r("langchain-openai-llm", `(?m)^([ \t]*)from langchain\.llms import OpenAI\b`, "${1}from langchain_openai import OpenAI"),
		r("langchain-openai-chat", `(?m)^([ \t]*)from langchain\.chat_models import ChatOpenAI\b`, "${1}from langchain_openai import ChatOpenAI"),
		r("langchain-openai-embeddings", `(?m)^([ \t]*)from langchain\.embeddings import OpenAIEmbeddings\b`, "${1}from langchain_openai import OpenAIEmbeddings"),
		r("langchain-prompts", `(?m)^([ \t]*)from langchain\.prompts import `, "${1}from langchain_core.prompts import "),
		r("pydantic-settings", `(?m)^([ \t]*)from pydantic import BaseSettings[ \t]*$`, "${1}from pydantic_settings import BaseSettings"),
		r("builtin-list", `(:\s*|->\s*|\[|,\s*)List\[`, "${1}list["),
		r("builtin-dict", `(:\s*|->\s*|\[|,\s*)Dict\[`, "${1}dict["),
		r("builtin-tuple", `(:\s*|->\s*|\[|,\s*)Tuple\[`, "${1}tuple["),
		r("builtin-set", `(:\s*|->\s*|\[|,\s*)Set\[`, "${1}set["),
	}
}

// Rules applies regex rules to Python files.
type Rules struct {
	rules []Rule
}

// New creates a rule modernizer; nil rules means DefaultRules.
func New(rules []Rule) *Rules {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Rules{rules: rules}
}

// Modernize rewrites each Python file. A rewrite that breaks a file which parsed before is
// dropped for that file.
func (m *Rules) Modernize(ctx context.Context, fs spec.FileSet) (spec.FileSet, error) {
	out := fs
	for _, p := range fs.Paths() {
		if err := ctx.Err(); err != nil {
			return fs, err
		}
		if spec.LanguageFor(p) != spec.LanguagePython {
			continue
		}
		before := fs.Content(p)
		after, applied := m.Apply(before)
		if len(applied) == 0 {
			continue
		}
		if parses(ctx, before) && !parses(ctx, after) {
			logging.Modernize("%s: rewrite by %v broke parsing; kept original", p, applied)
			continue
		}
		logging.Modernize("%s: applied %v", p, applied)
		out = out.With(p, after)
	}
	return out, nil
}

// Apply runs every rule on code and prunes typing imports the rules made unused.
func (m *Rules) Apply(code string) (string, []string) {
	var applied []string
	for _, r := range m.rules {
		next := r.Pattern.ReplaceAllString(code, r.Replacement)
		if next != code {
			applied = append(applied, r.Name)
			code = next
		}
	}
	if len(applied) > 0 {
		code = pruneTypingImports(code)
	}
	return code, applied
}

var typingImport = regexp.MustCompile(`(?m)^from typing import ([A-Za-z_][A-Za-z0-9_, ]*)[ \t]*\n`)

// pruneTypingImports drops List/Dict/Tuple/Set from single-line typing imports when the name
// is no longer used.
func pruneTypingImports(code string) string {
	return typingImport.ReplaceAllStringFunc(code, func(line string) string {
		m := typingImport.FindStringSubmatch(line)
		rest := strings.Replace(code, line, "", 1)
		var keep []string
		for _, name := range strings.Split(m[1], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			switch name {
			case "List", "Dict", "Tuple", "Set":
				if !regexp.MustCompile(`\b` + name + `\b`).MatchString(rest) {
					continue
				}
			}
			keep = append(keep, name)
		}
		if len(keep) == 0 {
			return ""
		}
		return "from typing import " + strings.Join(keep, ", ") + "\n"
	})
}

func parses(ctx context.Context, code string) bool {
	src, err := verification.ParsePython(ctx, []byte(code))
	if err != nil {
		return false
	}
	defer src.Close()
	return src.Valid()
}

// Nop returns the file set unchanged.
type Nop struct{}

// Modernize implements Modernizer.
func (Nop) Modernize(_ context.Context, fs spec.FileSet) (spec.FileSet, error) { return fs, nil }
