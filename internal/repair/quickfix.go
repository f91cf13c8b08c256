package repair

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"repoforge/internal/spec"
	"repoforge/internal/verification"
)

// edit replaces src[start:end] with text.
type edit struct {
	start, end int
	text       string
}

// rule rewrites every quick-fixable hit of one category. Rules must be idempotent: a rule
// applied to its own output finds nothing to do.
type rule struct {
	category spec.Category
	edits    func(src string, hits []verification.Hit) []edit
}

var rules = []rule{
	{spec.CategoryRuntimeRiskJSON, guardJSONParse},
	{spec.CategoryRuntimeRiskKeyAccess, safeKeyAccess},
	{spec.CategoryAsyncMismatch, promoteToAsync},
}

// QuickFix applies every rule in order, re-parsing between rules. It returns the rewritten
// content and the number of edits applied. Content with a syntax error is returned unchanged.
func QuickFix(ctx context.Context, content string) (string, int, error) {
	applied := 0
	for _, r := range rules {
		hits, problem, err := verification.Analyze(ctx, []byte(content))
		if err != nil {
			return content, applied, err
		}
		if problem != nil {
			return content, applied, nil
		}

		var mine []verification.Hit
		for _, h := range hits {
			if h.Category == r.category && h.FixableBy == spec.FixQuick {
				mine = append(mine, h)
			}
		}
		if len(mine) == 0 {
			continue
		}

		var n int
		content, n = applyEdits(content, r.edits(content, mine))
		applied += n
	}
	return content, applied, nil
}

// applyEdits applies non-overlapping edits from the end of the file backwards and returns
// the result with the number applied. An edit overlapping one already applied is skipped.
func applyEdits(src string, edits []edit) (string, int) {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	last := len(src) + 1
	n := 0
	for _, e := range edits {
		if e.end > last {
			continue
		}
		src = src[:e.start] + e.text + src[e.end:]
		last = e.start
		n++
	}
	return src, n
}

func dedupe(edits []edit) []edit {
	seen := make(map[[2]int]bool, len(edits))
	out := edits[:0]
	for _, e := range edits {
		k := [2]int{e.start, e.end}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

var simpleTarget = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// guardJSONParse wraps the statement around an unguarded parse call in try/except with an
// empty-dict fallback.
func guardJSONParse(src string, hits []verification.Hit) []edit {
	var edits []edit
	for _, h := range hits {
		if h.Stmt == nil {
			continue
		}
		unit := "    "
		if strings.Contains(h.Indent, "\t") {
			unit = "\t"
		}
		exc := "ValueError"
		if h.Module == "json" {
			exc = "json.JSONDecodeError"
		}
		fallback := "pass"
		switch {
		case h.Target == "return":
			fallback = "return {}"
		case simpleTarget.MatchString(h.Target):
			fallback = h.Target + " = {}"
		}

		var b strings.Builder
		b.WriteString(h.Indent + "try:\n")
		off := h.Stmt.Start
		for i, line := range strings.Split(src[h.Stmt.Start:h.Stmt.End], "\n") {
			if i > 0 {
				b.WriteByte('\n')
			}
			if line != "" && !insideSpan(off, h.Verbatim) {
				b.WriteString(unit)
			}
			b.WriteString(line)
			off += len(line) + 1
		}
		b.WriteString("\n" + h.Indent + "except " + exc + ":\n")
		b.WriteString(h.Indent + unit + fallback)
		edits = append(edits, edit{start: h.Stmt.Start, end: h.Stmt.End, text: b.String()})
	}
	return dedupe(edits)
}

func insideSpan(off int, spans []verification.Span) bool {
	for _, sp := range spans {
		if sp.Start < off && off < sp.End {
			return true
		}
	}
	return false
}

// safeKeyAccess rewrites data["k"] reads to data.get("k").
func safeKeyAccess(_ string, hits []verification.Hit) []edit {
	var edits []edit
	for _, h := range hits {
		if h.Value == "" || h.Key == "" {
			continue
		}
		edits = append(edits, edit{start: h.Node.Start, end: h.Node.End, text: h.Value + ".get(" + h.Key + ")"})
	}
	return dedupe(edits)
}

// promoteToAsync turns the def enclosing an await into async def.
func promoteToAsync(_ string, hits []verification.Hit) []edit {
	var edits []edit
	for _, h := range hits {
		if h.Func < 0 {
			continue
		}
		edits = append(edits, edit{start: h.Func, end: h.Func, text: "async "})
	}
	return dedupe(edits)
}
