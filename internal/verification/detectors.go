package verification

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"repoforge/internal/spec"
)

// Hit is one detector match with enough position data for a quick-fix to rewrite it.
type Hit struct {
	Category  spec.Category
	Severity  spec.Severity
	FixableBy spec.FixableBy
	Line      int
	Message   string

	// Node is the flagged node: the parse call, the subscript, the await, the open call.
	Node Span
	// Stmt is the enclosing simple statement when it sits alone on its lines.
	Stmt *Span
	// Indent is the leading whitespace of Stmt's first line.
	Indent string
	// Verbatim holds the multi-line string literals inside Stmt. Lines starting inside one
	// belong to the literal's value and must not be re-indented.
	Verbatim []Span
	// Target is the assigned expression when Stmt is an assignment.
	Target string
	// Module is "json" when the parse call is qualified, empty for a bare imported name.
	Module string
	// Func is the start of the enclosing def for an await in a sync function, -1 otherwise.
	Func int
	// Value and Key are the subscripted name and the key literal for key access.
	Value, Key string
}

// Finding converts the hit to a finding for path.
func (h Hit) Finding(path string) spec.Finding {
	return spec.Finding{
		Category:  h.Category,
		Severity:  h.Severity,
		FilePath:  path,
		Line:      h.Line,
		Message:   h.Message,
		FixableBy: h.FixableBy,
	}
}

// detector is one entry of the closed registry.
type detector struct {
	category  spec.Category
	severity  spec.Severity
	fixableBy spec.FixableBy
	check     func(a *analysis, n *sitter.Node, fr frame) *Hit
}

var detectors = []detector{
	{spec.CategoryRuntimeRiskJSON, spec.SeverityBlocking, spec.FixQuick, checkJSONParse},
	{spec.CategoryRuntimeRiskKeyAccess, spec.SeverityBlocking, spec.FixQuick, checkKeyAccess},
	{spec.CategoryAsyncMismatch, spec.SeverityBlocking, spec.FixQuick, checkAwait},
	{spec.CategoryUnsafeFileOp, spec.SeverityAdvisory, spec.FixRegeneration, checkOpen},
	{spec.CategoryMissingErrorHandling, spec.SeverityAdvisory, spec.FixRegeneration, checkNetworkCall},
}

// analysis carries per-file facts gathered before detection.
type analysis struct {
	src        []byte
	jsonAlias  map[string]bool // bare names bound to json.loads / json.load
	parsedVars map[string]bool // names assigned from a parse result
}

// Analyze parses a Python file and runs every detector. It returns nil hits when the file
// has a syntax error.
func Analyze(ctx context.Context, content []byte) ([]Hit, *SyntaxProblem, error) {
	src, err := ParsePython(ctx, content)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	if p := src.FirstSyntaxError(); p != nil {
		return nil, p, nil
	}
	return src.detect(), nil, nil
}

func (s *Source) detect() []Hit {
	a := &analysis{
		src:        s.Content,
		jsonAlias:  make(map[string]bool),
		parsedVars: make(map[string]bool),
	}
	walk(s.root, s.Content, frame{}, a.collect)

	var hits []Hit
	walk(s.root, s.Content, frame{}, func(n *sitter.Node, fr frame) {
		for _, d := range detectors {
			h := d.check(a, n, fr)
			if h == nil {
				continue
			}
			h.Category = d.category
			h.Severity = d.severity
			if h.FixableBy == "" {
				h.FixableBy = d.fixableBy
			}
			if h.Line == 0 {
				h.Line = lineOf(n)
			}
			if h.Node == (Span{}) {
				h.Node = spanOf(n)
			}
			hits = append(hits, *h)
		}
	})
	return hits
}

// collect records json aliases and names bound to parse results.
func (a *analysis) collect(n *sitter.Node, _ frame) {
	switch n.Type() {
	case "import_from_statement":
		mod := n.ChildByFieldName("module_name")
		if mod == nil || text(mod, a.src) != "json" {
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				if name := text(c, a.src); name == "loads" || name == "load" {
					a.jsonAlias[name] = true
				}
			case "aliased_import":
				orig, alias := c.ChildByFieldName("name"), c.ChildByFieldName("alias")
				if orig == nil || alias == nil {
					continue
				}
				if name := text(orig, a.src); name == "loads" || name == "load" {
					a.jsonAlias[text(alias, a.src)] = true
				}
			}
		}
	case "assignment":
		left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			return
		}
		if a.isParseResult(right) {
			a.parsedVars[text(left, a.src)] = true
		}
	}
}

// isJSONParse matches json.loads(...), json.load(...) and their imported aliases.
func (a *analysis) isJSONParse(call *sitter.Node) (qualified, ok bool) {
	if call == nil || call.Type() != "call" {
		return false, false
	}
	obj, name := callee(call, a.src)
	if obj == "json" && (name == "loads" || name == "load") {
		return true, true
	}
	if obj == "" && a.jsonAlias[name] {
		return false, true
	}
	return false, false
}

func (a *analysis) isParseResult(expr *sitter.Node) bool {
	call := unwrap(expr)
	if call == nil || call.Type() != "call" {
		return false
	}
	if _, ok := a.isJSONParse(call); ok {
		return true
	}
	_, name := callee(call, a.src)
	fn := call.ChildByFieldName("function")
	return name == "json" && fn != nil && fn.Type() == "attribute"
}

func checkJSONParse(a *analysis, n *sitter.Node, fr frame) *Hit {
	qualified, ok := a.isJSONParse(n)
	if !ok || fr.guarded("JSONDecodeError", "ValueError", "Exception", "BaseException") {
		return nil
	}
	_, name := callee(n, a.src)
	h := &Hit{Message: fmt.Sprintf("%s() result is not guarded against JSONDecodeError", name), Func: -1}
	if qualified {
		h.Module = "json"
	}
	if !a.wrappable(fr.stmt, h) {
		h.FixableBy = spec.FixRegeneration
	}
	return h
}

// wrappable fills the statement fields when stmt sits alone on its lines inside a block or
// at module level, so it can be indented into a try body.
func (a *analysis) wrappable(stmt *sitter.Node, h *Hit) bool {
	if stmt == nil || stmt.Type() != "expression_statement" && stmt.Type() != "return_statement" {
		return false
	}
	start, end := int(stmt.StartByte()), int(stmt.EndByte())
	lineStart := strings.LastIndexByte(string(a.src[:start]), '\n') + 1
	indent := string(a.src[lineStart:start])
	if strings.TrimSpace(indent) != "" {
		return false
	}
	rest := string(a.src[end:])
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	if strings.TrimSpace(rest) != "" {
		return false
	}

	h.Stmt = &Span{Start: lineStart, End: end}
	h.Indent = indent
	h.Verbatim = multilineStrings(stmt)
	if stmt.Type() == "return_statement" {
		h.Target = "return"
		return true
	}
	if stmt.NamedChildCount() == 1 {
		if asg := stmt.NamedChild(0); asg.Type() == "assignment" {
			if left := asg.ChildByFieldName("left"); left != nil {
				h.Target = text(left, a.src)
			}
		}
	}
	return true
}

// multilineStrings returns the spans of string literals under n that cross a line break.
func multilineStrings(n *sitter.Node) []Span {
	var out []Span
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "string" && n.StartPoint().Row != n.EndPoint().Row {
			out = append(out, spanOf(n))
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(n)
	return out
}

func checkKeyAccess(a *analysis, n *sitter.Node, fr frame) *Hit {
	if n.Type() != "subscript" || fr.target {
		return nil
	}
	value := n.ChildByFieldName("value")
	if value == nil || value.Type() != "identifier" || !a.parsedVars[text(value, a.src)] {
		return nil
	}
	if n.NamedChildCount() != 2 {
		return nil
	}
	key := n.ChildByFieldName("subscript")
	if key == nil || key.Type() != "string" {
		return nil
	}
	if fr.guarded("KeyError", "LookupError", "Exception", "BaseException") {
		return nil
	}
	name, lit := text(value, a.src), text(key, a.src)
	return &Hit{
		Message: fmt.Sprintf("%s[%s] on parsed data is not guarded against KeyError", name, lit),
		Value:   name,
		Key:     lit,
		Func:    -1,
	}
}

func checkAwait(a *analysis, n *sitter.Node, fr frame) *Hit {
	if n.Type() != "await" {
		return nil
	}
	switch {
	case fr.fn == nil:
		return &Hit{Message: "await used outside of any function", FixableBy: spec.FixRegeneration, Func: -1}
	case fr.fn.Type() != "function_definition":
		return &Hit{Message: fmt.Sprintf("await used inside %s", strings.ReplaceAll(fr.fn.Type(), "_", " ")), FixableBy: spec.FixRegeneration, Func: -1}
	case isAsyncDef(fr.fn):
		return nil
	}
	name := "function"
	if id := fr.fn.ChildByFieldName("name"); id != nil {
		name = text(id, a.src)
	}
	return &Hit{
		Message: fmt.Sprintf("await used inside non-async function %q", name),
		Func:    int(fr.fn.StartByte()),
	}
}

func isAsyncDef(fn *sitter.Node) bool {
	for i := 0; i < int(fn.ChildCount()); i++ {
		switch fn.Child(i).Type() {
		case "async":
			return true
		case "def":
			return false
		}
	}
	return false
}

func checkOpen(a *analysis, n *sitter.Node, fr frame) *Hit {
	if n.Type() != "call" || fr.withItem || fr.inTry() {
		return nil
	}
	if obj, name := callee(n, a.src); name != "open" || (obj != "" && obj != "io") {
		return nil
	}
	return &Hit{Message: "open() is neither used as a context manager nor guarded by try", Func: -1}
}

var httpVerbs = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true, "request": true,
}

func checkNetworkCall(a *analysis, n *sitter.Node, fr frame) *Hit {
	if n.Type() != "call" || fr.inTry() {
		return nil
	}
	obj, name := callee(n, a.src)
	switch {
	case (obj == "requests" || obj == "httpx") && httpVerbs[name]:
	case name == "urlopen" && (obj == "" || strings.HasSuffix(obj, "request")):
	default:
		return nil
	}
	call := name
	if obj != "" {
		call = obj + "." + name
	}
	return &Hit{Message: fmt.Sprintf("%s() has no error handling", call), Func: -1}
}
