package verification

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Source is a parsed Python file. Close releases the tree.
type Source struct {
	Content []byte
	tree    *sitter.Tree
	root    *sitter.Node
}

// ParsePython parses Python source with the tree-sitter grammar.
func ParsePython(ctx context.Context, content []byte) (*Source, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return &Source{Content: content, tree: tree, root: tree.RootNode()}, nil
}

// Close releases the parse tree.
func (s *Source) Close() {
	if s.tree != nil {
		s.tree.Close()
	}
}

// SyntaxProblem is the first syntax error in document order.
type SyntaxProblem struct {
	Line    int
	Message string
}

// FirstSyntaxError returns the first ERROR or MISSING node, or nil for a clean parse.
func (s *Source) FirstSyntaxError() *SyntaxProblem {
	if !s.root.HasError() {
		return nil
	}
	bad := firstBadNode(s.root)
	if bad == nil {
		return &SyntaxProblem{Line: 1, Message: "invalid syntax"}
	}
	line := int(bad.StartPoint().Row) + 1
	if bad.IsMissing() {
		return &SyntaxProblem{Line: line, Message: fmt.Sprintf("missing %q", bad.Type())}
	}
	return &SyntaxProblem{Line: line, Message: fmt.Sprintf("invalid syntax near %q", snippet(bad.Content(s.Content)))}
}

// Valid reports whether the content parses without errors.
func (s *Source) Valid() bool { return !s.root.HasError() }

func firstBadNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstBadNode(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

func snippet(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

// Span is a byte range in a source file.
type Span struct {
	Start, End int
}

func spanOf(n *sitter.Node) Span {
	return Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

func lineOf(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

func text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

// unwrap strips parentheses and await so parse-call matching sees the call itself.
func unwrap(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "parenthesized_expression", "await":
			if n.NamedChildCount() == 0 {
				return n
			}
			n = n.NamedChild(0)
		default:
			return n
		}
	}
	return n
}

// callee splits a call's function into object and name: json.loads → ("json", "loads"),
// open → ("", "open").
func callee(call *sitter.Node, src []byte) (object, name string) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return "", text(fn, src)
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", ""
		}
		return text(obj, src), text(attr, src)
	}
	return "", ""
}

// catchSet describes what the handlers of one try statement catch.
type catchSet struct {
	bare  bool
	names map[string]bool
}

func (c catchSet) catches(names ...string) bool {
	if c.bare {
		return true
	}
	for _, n := range names {
		if c.names[n] {
			return true
		}
	}
	return false
}

func handlersOf(try *sitter.Node, src []byte) catchSet {
	cs := catchSet{names: make(map[string]bool)}
	for i := 0; i < int(try.NamedChildCount()); i++ {
		clause := try.NamedChild(i)
		if clause.Type() != "except_clause" && clause.Type() != "except_group_clause" {
			continue
		}
		caught := 0
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			if c.Type() == "block" || c.Type() == "comment" {
				continue
			}
			caught++
			collectIdentifiers(c, src, cs.names)
		}
		if caught == 0 {
			cs.bare = true
		}
	}
	return cs
}

func collectIdentifiers(n *sitter.Node, src []byte, into map[string]bool) {
	if n.Type() == "identifier" {
		into[text(n, src)] = true
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		collectIdentifiers(n.NamedChild(i), src, into)
	}
}

// frame is the lexical context of a node during the walk.
type frame struct {
	tries    []catchSet   // enclosing try bodies, innermost last
	fn       *sitter.Node // nearest function_definition, lambda or class_definition
	stmt     *sitter.Node // nearest simple statement
	withItem bool
	target   bool
}

func (f frame) inTry() bool { return len(f.tries) > 0 }

func (f frame) guarded(names ...string) bool {
	for _, t := range f.tries {
		if t.catches(names...) {
			return true
		}
	}
	return false
}

func (f frame) withTry(cs catchSet) frame {
	f.tries = append(f.tries[:len(f.tries):len(f.tries)], cs)
	return f
}

var simpleStatements = map[string]bool{
	"expression_statement": true,
	"return_statement":     true,
	"assert_statement":     true,
	"raise_statement":      true,
	"delete_statement":     true,
	"print_statement":      true,
}

var compoundStatements = map[string]bool{
	"if_statement":    true,
	"for_statement":   true,
	"while_statement": true,
	"with_statement":  true,
	"match_statement": true,
}

// walk visits every node in document order with its lexical frame.
func walk(n *sitter.Node, src []byte, fr frame, visit func(*sitter.Node, frame)) {
	if !n.IsNamed() {
		return
	}
	switch t := n.Type(); {
	case t == "function_definition" || t == "lambda":
		fr.fn = n
		fr.tries = nil
		fr.stmt = nil
		fr.withItem = false
	case t == "class_definition":
		fr.fn = n
		fr.stmt = nil
	case t == "with_item":
		fr.withItem = true
	case t == "block":
		fr.withItem = false
	case simpleStatements[t]:
		fr.stmt = n
	case compoundStatements[t]:
		fr.stmt = nil
	}

	visit(n, fr)

	switch n.Type() {
	case "try_statement":
		cs := handlersOf(n, src)
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if n.FieldNameForChild(i) == "body" {
				walk(child, src, fr.withTry(cs), visit)
			} else {
				walk(child, src, fr, visit)
			}
		}
	case "assignment", "augmented_assignment":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			cf := fr
			cf.target = n.FieldNameForChild(i) == "left"
			walk(child, src, cf, visit)
		}
	case "subscript", "attribute":
		// Only the outermost node of a target is written; its value and index are reads.
		cf := fr
		cf.target = false
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), src, cf, visit)
		}
	case "delete_statement":
		cf := fr
		cf.target = true
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), src, cf, visit)
		}
	default:
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), src, fr, visit)
		}
	}
}
