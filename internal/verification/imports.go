package verification

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"repoforge/internal/spec"
)

// importRef is one absolute import statement's top-level module.
type importRef struct {
	Module string
	Line   int
}

// imports lists absolute imports outside try blocks that catch ImportError. Relative and
// __future__ imports are skipped.
func (s *Source) imports() []importRef {
	var refs []importRef
	walk(s.root, s.Content, frame{}, func(n *sitter.Node, fr frame) {
		if fr.guarded("ImportError", "ModuleNotFoundError", "Exception", "BaseException") {
			return
		}
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.ChildCount()); i++ {
				if n.FieldNameForChild(i) != "name" {
					continue
				}
				c := n.Child(i)
				if c.Type() == "aliased_import" {
					c = c.ChildByFieldName("name")
				}
				if c != nil && c.Type() == "dotted_name" {
					refs = append(refs, importRef{Module: topLevel(text(c, s.Content)), Line: lineOf(n)})
				}
			}
		case "import_from_statement":
			mod := n.ChildByFieldName("module_name")
			if mod != nil && mod.Type() == "dotted_name" {
				refs = append(refs, importRef{Module: topLevel(text(mod, s.Content)), Line: lineOf(n)})
			}
		}
	})
	return refs
}

func topLevel(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

// moduleIndex answers whether a top-level module name is importable in the generated project.
type moduleIndex map[string]bool

func (m moduleIndex) add(name string) { m[strings.ToLower(name)] = true }

func (m moduleIndex) has(name string) bool { return m[strings.ToLower(name)] }

// normalizeDist normalizes a distribution name the way pip does and drops extras and version
// constraints: "Uvicorn[standard]>=0.2" → "uvicorn".
func normalizeDist(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexAny(name, "[=<>!~; "); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	return strings.NewReplacer("-", "_").Replace(name)
}

// buildIndex assembles the allow-list for one project: stdlib, declared dependencies with
// their aliases, and local modules from the plan and the file set.
func (v *Verifier) buildIndex(s *spec.ProjectSpec, fs spec.FileSet) moduleIndex {
	idx := make(moduleIndex, len(v.stdlib)+len(s.Dependencies)+fs.Len())
	for name := range v.stdlib {
		idx.add(name)
	}
	for _, d := range s.Dependencies {
		dist := normalizeDist(d.Package)
		idx.add(dist)
		idx.add(strings.ReplaceAll(dist, ".", "_"))
		for _, m := range v.aliases[dist] {
			idx.add(m)
		}
	}

	local := append(s.Paths(), fs.Paths()...)
	for _, p := range local {
		if !strings.HasSuffix(p, ".py") {
			continue
		}
		idx.add(strings.TrimSuffix(strings.SplitN(p, "/", 2)[0], ".py"))
		idx.add(strings.TrimSuffix(path.Base(p), ".py"))
		// Each package directory is a module for files run from their own directory.
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			idx.add(path.Base(dir))
		}
	}
	return idx
}
