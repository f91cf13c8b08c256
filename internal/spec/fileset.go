package spec

import "sort"

// FileArtifact is one revision of a generated file. Artifacts are values and never mutated.
type FileArtifact struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

// FileSet is a persistent path→artifact map. Every update returns a new set and leaves the
// receiver untouched, so iteration snapshots stay valid after repair.
type FileSet struct {
	files   map[string]FileArtifact
	history map[string][]FileArtifact
}

// NewFileSet builds a set where every file starts at revision 1.
func NewFileSet(contents map[string]string) FileSet {
	fs := FileSet{
		files:   make(map[string]FileArtifact, len(contents)),
		history: make(map[string][]FileArtifact, len(contents)),
	}
	for p, c := range contents {
		fs.files[p] = FileArtifact{Path: p, Content: c, Revision: 1}
	}
	return fs
}

// Len returns the number of files.
func (fs FileSet) Len() int { return len(fs.files) }

// Get returns the current artifact for a path.
func (fs FileSet) Get(p string) (FileArtifact, bool) {
	a, ok := fs.files[p]
	return a, ok
}

// Has reports whether a path is present.
func (fs FileSet) Has(p string) bool {
	_, ok := fs.files[p]
	return ok
}

// Content returns the current content of a path, or "" when absent.
func (fs FileSet) Content(p string) string { return fs.files[p].Content }

// Paths returns all paths, sorted.
func (fs FileSet) Paths() []string {
	out := make([]string, 0, len(fs.files))
	for p := range fs.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Artifacts returns the current artifacts ordered by path.
func (fs FileSet) Artifacts() []FileArtifact {
	paths := fs.Paths()
	out := make([]FileArtifact, len(paths))
	for i, p := range paths {
		out[i] = fs.files[p]
	}
	return out
}

// Contents returns a copy of the path→content map.
func (fs FileSet) Contents() map[string]string {
	out := make(map[string]string, len(fs.files))
	for p, a := range fs.files {
		out[p] = a.Content
	}
	return out
}

// With returns a new set where path holds content. Writing identical content returns the
// receiver unchanged; otherwise the revision is bumped and the previous artifact is kept in
// the history.
func (fs FileSet) With(p, content string) FileSet {
	prev, existed := fs.files[p]
	if existed && prev.Content == content {
		return fs
	}

	next := FileSet{
		files:   make(map[string]FileArtifact, len(fs.files)+1),
		history: make(map[string][]FileArtifact, len(fs.history)+1),
	}
	for k, v := range fs.files {
		next.files[k] = v
	}
	for k, v := range fs.history {
		next.history[k] = v
	}

	rev := 1
	if existed {
		rev = prev.Revision + 1
		old := fs.history[p]
		// Full slice expression forces a copy so sibling sets never share a backing array.
		next.history[p] = append(old[:len(old):len(old)], prev)
	}
	next.files[p] = FileArtifact{Path: p, Content: content, Revision: rev}
	return next
}

// WithAll applies With for every entry, in path order.
func (fs FileSet) WithAll(contents map[string]string) FileSet {
	paths := make([]string, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := fs
	for _, p := range paths {
		out = out.With(p, contents[p])
	}
	return out
}

// History returns the superseded revisions of a path, oldest first.
func (fs FileSet) History(p string) []FileArtifact {
	return append([]FileArtifact(nil), fs.history[p]...)
}

// SamePaths reports whether both sets contain exactly the same paths.
func (fs FileSet) SamePaths(other FileSet) bool {
	if len(fs.files) != len(other.files) {
		return false
	}
	for p := range fs.files {
		if _, ok := other.files[p]; !ok {
			return false
		}
	}
	return true
}

// Changed returns the sorted paths whose content differs between fs and other.
func (fs FileSet) Changed(other FileSet) []string {
	var out []string
	for p, a := range fs.files {
		if b, ok := other.files[p]; !ok || b.Content != a.Content {
			out = append(out, p)
		}
	}
	for p := range other.files {
		if _, ok := fs.files[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
