// Package packager writes a refined file set to disk as a timestamped project directory and
// an optional zip archive.
package packager

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"repoforge/internal/config"
	"repoforge/internal/logging"
	"repoforge/internal/spec"
)

// Artifact locates packaged output.
type Artifact struct {
	Dir string `json:"dir"`
	Zip string `json:"zip,omitempty"`
}

// Packager writes projects under a root directory.
type Packager struct {
	root string
	zip  bool
	now  func() time.Time
}

// New creates a packager from the output config.
func New(cfg config.OutputConfig) *Packager {
	root := cfg.Dir
	if root == "" {
		root = "output"
	}
	return &Packager{root: root, zip: cfg.Zip, now: time.Now}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// dirName returns "<name>_<timestamp>" with the name reduced to a safe file name.
func (p *Packager) dirName(s *spec.ProjectSpec) string {
	name := strings.Trim(unsafeName.ReplaceAllString(s.Name, "_"), "._")
	if name == "" {
		name = "project"
	}
	return name + "_" + p.now().Format("20060102_150405")
}

// Package writes fs to a new directory and, when enabled, zips it next to the directory.
func (p *Packager) Package(s *spec.ProjectSpec, files spec.FileSet) (Artifact, error) {
	timer := logging.StartTimer(logging.CategoryPackager, "Package")
	defer timer.Stop()

	name := p.dirName(s)
	art := Artifact{Dir: filepath.Join(p.root, name)}
	if err := WriteDir(art.Dir, files); err != nil {
		return Artifact{}, err
	}
	if p.zip {
		art.Zip = art.Dir + ".zip"
		if err := WriteZip(art.Zip, files); err != nil {
			return Artifact{}, err
		}
	}
	logging.Packager("packaged %d files into %s", files.Len(), art.Dir)
	return art, nil
}

// WriteDir writes every artifact under dir, creating parents as needed.
func WriteDir(dir string, files spec.FileSet) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, a := range files.Artifacts() {
		if err := spec.CheckRelativePath(a.Path); err != nil {
			return err
		}
		full := filepath.Join(dir, filepath.FromSlash(a.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(full, []byte(a.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", a.Path, err)
		}
	}
	return nil
}

// WriteZip writes a deflated archive of files with stable entry order.
func WriteZip(path string, files spec.FileSet) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	for _, a := range files.Artifacts() {
		if err := spec.CheckRelativePath(a.Path); err != nil {
			return err
		}
		hdr := &zip.FileHeader{Name: a.Path, Method: zip.Deflate}
		hdr.SetMode(0644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip %s: %w", a.Path, err)
		}
		if _, err := io.WriteString(w, a.Content); err != nil {
			return fmt.Errorf("zip %s: %w", a.Path, err)
		}
	}
	return zw.Close()
}

// skipDirs are never read back into a file set.
var skipDirs = map[string]bool{
	".git": true, "__pycache__": true, ".venv": true, "venv": true,
	".forge-deps": true, "node_modules": true, ".mypy_cache": true, ".pytest_cache": true,
}

// maxReadSize bounds files loaded by ReadDir.
const maxReadSize = 1 << 20

// ReadDir loads a project directory into a file set. Hidden tool directories and files larger
// than 1 MiB are skipped.
func ReadDir(dir string) (spec.FileSet, error) {
	contents := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), ".pyc") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxReadSize {
			logging.Get(logging.CategoryPackager).Warn("skipping %s: %d bytes", path, info.Size())
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		contents[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return spec.FileSet{}, fmt.Errorf("read %s: %w", dir, err)
	}
	return spec.NewFileSet(contents), nil
}
