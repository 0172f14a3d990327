package fs

import (
	"fmt"
	"io/fs"

	"github.com/gobwas/glob"
)

// filterFS restricts a filesystem to files matched by the included patterns
// and not matched by the excluded patterns. Directories remain visible so
// walks can descend into them.
type filterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

// NewFilterFS wraps fsys with the given include and exclude glob patterns.
// An empty include list admits every file.
func NewFilterFS(fsys fs.FS, included, excluded []string) (fs.FS, error) {
	f := &filterFS{fsys: fsys}

	for _, pattern := range included {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile included file pattern %q: %w", pattern, err)
		}
		f.included = append(f.included, g)
	}
	for _, pattern := range excluded {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile excluded file pattern %q: %w", pattern, err)
		}
		f.excluded = append(f.excluded, g)
	}

	return f, nil
}

func (f *filterFS) match(path string) bool {
	for _, g := range f.excluded {
		if g.Match(path) {
			return false
		}
	}
	if len(f.included) == 0 {
		return true
	}
	for _, g := range f.included {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (f *filterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if !info.IsDir() && !f.match(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

func (f *filterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}

	var filtered []fs.DirEntry
	for _, entry := range entries {
		path := entry.Name()
		if name != "." {
			path = name + "/" + path
		}
		if entry.IsDir() || f.match(path) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}
