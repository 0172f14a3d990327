package fs

import (
	"io/fs"
	"sort"
	"testing"
)

func TestFilterFS(t *testing.T) {
	base := MapFS(map[string]string{
		"articles/a.md":      "a",
		"articles/draft.md":  "d",
		"articles/notes.txt": "n",
		"images/x.png":       "x",
	})

	fsys, err := NewFilterFS(base, []string{"articles/**"}, []string{"articles/draft.md"})
	if err != nil {
		t.Fatal(err)
	}

	var seen []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			seen = append(seen, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(seen)

	want := []string{"articles/a.md", "articles/notes.txt"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, seen)
	}

	if _, err := fs.ReadFile(fsys, "articles/draft.md"); err == nil {
		t.Fatal("expected excluded file to be hidden")
	}
	if _, err := fs.ReadFile(fsys, "articles/a.md"); err != nil {
		t.Fatal(err)
	}
}

func TestFilterFSBadPattern(t *testing.T) {
	if _, err := NewFilterFS(MapFS(nil), []string{"["}, nil); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
