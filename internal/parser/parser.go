// Package parser converts checked-out content files into structured records.
// Each content family has its own strategy: articles and projects are single
// markdown files with YAML frontmatter, resources are pure YAML files, and
// courses are a three-level directory tree assembled into per-unit records.
package parser

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/memberhq/contentsync/internal/config"
)

// MalformedContentError attributes a parse failure to a single file. The
// orchestrator records it and continues with the remaining files, so one bad
// file never blocks the rest of the repository from syncing.
type MalformedContentError struct {
	Path   string
	Reason string
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Item is one parsed content record before asset rewriting and storage.
type Item struct {
	Family        config.Family
	Slug          string
	Title         string
	Body          string
	RequiredLevel int
	Tags          []string
	CoverImage    string         // relative path or URL from frontmatter
	Fields        map[string]any // family-specific structured fields

	// Path is the file that defines the item, relative to the content root.
	// It becomes the item's sourcePath and feeds reconciliation.
	Path string
}

// Scope narrows a run to the paths a webhook push reported as changed. A nil
// Scope means a full run over the whole tree.
type Scope map[string]struct{}

func NewScope(paths []string) Scope {
	if len(paths) == 0 {
		return nil
	}
	s := make(Scope, len(paths))
	for _, p := range paths {
		s[path.Clean(p)] = struct{}{}
	}
	return s
}

// Partial reports whether the scope restricts the run to a subset of paths.
func (s Scope) Partial() bool {
	return len(s) > 0
}

// Contains reports whether the given path should be parsed in this run.
func (s Scope) Contains(p string) bool {
	if !s.Partial() {
		return true
	}
	_, ok := s[path.Clean(p)]
	return ok
}

// ContainsDir reports whether any scoped path lives under the given
// directory. Courses re-parse their whole directory when any file inside it
// changed, since unit ordering context comes from the course and module
// manifests.
func (s Scope) ContainsDir(dir string) bool {
	if !s.Partial() {
		return true
	}
	if dir == "." {
		return true
	}
	prefix := path.Clean(dir) + "/"
	for p := range s {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Parser is the per-family parsing strategy.
type Parser interface {
	// Parse walks the content tree and returns the items found along with
	// per-file errors for content that could not be parsed.
	Parse(fsys fs.FS, scope Scope) ([]*Item, []*MalformedContentError, error)
}

// ForFamily returns the parsing strategy for a content family.
func ForFamily(family config.Family) (Parser, error) {
	switch family {
	case config.FamilyArticle, config.FamilyProject:
		return &markdownParser{family: family}, nil
	case config.FamilyResource:
		return &resourceParser{}, nil
	case config.FamilyCourse:
		return &courseParser{}, nil
	}
	return nil, fmt.Errorf("unknown content family %q", family)
}
