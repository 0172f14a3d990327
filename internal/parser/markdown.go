package parser

import (
	"io/fs"
	"path"

	"github.com/memberhq/contentsync/internal/config"
)

// markdownParser handles articles and projects: one markdown file per item
// with YAML frontmatter followed by the body.
type markdownParser struct {
	family config.Family
}

func (p *markdownParser) Parse(fsys fs.FS, scope Scope) ([]*Item, []*MalformedContentError, error) {
	var items []*Item
	var malformed []*MalformedContentError

	err := fs.WalkDir(fsys, ".", func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(filePath) != ".md" || !scope.Contains(filePath) {
			return nil
		}

		data, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return err
		}

		item, perr := p.parseFile(filePath, data)
		if perr != nil {
			malformed = append(malformed, perr)
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return items, malformed, nil
}

func (p *markdownParser) parseFile(filePath string, data []byte) (*Item, *MalformedContentError) {
	meta, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, &MalformedContentError{Path: filePath, Reason: err.Error()}
	}

	item := &Item{
		Family:        p.family,
		Slug:          stringField(meta, "slug"),
		Title:         stringField(meta, "title"),
		Body:          body,
		RequiredLevel: intField(meta, "requiredLevel"),
		Tags:          stringSliceField(meta, "tags"),
		CoverImage:    stringField(meta, "coverImage"),
		Path:          filePath,
	}

	switch {
	case item.Slug == "":
		return nil, &MalformedContentError{Path: filePath, Reason: "missing required frontmatter field \"slug\""}
	case item.Title == "":
		return nil, &MalformedContentError{Path: filePath, Reason: "missing required frontmatter field \"title\""}
	}

	if len(meta) > 0 {
		item.Fields = meta
	}
	return item, nil
}
