package parser

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/goccy/go-yaml"

	"github.com/memberhq/contentsync/internal/config"
)

// resourceSubtypes are the recognized resource kinds. The subtype selects
// how the rendering layer presents the item.
var resourceSubtypes = map[string]bool{
	"recording": true,
	"link":      true,
	"download":  true,
}

// resourceParser handles resources: one YAML file per item, no markdown
// body. Recordings, curated links and downloads share the schema and are
// distinguished by the subtype field.
type resourceParser struct{}

func (p *resourceParser) Parse(fsys fs.FS, scope Scope) ([]*Item, []*MalformedContentError, error) {
	var items []*Item
	var malformed []*MalformedContentError

	err := fs.WalkDir(fsys, ".", func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(filePath) || !scope.Contains(filePath) {
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

func (p *resourceParser) parseFile(filePath string, data []byte) (*Item, *MalformedContentError) {
	var meta map[string]any
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, &MalformedContentError{Path: filePath, Reason: err.Error()}
	}

	item := &Item{
		Family:        config.FamilyResource,
		Slug:          stringField(meta, "slug"),
		Title:         stringField(meta, "title"),
		RequiredLevel: intField(meta, "requiredLevel"),
		Tags:          stringSliceField(meta, "tags"),
		CoverImage:    stringField(meta, "coverImage"),
		Path:          filePath,
	}

	subtype := stringField(meta, "subtype")

	switch {
	case item.Slug == "":
		return nil, &MalformedContentError{Path: filePath, Reason: "missing required field \"slug\""}
	case item.Title == "":
		return nil, &MalformedContentError{Path: filePath, Reason: "missing required field \"title\""}
	case !resourceSubtypes[subtype]:
		return nil, &MalformedContentError{Path: filePath, Reason: fmt.Sprintf("unknown resource subtype %q", subtype)}
	}

	if meta == nil {
		meta = map[string]any{}
	}
	meta["subtype"] = subtype
	item.Fields = meta

	return item, nil
}

func isYAML(p string) bool {
	ext := path.Ext(p)
	return ext == ".yaml" || ext == ".yml"
}
