package parser

import (
	"errors"
	"io/fs"
	"path"

	"github.com/goccy/go-yaml"

	"github.com/memberhq/contentsync/internal/config"
)

const (
	courseManifest = "course.yaml"
	moduleManifest = "module.yaml"
)

// courseParser handles the three-level course hierarchy: a course directory
// holds course.yaml, module directories hold module.yaml, and each module
// directory holds one markdown file per unit. Units are emitted as records
// carrying their course and module context, so a unit cannot be parsed in
// isolation from its manifests.
type courseParser struct{}

func (p *courseParser) Parse(fsys fs.FS, scope Scope) ([]*Item, []*MalformedContentError, error) {
	courseDirs, err := findCourseDirs(fsys)
	if err != nil {
		return nil, nil, err
	}

	var items []*Item
	var malformed []*MalformedContentError

	for _, dir := range courseDirs {
		// Any change inside a course re-parses the whole course: unit
		// ordering depends on the course and module manifests.
		if !scope.ContainsDir(dir) {
			continue
		}

		courseItems, courseMalformed, err := p.parseCourse(fsys, dir)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, courseItems...)
		malformed = append(malformed, courseMalformed...)
	}

	return items, malformed, nil
}

func findCourseDirs(fsys fs.FS) ([]string, error) {
	var dirs []string
	err := fs.WalkDir(fsys, ".", func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Base(filePath) == courseManifest {
			dirs = append(dirs, path.Dir(filePath))
		}
		return nil
	})
	return dirs, err
}

func (p *courseParser) parseCourse(fsys fs.FS, dir string) ([]*Item, []*MalformedContentError, error) {
	manifestPath := path.Join(dir, courseManifest)

	meta, perr := readManifest(fsys, manifestPath)
	if perr != nil {
		return nil, []*MalformedContentError{perr}, nil
	}

	course := &Item{
		Family:        config.FamilyCourse,
		Slug:          stringField(meta, "slug"),
		Title:         stringField(meta, "title"),
		Body:          stringField(meta, "description"),
		RequiredLevel: intField(meta, "requiredLevel"),
		Tags:          stringSliceField(meta, "tags"),
		CoverImage:    stringField(meta, "coverImage"),
		Path:          manifestPath,
	}

	switch {
	case course.Slug == "":
		return nil, []*MalformedContentError{{Path: manifestPath, Reason: "missing required field \"slug\""}}, nil
	case course.Title == "":
		return nil, []*MalformedContentError{{Path: manifestPath, Reason: "missing required field \"title\""}}, nil
	}

	if len(meta) > 0 {
		course.Fields = meta
	}

	items := []*Item{course}
	var malformed []*MalformedContentError

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		moduleItems, moduleMalformed, err := p.parseModule(fsys, path.Join(dir, entry.Name()), course)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, moduleItems...)
		malformed = append(malformed, moduleMalformed...)
	}

	return items, malformed, nil
}

func (p *courseParser) parseModule(fsys fs.FS, dir string, course *Item) ([]*Item, []*MalformedContentError, error) {
	manifestPath := path.Join(dir, moduleManifest)

	// Directories without a module manifest are not modules.
	if _, err := fs.Stat(fsys, manifestPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	meta, perr := readManifest(fsys, manifestPath)
	if perr != nil {
		return nil, []*MalformedContentError{perr}, nil
	}

	moduleTitle := stringField(meta, "title")
	moduleOrder := intField(meta, "sortOrder")
	if moduleTitle == "" {
		return nil, []*MalformedContentError{{Path: manifestPath, Reason: "missing required field \"title\""}}, nil
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil, err
	}

	var items []*Item
	var malformed []*MalformedContentError

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".md" {
			continue
		}

		unitPath := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, unitPath)
		if err != nil {
			return nil, nil, err
		}

		unit, perr := p.parseUnit(unitPath, data, course, moduleTitle, moduleOrder)
		if perr != nil {
			malformed = append(malformed, perr)
			continue
		}
		items = append(items, unit)
	}

	return items, malformed, nil
}

func (p *courseParser) parseUnit(unitPath string, data []byte, course *Item, moduleTitle string, moduleOrder int) (*Item, *MalformedContentError) {
	meta, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, &MalformedContentError{Path: unitPath, Reason: err.Error()}
	}

	level := course.RequiredLevel
	if _, ok := meta["requiredLevel"]; ok {
		level = intField(meta, "requiredLevel")
	}

	unit := &Item{
		Family:        config.FamilyCourse,
		Slug:          stringField(meta, "slug"),
		Title:         stringField(meta, "title"),
		Body:          body,
		RequiredLevel: level,
		Tags:          stringSliceField(meta, "tags"),
		CoverImage:    stringField(meta, "coverImage"),
		Path:          unitPath,
	}

	switch {
	case unit.Slug == "":
		return nil, &MalformedContentError{Path: unitPath, Reason: "missing required frontmatter field \"slug\""}
	case unit.Title == "":
		return nil, &MalformedContentError{Path: unitPath, Reason: "missing required frontmatter field \"title\""}
	}

	// Unit-specific fields (sortOrder, videoUrl, timestamps, isPreview and
	// any extras) travel in Fields together with the position of the unit
	// within the course.
	if meta == nil {
		meta = map[string]any{}
	}
	meta["course"] = course.Slug
	meta["module"] = moduleTitle
	meta["moduleSortOrder"] = moduleOrder
	unit.Fields = meta

	return unit, nil
}

func readManifest(fsys fs.FS, manifestPath string) (map[string]any, *MalformedContentError) {
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		return nil, &MalformedContentError{Path: manifestPath, Reason: err.Error()}
	}

	var meta map[string]any
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, &MalformedContentError{Path: manifestPath, Reason: err.Error()}
	}
	return meta, nil
}
