package parser

import (
	"testing"

	"github.com/memberhq/contentsync/internal/config"
	csync_fs "github.com/memberhq/contentsync/internal/fs"
)

func TestArticles(t *testing.T) {
	fsys := csync_fs.MapFS(map[string]string{
		"articles/hello.md": `---
slug: hello
title: Hello World
requiredLevel: 2
tags:
  - intro
  - golang
coverImage: images/hello.png
homework: Write a post of your own.
---
# Hello

Welcome aboard.
`,
		"articles/broken.md": `---
title: No Slug Here
---
body
`,
		"articles/notes.txt": "not content",
	})

	p, err := ForFamily(config.FamilyArticle)
	if err != nil {
		t.Fatal(err)
	}

	items, malformed, err := p.Parse(fsys, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	item := items[0]
	if item.Slug != "hello" || item.Title != "Hello World" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.RequiredLevel != 2 {
		t.Fatalf("expected required level 2, got %d", item.RequiredLevel)
	}
	if len(item.Tags) != 2 || item.Tags[0] != "intro" {
		t.Fatalf("unexpected tags: %v", item.Tags)
	}
	if item.CoverImage != "images/hello.png" {
		t.Fatalf("unexpected cover image: %q", item.CoverImage)
	}
	if item.Fields["homework"] != "Write a post of your own." {
		t.Fatalf("expected extra frontmatter in fields, got %v", item.Fields)
	}
	if item.Body != "# Hello\n\nWelcome aboard.\n" {
		t.Fatalf("unexpected body: %q", item.Body)
	}
	if item.Path != "articles/hello.md" {
		t.Fatalf("unexpected path: %q", item.Path)
	}

	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed file, got %d", len(malformed))
	}
	if malformed[0].Path != "articles/broken.md" {
		t.Fatalf("unexpected malformed path: %q", malformed[0].Path)
	}
}

func TestArticleScope(t *testing.T) {
	fsys := csync_fs.MapFS(map[string]string{
		"a.md": "---\nslug: a\ntitle: A\n---\nbody a\n",
		"b.md": "---\nslug: b\ntitle: B\n---\nbody b\n",
	})

	p, _ := ForFamily(config.FamilyArticle)
	items, _, err := p.Parse(fsys, NewScope([]string{"b.md"}))
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 1 || items[0].Slug != "b" {
		t.Fatalf("expected only scoped item, got %+v", items)
	}
}

func TestUnterminatedFrontmatter(t *testing.T) {
	fsys := csync_fs.MapFS(map[string]string{
		"a.md": "---\nslug: a\ntitle: A\nbody without closing fence\n",
	})

	p, _ := ForFamily(config.FamilyArticle)
	items, malformed, err := p.Parse(fsys, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 || len(malformed) != 1 {
		t.Fatalf("expected single malformed file, got %d items, %d errors", len(items), len(malformed))
	}
}

func TestResources(t *testing.T) {
	fsys := csync_fs.MapFS(map[string]string{
		"recordings/standup.yaml": `slug: standup-2026-01
title: January Standup
subtype: recording
url: https://example.com/video
requiredLevel: 1
`,
		"links/bad.yaml": `slug: bad
title: Bad Subtype
subtype: webinar
`,
	})

	p, err := ForFamily(config.FamilyResource)
	if err != nil {
		t.Fatal(err)
	}

	items, malformed, err := p.Parse(fsys, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Fields["subtype"] != "recording" {
		t.Fatalf("expected subtype in fields, got %v", items[0].Fields)
	}
	if items[0].Fields["url"] != "https://example.com/video" {
		t.Fatalf("expected url in fields, got %v", items[0].Fields)
	}

	if len(malformed) != 1 || malformed[0].Path != "links/bad.yaml" {
		t.Fatalf("unexpected malformed set: %+v", malformed)
	}
}

func courseTree() map[string]string {
	return map[string]string{
		"go-basics/course.yaml": `slug: go-basics
title: Go Basics
requiredLevel: 1
description: Learn Go from scratch.
`,
		"go-basics/01-syntax/module.yaml": `title: Syntax
sortOrder: 1
`,
		"go-basics/01-syntax/hello.md": `---
slug: go-basics-hello
title: Hello
sortOrder: 1
videoUrl: https://example.com/v/1
isPreview: true
---
Unit one body.
`,
		"go-basics/01-syntax/vars.md": `---
slug: go-basics-vars
title: Variables
sortOrder: 2
---
Unit two body.
`,
		"go-basics/02-types/module.yaml": `title: Types
sortOrder: 2
`,
		"go-basics/02-types/broken.md": `---
title: Missing Slug
---
x
`,
		"go-basics/assets/diagram.png": "binary",
	}
}

func TestCourses(t *testing.T) {
	p, err := ForFamily(config.FamilyCourse)
	if err != nil {
		t.Fatal(err)
	}

	items, malformed, err := p.Parse(csync_fs.MapFS(courseTree()), nil)
	if err != nil {
		t.Fatal(err)
	}

	// One course record plus two valid units.
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(items), items)
	}

	course := items[0]
	if course.Slug != "go-basics" || course.Body != "Learn Go from scratch." {
		t.Fatalf("unexpected course item: %+v", course)
	}

	byID := map[string]*Item{}
	for _, item := range items[1:] {
		byID[item.Slug] = item
	}

	hello := byID["go-basics-hello"]
	if hello == nil {
		t.Fatalf("missing unit, got %v", byID)
	}
	if hello.Fields["course"] != "go-basics" || hello.Fields["module"] != "Syntax" {
		t.Fatalf("unit missing course context: %v", hello.Fields)
	}
	if hello.Fields["moduleSortOrder"] != 1 {
		t.Fatalf("unit missing module order: %v", hello.Fields)
	}
	if hello.RequiredLevel != 1 {
		t.Fatalf("expected unit to inherit course required level, got %d", hello.RequiredLevel)
	}
	if _, ok := hello.Fields["videoUrl"]; !ok {
		t.Fatalf("expected videoUrl in unit fields: %v", hello.Fields)
	}

	if len(malformed) != 1 || malformed[0].Path != "go-basics/02-types/broken.md" {
		t.Fatalf("unexpected malformed set: %+v", malformed)
	}
}

func TestCourseScopeReparsesWholeCourse(t *testing.T) {
	p, _ := ForFamily(config.FamilyCourse)

	// A single changed unit pulls in the whole course for ordering context.
	items, _, err := p.Parse(csync_fs.MapFS(courseTree()), NewScope([]string{"go-basics/01-syntax/vars.md"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected whole course to be parsed, got %d items", len(items))
	}

	// A change in an unrelated path parses nothing.
	items, _, err = p.Parse(csync_fs.MapFS(courseTree()), NewScope([]string{"other-course/unit.md"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items outside scope, got %d", len(items))
	}
}
