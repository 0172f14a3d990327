package parser

import (
	"errors"
	"strings"

	"github.com/goccy/go-yaml"
)

const frontmatterFence = "---"

var errNoFrontmatter = errors.New("missing frontmatter block")

// splitFrontmatter separates a markdown document into its YAML frontmatter
// and body. The frontmatter is delimited by "---" fences at the top of the
// file.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if !strings.HasPrefix(text, frontmatterFence+"\n") {
		return nil, "", errNoFrontmatter
	}

	rest := text[len(frontmatterFence)+1:]
	end := strings.Index(rest, "\n"+frontmatterFence)
	if end < 0 {
		return nil, "", errors.New("unterminated frontmatter block")
	}

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, "", err
	}

	body := rest[end+len(frontmatterFence)+1:]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}

// stringField pops a string value from the metadata map.
func stringField(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	delete(meta, key)
	s, _ := v.(string)
	return s
}

// intField pops an integer value from the metadata map. YAML decodes
// integers as uint64 or int64 depending on sign.
func intField(meta map[string]any, key string) int {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	delete(meta, key)
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// stringSliceField pops a list of strings from the metadata map.
func stringSliceField(meta map[string]any, key string) []string {
	v, ok := meta[key]
	if !ok {
		return nil
	}
	delete(meta, key)

	items, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
