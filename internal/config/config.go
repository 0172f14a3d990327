package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"iter"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"

	"github.com/memberhq/contentsync/internal/util"
)

// Internal configuration data structures for the content sync service.

// Root is the top-level configuration structure. Sources are the external
// git repositories content is synchronized from; secrets hold credentials
// and webhook signing keys referenced by name.
type Root struct {
	Sources  map[string]*Source `json:"sources,omitempty"`
	Secrets  map[string]*Secret `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.
	Database *Database          `json:"database,omitempty"`
	Storage  *ObjectStorage     `json:"storage,omitempty"`
	Service  *Service           `json:"service,omitempty"`
}

// SetSQLitePersistentByDefault sets the database configuration to use a
// SQLite database stored in the given persistence directory if no other
// database configuration exists.
func (r *Root) SetSQLitePersistentByDefault(persistenceDir string) bool {
	if r.Database == nil {
		r.Database = &Database{}
	}

	if r.Database.SQL == nil {
		r.Database.SQL = &SQLDatabase{}
	}

	switch r.Database.SQL.Driver {
	case "", "sqlite3", "sqlite":
		if r.Database.SQL.DSN == "" {
			r.Database.SQL.Driver = "sqlite"
			r.Database.SQL.DSN = filepath.Join(persistenceDir, "sqlite.db")
		}
		return true
	}
	return false
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root
// struct. This lets us define resources as mappings where keys are the
// resource names. It also injects secret values into each secret reference
// so that internal callers can resolve them as needed.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) Unmarshal() error {
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Secrets {
		raw.Secrets[name] = cmp.Or(raw.Secrets[name], &Secret{})
		raw.Secrets[name].Name = name
	}

	for name := range raw.Sources {
		raw.Sources[name] = cmp.Or(raw.Sources[name], &Source{})
		raw.Sources[name].Name = name
		if raw.Sources[name].Git.Credentials != nil {
			raw.Sources[name].Git.Credentials.value = raw.Secrets[raw.Sources[name].Git.Credentials.Name]
		}
		if raw.Sources[name].WebhookSecret != nil {
			raw.Sources[name].WebhookSecret.value = raw.Secrets[raw.Sources[name].WebhookSecret.Name]
		}
	}

	if raw.Storage != nil && raw.Storage.AmazonS3 != nil && raw.Storage.AmazonS3.Credentials != nil {
		raw.Storage.AmazonS3.Credentials.value = raw.Secrets[raw.Storage.AmazonS3.Credentials.Name]
	}

	return nil
}

func (r *Root) SortedSources() iter.Seq2[int, *Source] {
	return iterator(r.Sources, func(s *Source) string { return s.Name })
}

func (r *Root) SortedSecrets() iter.Seq2[int, *Secret] {
	return iterator(r.Secrets, func(s *Secret) string { return s.Name })
}

// SourceForRepo returns the source configured for the given repository
// identifier ("org/name"), if any.
func (r *Root) SourceForRepo(fullName string) (*Source, bool) {
	for _, src := range r.Sources {
		if src.Git.RepoName() == fullName {
			return src, true
		}
	}
	return nil, false
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

// Family identifies one of the supported content families. The family
// selects the parsing strategy and the schema of the family-specific fields.
type Family string

const (
	FamilyArticle  Family = "article"
	FamilyCourse   Family = "course"
	FamilyResource Family = "resource"
	FamilyProject  Family = "project"
)

func (f Family) Valid() bool {
	switch f {
	case FamilyArticle, FamilyCourse, FamilyResource, FamilyProject:
		return true
	}
	return false
}

func (f Family) String() string {
	return string(f)
}

// Source defines one external repository content is synchronized from.
type Source struct {
	Name           string     `json:"name"`
	Family         Family     `json:"family"`
	Git            Git        `json:"git"`
	WebhookSecret  *SecretRef `json:"webhook_secret,omitempty"`
	ResyncInterval Duration   `json:"resync_interval,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

func (s *Source) UnmarshalYAML(bs []byte) error {
	type rawSource Source // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawSource

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode source: %w", err)
	}

	*s = Source(raw)
	return s.validate()
}

func (s *Source) UnmarshalJSON(bs []byte) error {
	type rawSource Source
	var raw rawSource

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode source: %w", err)
	}

	*s = Source(raw)
	return s.validate()
}

func (s *Source) validate() error {
	if s.Family != "" && !s.Family.Valid() {
		return fmt.Errorf("unknown content family %q", s.Family)
	}
	for _, pattern := range s.Git.IncludedFiles {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("failed to compile included file pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range s.Git.ExcludedFiles {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("failed to compile excluded file pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Private reports whether the source requires credentials to fetch.
func (s *Source) Private() bool {
	return s.Git.Credentials != nil
}

func (s *Source) Equal(other *Source) bool {
	return util.FastEqual(s, other, func(a, b *Source) bool {
		return a.Name == b.Name &&
			a.Family == b.Family &&
			a.Git.Equal(&b.Git) &&
			a.WebhookSecret.Equal(b.WebhookSecret) &&
			a.ResyncInterval == b.ResyncInterval
	})
}

// Git holds the repository coordinates for a source.
type Git struct {
	Repo          string     `json:"repo"` // clone URL, e.g. https://github.com/org/blog.git
	Reference     *string    `json:"reference,omitempty"`
	Path          *string    `json:"path,omitempty"` // root directory for content files within the repository
	IncludedFiles StringSet  `json:"included_files,omitempty"`
	ExcludedFiles StringSet  `json:"excluded_files,omitempty"`
	Credentials   *SecretRef `json:"credentials,omitempty"` // nil for public repositories

	_ struct{} `additionalProperties:"false"`
}

// RepoName derives the "org/name" repository identifier from the clone URL.
// Webhook payloads carry this form in repository.full_name.
func (g *Git) RepoName() string {
	s := g.Repo
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if i := strings.Index(s, "@"); i >= 0 { // scp-like: git@github.com:org/name
		s = strings.Replace(s[i+1:], ":", "/", 1)
	}

	parts := strings.Split(s, "/")
	if len(parts) >= 3 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return s
}

func (g *Git) Equal(other *Git) bool {
	return util.FastEqual(g, other, func(a, b *Git) bool {
		return a.Repo == b.Repo &&
			util.PtrEqual(a.Reference, b.Reference) &&
			util.PtrEqual(a.Path, b.Path) &&
			a.IncludedFiles.Equal(b.IncludedFiles) &&
			a.ExcludedFiles.Equal(b.ExcludedFiles) &&
			a.Credentials.Equal(b.Credentials)
	})
}

type StringSet []string

func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	m := make(map[string]struct{}, len(s))
	for _, v := range s {
		m[v] = struct{}{}
	}
	for _, v := range other {
		if _, ok := m[v]; !ok {
			return false
		}
	}
	return true
}

// Duration marshals as a string like "5m" or "0.5s" instead of int64 nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ObjectStorage defines where uploaded assets are stored.
type ObjectStorage struct {
	AmazonS3 *AmazonS3 `json:"aws,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type AmazonS3 struct {
	Bucket      string     `json:"bucket"`
	KeyPrefix   string     `json:"key_prefix,omitempty"`
	Region      string     `json:"region,omitempty"`
	URL         string     `json:"url,omitempty"`        // endpoint override, used with S3-compatible services and in tests
	PublicURL   string     `json:"public_url,omitempty"` // base URL rewritten into content bodies; defaults to the bucket endpoint
	Credentials *SecretRef `json:"credentials,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Database struct {
	SQL *SQLDatabase `json:"sql,omitempty"`
}

type SQLDatabase struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type Service struct {
	// Listen is the address the HTTP server binds to, e.g. ":8282".
	Listen string `json:"listen,omitempty"`
	// ApiPrefix prefixes all endpoints (including health and metrics) with
	// its value. It must start with `/` and not end with `/`.
	ApiPrefix string `json:"api_prefix,omitempty" pattern:"^/([^/].*[^/])?$"`
	// Workers bounds the number of concurrent sync runs across sources.
	Workers int `json:"workers,omitempty"`
	// RunTimeout is the wall-clock budget for a single sync run.
	RunTimeout Duration `json:"run_timeout,omitzero"`

	_ struct{} `additionalProperties:"false"`
}
