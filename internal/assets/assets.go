// Package assets discovers relative asset references inside parsed content,
// uploads changed assets to object storage and rewrites the references to
// absolute URLs. Uploads are deduplicated on the content hash of the file
// bytes, so an unchanged asset is never uploaded twice.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/logging"
	"github.com/memberhq/contentsync/internal/metrics"
	"github.com/memberhq/contentsync/internal/parser"
	"github.com/memberhq/contentsync/internal/s3"
)

// markdownLink matches the target of markdown links and images. Image
// references are a link with a leading bang, so one pattern covers both.
var markdownLink = regexp.MustCompile(`!?\[[^\]]*\]\(([^)\s]+)\)`)

// UploadError records a single asset that could not be resolved or uploaded.
// The owning item still proceeds with its remaining references.
type UploadError struct {
	Path string // repo-relative path of the asset
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Pipeline rewrites one source's items. It is cheap to construct per run.
type Pipeline struct {
	db         *database.Database
	storage    s3.ObjectStorage
	sourceRepo string
	log        *logging.Logger
}

func New(db *database.Database, storage s3.ObjectStorage, sourceRepo string) *Pipeline {
	return &Pipeline{db: db, storage: storage, sourceRepo: sourceRepo}
}

func (p *Pipeline) WithLogger(log *logging.Logger) *Pipeline {
	p.log = log
	return p
}

// Resolve uploads the item's referenced assets and rewrites the references
// in place to absolute storage URLs. Failed references are returned and left
// untouched in the body; they never abort the item.
func (p *Pipeline) Resolve(ctx context.Context, fsys fs.FS, item *parser.Item) []*UploadError {
	if p.storage == nil {
		return nil
	}

	var errs []*UploadError

	for _, ref := range p.references(item) {
		assetPath := resolveRef(item.Path, ref)

		url, err := p.resolveAsset(ctx, fsys, assetPath)
		if err != nil {
			errs = append(errs, &UploadError{Path: assetPath, Err: err})
			continue
		}

		item.Body = strings.ReplaceAll(item.Body, "("+ref+")", "("+url+")")
		if item.CoverImage == ref {
			item.CoverImage = url
		}
	}

	return errs
}

// references returns the distinct relative references of the item, in order
// of appearance. Absolute URLs, anchors and site-rooted paths are left alone.
func (p *Pipeline) references(item *parser.Item) []string {
	var refs []string
	seen := map[string]bool{}

	add := func(ref string) {
		if ref == "" || seen[ref] || !relative(ref) {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	for _, m := range markdownLink.FindAllStringSubmatch(item.Body, -1) {
		add(m[1])
	}
	add(item.CoverImage)

	return refs
}

func (p *Pipeline) resolveAsset(ctx context.Context, fsys fs.FS, assetPath string) (string, error) {
	data, err := fs.ReadFile(fsys, assetPath)
	if err != nil {
		metrics.AssetUpload("failed")
		return "", err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	url, ok, err := p.db.LookupAsset(ctx, p.sourceRepo, assetPath, hash)
	if err != nil {
		return "", err
	}
	if ok {
		metrics.AssetUpload("reused")
		return url, nil
	}

	// The short hash in the key gives every content revision its own URL,
	// so stale CDN caches cannot serve old bytes under a new sync.
	key := path.Join(p.sourceRepo, hash[:12], assetPath)
	if err := p.storage.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		metrics.AssetUpload("failed")
		return "", err
	}

	url = p.storage.URL(key)
	if err := p.db.InsertAsset(ctx, &database.Asset{
		SourceRepo:   p.sourceRepo,
		RelativePath: assetPath,
		ContentHash:  hash,
		URL:          url,
		UploadedAt:   time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	metrics.AssetUpload("uploaded")
	if p.log != nil {
		p.log.Debugf("uploaded asset %s for %s", assetPath, p.sourceRepo)
	}
	return url, nil
}

// resolveRef turns a reference relative to the item's file into a path
// relative to the content root.
func resolveRef(itemPath, ref string) string {
	return path.Clean(path.Join(path.Dir(itemPath), ref))
}

func relative(ref string) bool {
	switch {
	case strings.Contains(ref, "://"),
		strings.HasPrefix(ref, "/"),
		strings.HasPrefix(ref, "#"),
		strings.HasPrefix(ref, "mailto:"),
		strings.HasPrefix(ref, "data:"):
		return false
	}
	return true
}
