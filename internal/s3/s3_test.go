package s3

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/memberhq/contentsync/internal/config"
)

func TestAmazonS3(t *testing.T) {
	// Set mock AWS credentials to avoid IMDS errors.
	t.Setenv("AWS_ACCESS_KEY_ID", "mock-access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "mock-secret-key")
	t.Setenv("AWS_REGION", "us-east-1")

	mock := s3mem.New()
	if err := mock.CreateBucket("assets"); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(gofakes3.New(mock).Server())
	defer ts.Close()

	ctx := t.Context()

	cfg := config.ObjectStorage{
		AmazonS3: &config.AmazonS3{
			Bucket:    "assets",
			KeyPrefix: "content",
			URL:       ts.URL,
		},
	}

	storage, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	err = storage.Upload(ctx, "org/blog/images/hero.png", bytes.NewReader([]byte("image bytes")))
	if err != nil {
		t.Fatalf("expected no error while uploading asset: %v", err)
	}

	object, err := mock.GetObject("assets", "content/org/blog/images/hero.png", nil)
	if err != nil {
		t.Fatalf("expected no error while getting object: %v", err)
	}

	contents, err := io.ReadAll(object.Contents)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != "image bytes" {
		t.Fatalf("unexpected object contents: %q", contents)
	}

	url := storage.URL("org/blog/images/hero.png")
	want := ts.URL + "/assets/content/org/blog/images/hero.png"
	if url != want {
		t.Fatalf("expected URL %q, got %q", want, url)
	}
}

func TestURLPrefersPublicURL(t *testing.T) {
	s := &AmazonS3{config: &config.AmazonS3{
		Bucket:    "assets",
		KeyPrefix: "content",
		PublicURL: "https://cdn.example.com/",
	}}

	if got := s.URL("a/b.png"); got != "https://cdn.example.com/content/a/b.png" {
		t.Fatalf("unexpected URL %q", got)
	}
}

func TestURLDefaultsToBucketEndpoint(t *testing.T) {
	s := &AmazonS3{config: &config.AmazonS3{Bucket: "assets", Region: "eu-west-1"}}

	if got := s.URL("a/b.png"); got != "https://assets.s3.eu-west-1.amazonaws.com/a/b.png" {
		t.Fatalf("unexpected URL %q", got)
	}
}

func TestUnconfiguredStorage(t *testing.T) {
	if _, err := New(t.Context(), config.ObjectStorage{}); err == nil {
		t.Fatal("expected error for unconfigured storage")
	}
}
