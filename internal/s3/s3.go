// Package s3 implements durable asset storage on Amazon S3 and
// S3-compatible services.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/memberhq/contentsync/internal/config"
)

// ObjectStorage hands uploaded assets a stable public URL.
type ObjectStorage interface {
	// Upload writes the object under the given key, overwriting any
	// previous object.
	Upload(ctx context.Context, key string, body io.Reader) error
	// URL returns the public URL the stored body should reference for the
	// given key.
	URL(key string) string
}

// New instantiates the configured object storage backend.
func New(ctx context.Context, cfg config.ObjectStorage) (ObjectStorage, error) {
	if cfg.AmazonS3 != nil {
		return newAmazonS3(ctx, cfg.AmazonS3)
	}
	return nil, errors.New("object storage is not configured")
}

type AmazonS3 struct {
	config   *config.AmazonS3
	uploader *manager.Uploader
}

func newAmazonS3(ctx context.Context, c *config.AmazonS3) (*AmazonS3, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}

	if c.Credentials != nil {
		value, err := c.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		aws, ok := value.(config.SecretAWS)
		if !ok {
			return nil, fmt.Errorf("unsupported credentials type for object storage: %T", value)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(aws.AccessKeyID, aws.SecretAccessKey, aws.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.URL != "" {
			o.BaseEndpoint = aws.String(c.URL)
			o.UsePathStyle = true
		}
	})

	return &AmazonS3{config: c, uploader: manager.NewUploader(client)}, nil
}

func (s *AmazonS3) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   body,
	})
	return err
}

func (s *AmazonS3) URL(key string) string {
	switch {
	case s.config.PublicURL != "":
		return strings.TrimRight(s.config.PublicURL, "/") + "/" + s.objectKey(key)
	case s.config.URL != "":
		// Path-style endpoint, as used by S3-compatible services.
		return strings.TrimRight(s.config.URL, "/") + "/" + s.config.Bucket + "/" + s.objectKey(key)
	default:
		region := s.config.Region
		if region == "" {
			region = "us-east-1"
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, region, s.objectKey(key))
	}
}

func (s *AmazonS3) objectKey(key string) string {
	return path.Join(s.config.KeyPrefix, key)
}
