package pinning

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/darkace1998/video-pipeline/internal/models"
)

// S3Backend uploads files to an S3 compatible bucket keyed by content hash
type S3Backend struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Backend creates an S3 backend. Options: bucket, region, access_key,
// secret_key, prefix. A non-empty URL selects a custom endpoint with
// path-style addressing.
func NewS3Backend(ep models.PinEndpoint) (*S3Backend, error) {
	bucket := ep.Options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	opts := s3.Options{
		Region: ep.Options["region"],
	}
	if ep.Options["access_key"] != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(
			ep.Options["access_key"], ep.Options["secret_key"], "")
	}
	if ep.URL != "" {
		opts.BaseEndpoint = aws.String(ep.URL)
		opts.UsePathStyle = true
	}

	return &S3Backend{
		bucket:   bucket,
		prefix:   ep.Options["prefix"],
		uploader: manager.NewUploader(s3.New(opts)),
	}, nil
}

// Name returns the backend label used in metrics and logs
func (b *S3Backend) Name() string { return "s3" }

// Pin uploads the file under its content identifier
func (b *S3Backend) Pin(ctx context.Context, path string) (string, error) {
	cid, err := contentID(path)
	if err != nil {
		return "", err
	}

	// #nosec G304 - path comes from the upload transport
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	key := objectKey(b.prefix, cid)
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s to bucket %s: %w", key, b.bucket, err)
	}
	return cid, nil
}
