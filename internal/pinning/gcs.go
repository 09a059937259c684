package pinning

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/darkace1998/video-pipeline/internal/models"
)

// GCSBackend uploads files to a Google Cloud Storage bucket
type GCSBackend struct {
	bucket      string
	prefix      string
	credentials []byte
	endpoint    string
}

// NewGCSBackend creates a GCS backend. Options: bucket, prefix and
// credentials_json (raw or base64). Without credentials the client uses
// application default credentials.
func NewGCSBackend(ep models.PinEndpoint) (*GCSBackend, error) {
	bucket := ep.Options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("gcs backend requires a bucket")
	}

	b := &GCSBackend{
		bucket:   bucket,
		prefix:   ep.Options["prefix"],
		endpoint: ep.URL,
	}
	if creds := ep.Options["credentials_json"]; creds != "" {
		b.credentials = decodeSecret(creds)
	}
	return b, nil
}

// Name returns the backend label used in metrics and logs
func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if len(b.credentials) > 0 {
		opts = append(opts, option.WithCredentialsJSON(b.credentials))
	}
	if b.endpoint != "" {
		opts = append(opts, option.WithEndpoint(b.endpoint), option.WithoutAuthentication())
	}
	return opts
}

// Pin uploads the file under its content identifier
func (b *GCSBackend) Pin(ctx context.Context, path string) (string, error) {
	cid, err := contentID(path)
	if err != nil {
		return "", err
	}

	client, err := storage.NewClient(ctx, b.clientOptions()...)
	if err != nil {
		return "", fmt.Errorf("storage.NewClient: %w", err)
	}
	defer func() { _ = client.Close() }()

	// #nosec G304 - path comes from the upload transport
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	objectName := objectKey(b.prefix, cid)
	wc := client.Bucket(b.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to write object %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", objectName, err)
	}
	return cid, nil
}
