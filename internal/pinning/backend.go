package pinning

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
)

// NewBackend builds the backend for a configured endpoint
func NewBackend(ep models.PinEndpoint) (Backend, error) {
	switch ep.Type {
	case constants.PinBackendIPFS:
		return NewIPFSBackend(ep.URL, ep.Options["token"]), nil
	case constants.PinBackendS3:
		return NewS3Backend(ep)
	case constants.PinBackendGCS:
		return NewGCSBackend(ep)
	case constants.PinBackendSFTP:
		return NewSFTPBackend(ep)
	default:
		return nil, fmt.Errorf("unknown pin backend type: %s", ep.Type)
	}
}

// contentID hashes the file at p into the identifier used by the object
// storage backends
func contentID(p string) (string, error) {
	// #nosec G304 - path comes from the upload transport
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return "sha256-" + hex.EncodeToString(h.Sum(nil)), nil
}

// objectKey joins an optional prefix and the content identifier
func objectKey(prefix, cid string) string {
	if prefix == "" {
		return cid
	}
	return path.Join(prefix, cid)
}

// decodeSecret accepts base64 or raw secret material
func decodeSecret(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}
