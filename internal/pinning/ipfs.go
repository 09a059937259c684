package pinning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// IPFSBackend pins through a node's add-and-pin HTTP API
type IPFSBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewIPFSBackend creates an IPFS backend for the node at baseURL
func NewIPFSBackend(baseURL, token string) *IPFSBackend {
	return &IPFSBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Name returns the backend label used in metrics and logs
func (b *IPFSBackend) Name() string { return "ipfs" }

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Pin streams the file as multipart form data and returns the node's hash
func (b *IPFSBackend) Pin(ctx context.Context, path string) (string, error) {
	// #nosec G304 - path comes from the upload transport
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	url := b.baseURL + "/api/v0/add?pin=true&cid-version=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs add request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ipfs add returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ipfs response: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ipfs response missing Hash")
	}
	return out.Hash, nil
}
