// Package pinning stores uploaded files in content-addressed storage,
// trying a primary endpoint and then a fallback.
package pinning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkace1998/video-pipeline/internal/metrics"
)

// ErrPinFailed is matched by every *PinError
var ErrPinFailed = errors.New("pin failed")

// PinError carries the last underlying error after all endpoints failed
type PinError struct {
	Path string
	Err  error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("pin failed for %s: %v", e.Path, e.Err)
}

// Unwrap returns the last backend error
func (e *PinError) Unwrap() error { return e.Err }

// Is reports ErrPinFailed as a match
func (e *PinError) Is(target error) bool { return target == ErrPinFailed }

// Pinner stores a local file and returns its content identifier
type Pinner interface {
	Pin(ctx context.Context, path string) (string, error)
}

// Backend is one storage endpoint
type Backend interface {
	Pinner
	Name() string
}

// Client pins through the primary backend and retries once on the fallback
type Client struct {
	primary  Backend
	fallback Backend
	timeout  time.Duration
	metrics  *metrics.Metrics
}

var _ Pinner = (*Client)(nil)

// NewClient creates a pinning client. fallback may be nil.
func NewClient(primary, fallback Backend, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		metrics:  m,
	}
}

// Pin stores the file at path. Each attempt is bounded by the client timeout.
func (c *Client) Pin(ctx context.Context, path string) (string, error) {
	cid, err := c.attempt(ctx, c.primary, path)
	if err == nil {
		return cid, nil
	}
	slog.Warn("Primary pin failed", "backend", c.primary.Name(), "path", path, "error", err)

	if c.fallback == nil {
		return "", &PinError{Path: path, Err: err}
	}

	cid, err = c.attempt(ctx, c.fallback, path)
	if err != nil {
		slog.Error("Fallback pin failed", "backend", c.fallback.Name(), "path", path, "error", err)
		return "", &PinError{Path: path, Err: err}
	}
	return cid, nil
}

func (c *Client) attempt(ctx context.Context, b Backend, path string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cid, err := b.Pin(ctx, path)
	if err == nil && cid == "" {
		err = errors.New("backend returned an empty content identifier")
	}
	if err != nil {
		c.metrics.RecordPin(b.Name(), "failure")
		return "", err
	}

	c.metrics.RecordPin(b.Name(), "success")
	slog.Debug("File pinned", "backend", b.Name(), "path", path, "cid", cid)
	return cid, nil
}
