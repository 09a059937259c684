// Package encoder talks to external encoding workers.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
)

// Worker call errors
var (
	ErrWorkerRejected    = errors.New("worker rejected job")
	ErrWorkerTimeout     = errors.New("worker call timed out")
	ErrMalformedResponse = errors.New("malformed worker response")
)

// RejectedError is returned for a non-2xx worker response
type RejectedError struct {
	Worker     string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("worker %s rejected job: status %d: %s", e.Worker, e.StatusCode, e.Body)
}

// Is reports ErrWorkerRejected as a match
func (e *RejectedError) Is(target error) bool { return target == ErrWorkerRejected }

// JobRequest is the body of POST {worker}/encode
type JobRequest struct {
	Owner            string  `json:"owner"`
	Permlink         string  `json:"permlink"`
	InputCID         string  `json:"input_cid"`
	Short            bool    `json:"short"`
	WebhookURL       string  `json:"webhook_url"`
	APIKey           string  `json:"api_key"`
	FrontendApp      string  `json:"frontend_app"`
	OriginalFilename *string `json:"originalFilename"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
	ID    string `json:"id"`
}

// Client sends jobs to workers
type Client struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithTimeout bounds each worker call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a worker client
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{},
		timeout: constants.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch asks the worker to accept a job and returns the worker-assigned
// job id
func (c *Client) Dispatch(ctx context.Context, enc models.Encoder, job JobRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job request: %w", err)
	}

	url := strings.TrimRight(enc.URL, "/") + "/encode"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if enc.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+enc.Credential)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrWorkerTimeout, enc.Name, err)
		}
		return "", fmt.Errorf("worker %s request failed: %w", enc.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &RejectedError{
			Worker:     enc.Name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	var out jobResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrWorkerTimeout, enc.Name, err)
		}
		return "", fmt.Errorf("%w from %s: %w", ErrMalformedResponse, enc.Name, err)
	}

	jobID := out.JobID
	if jobID == "" {
		jobID = out.ID
	}
	if jobID == "" {
		return "", fmt.Errorf("%w from %s: missing job id", ErrMalformedResponse, enc.Name)
	}
	return jobID, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
