// Package webhook applies asynchronous encoder reports to jobs and videos.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Webhook errors
var (
	ErrAuthFailed    = errors.New("webhook authentication failed")
	ErrInvalidStatus = errors.New("invalid webhook status")
	ErrInvalidReport = errors.New("invalid webhook report")
	ErrJobNotFound   = errors.New("encoding job not found")
)

// Outcome describes what a report did
type Outcome string

// Report outcomes
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeProgress  Outcome = "progress"
)

// Report is the body an encoder posts when a job finishes
type Report struct {
	Owner                 string   `json:"owner"`
	Permlink              string   `json:"permlink"`
	Status                string   `json:"status"`
	ManifestCID           string   `json:"manifest_cid,omitempty"`
	Error                 string   `json:"error,omitempty"`
	VideoURL              string   `json:"video_url,omitempty"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds,omitempty"`
	QualitiesEncoded      []string `json:"qualities_encoded,omitempty"`
	EncoderID             string   `json:"encoder_id,omitempty"`
}

// ProgressReport is the body of an encoding progress update
type ProgressReport struct {
	Owner    string `json:"owner"`
	Permlink string `json:"permlink"`
	Progress int    `json:"progress"`
}

// VideoTransitions is the part of the video lifecycle the handler drives
type VideoTransitions interface {
	MarkPublished(ctx context.Context, permlink, manifestCID string) error
	MarkFailed(ctx context.Context, permlink string) error
	SetProgress(ctx context.Context, permlink string, progress int) error
	Get(ctx context.Context, permlink string) (*models.Video, error)
}

// Handler authenticates and applies encoder reports
type Handler struct {
	jobs    store.JobStore
	videos  VideoTransitions
	secret  []byte
	metrics *metrics.Metrics
	log     *logger.ComponentLogger
	now     func() time.Time
}

// NewHandler creates a webhook handler expecting secret as credential
func NewHandler(jobs store.JobStore, videos VideoTransitions, secret string, m *metrics.Metrics) *Handler {
	return &Handler{
		jobs:    jobs,
		videos:  videos,
		secret:  []byte(secret),
		metrics: m,
		log:     logger.NewComponentLogger("webhook"),
		now:     time.Now,
	}
}

// Authenticate compares the presented credential with the configured secret
func (h *Handler) Authenticate(credential string) error {
	if len(h.secret) == 0 || subtle.ConstantTimeCompare([]byte(credential), h.secret) != 1 {
		h.metrics.RecordWebhook("unauthorized")
		return ErrAuthFailed
	}
	return nil
}

// Apply reconciles a completion or failure report into the job and video.
// A job already in a terminal state is never overwritten: a replay of the
// same status is a duplicate, a conflicting status is ignored.
func (h *Handler) Apply(ctx context.Context, r Report) (Outcome, error) {
	log := h.log.WithContext(ctx).With("job", r.Owner+"/"+r.Permlink, "status", r.Status)

	target, err := validate(r)
	if err != nil {
		h.metrics.RecordWebhook("invalid")
		return "", err
	}

	job, err := h.jobs.GetJob(ctx, r.Owner, r.Permlink)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.metrics.RecordWebhook("not_found")
			return "", fmt.Errorf("%w: %s/%s", ErrJobNotFound, r.Owner, r.Permlink)
		}
		return "", fmt.Errorf("failed to load job: %w", err)
	}

	if outcome, terminal := h.checkTerminal(job, target); terminal {
		if outcome == OutcomeIgnored {
			log.Warn("Conflicting report for finished job ignored", "current", job.Status)
		} else {
			log.Info("Duplicate report for finished job", "current", job.Status)
			if err := h.syncVideo(ctx, r); err != nil {
				return "", err
			}
		}
		h.metrics.RecordWebhook(string(outcome))
		return outcome, nil
	}

	// The guarded job write decides which of two racing reports wins; only
	// the winner touches the video.
	now := h.now()
	patch := store.JobPatch{
		Status:            models.StringPtr(target),
		WebhookReceivedAt: &now,
		IfStatus:          []string{constants.JobStatusPending, constants.JobStatusEncoding},
		UpdatedAt:         now,
	}
	if target == constants.JobStatusFailed {
		msg := r.Error
		if msg == "" {
			msg = constants.DefaultWebhookError
		}
		patch.LastError = models.StringPtr(msg)
	}

	if err := h.jobs.UpdateJob(ctx, r.Owner, r.Permlink, patch); err != nil {
		if errors.Is(err, store.ErrStatusMismatch) {
			log.Warn("Job finished concurrently, report ignored")
			h.metrics.RecordWebhook(string(OutcomeIgnored))
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("failed to update job: %w", err)
	}

	if err := h.transitionVideo(ctx, r); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotFound):
			log.Warn("Video missing for reported job", "error", err)
		case errors.Is(err, lifecycle.ErrVideoDeleted):
			log.Warn("Video deleted, report applied to job only")
		default:
			return "", err
		}
	}

	outcome := OutcomeCompleted
	if target == constants.JobStatusFailed {
		outcome = OutcomeFailed
	}
	h.metrics.RecordWebhook(string(outcome))
	if r.ProcessingTimeSeconds > 0 {
		h.metrics.ObserveProcessingTime(r.ProcessingTimeSeconds)
	}

	log.Info("Encoder report applied",
		"encoder_id", r.EncoderID,
		"manifest_cid", r.ManifestCID,
		"video_url", r.VideoURL,
		"qualities", r.QualitiesEncoded,
		"processing_time_seconds", r.ProcessingTimeSeconds,
		"error", r.Error,
	)
	return outcome, nil
}

// Progress records encoding progress for a job that is still processing
func (h *Handler) Progress(ctx context.Context, p ProgressReport) (Outcome, error) {
	if p.Owner == "" || p.Permlink == "" {
		return "", fmt.Errorf("%w: owner and permlink are required", ErrInvalidReport)
	}

	if _, err := h.jobs.GetJob(ctx, p.Owner, p.Permlink); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrJobNotFound, p.Owner, p.Permlink)
		}
		return "", fmt.Errorf("failed to load job: %w", err)
	}

	err := h.videos.SetProgress(ctx, p.Permlink, p.Progress)
	switch {
	case err == nil:
		return OutcomeProgress, nil
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrNotFound):
		h.log.WithContext(ctx).Debug("Progress ignored", "job", p.Owner+"/"+p.Permlink, "reason", err)
		return OutcomeIgnored, nil
	default:
		return "", err
	}
}

func validate(r Report) (string, error) {
	if r.Owner == "" || r.Permlink == "" {
		return "", fmt.Errorf("%w: owner and permlink are required", ErrInvalidReport)
	}
	switch r.Status {
	case constants.WebhookStatusComplete:
		if r.ManifestCID == "" {
			return "", fmt.Errorf("%w: manifest_cid is required for status complete", ErrInvalidReport)
		}
		return constants.JobStatusCompleted, nil
	case constants.WebhookStatusFailed:
		return constants.JobStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
}

func (h *Handler) checkTerminal(job *models.EncodingJob, target string) (Outcome, bool) {
	switch job.Status {
	case constants.JobStatusCompleted, constants.JobStatusFailed:
		if job.Status == target {
			return OutcomeDuplicate, true
		}
		return OutcomeIgnored, true
	default:
		return "", false
	}
}

// syncVideo reapplies a replayed report to a video that did not follow its
// job, which happens when the video write failed after the job write.
func (h *Handler) syncVideo(ctx context.Context, r Report) error {
	video, err := h.videos.Get(ctx, r.Permlink)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			return nil
		}
		return err
	}

	want := constants.VideoStatusFailed
	if r.Status == constants.WebhookStatusComplete {
		want = constants.VideoStatusPublished
	}
	if video.Status == want || video.Status == constants.VideoStatusDeleted {
		return nil
	}

	h.log.WithContext(ctx).Warn("Video behind its job, reapplying report",
		"job", r.Owner+"/"+r.Permlink, "video_status", video.Status)
	if err := h.transitionVideo(ctx, r); err != nil && !errors.Is(err, lifecycle.ErrVideoDeleted) {
		return err
	}
	return nil
}

func (h *Handler) transitionVideo(ctx context.Context, r Report) error {
	if r.Status == constants.WebhookStatusComplete {
		return h.videos.MarkPublished(ctx, r.Permlink, r.ManifestCID)
	}
	return h.videos.MarkFailed(ctx, r.Permlink)
}
