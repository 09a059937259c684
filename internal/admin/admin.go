// Package admin implements the operator actions behind the admin API.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Admin errors
var (
	ErrJobNotFound  = errors.New("encoding job not found")
	ErrJobNotFailed = errors.New("encoding job is not failed")
)

// EncoderLister exposes the current encoder rotation
type EncoderLister interface {
	Enabled() []models.Encoder
}

// Stats is the dashboard summary
type Stats struct {
	Jobs            map[string]int `json:"jobs"`
	EnabledEncoders []string       `json:"enabled_encoders"`
}

// Service runs admin actions against the record store
type Service struct {
	jobs      store.JobStore
	videos    store.VideoStore
	lifecycle *lifecycle.Lifecycle
	encoders  EncoderLister
	log       *logger.ComponentLogger
	now       func() time.Time
}

// NewService creates an admin service
func NewService(jobs store.JobStore, videos store.VideoStore, lc *lifecycle.Lifecycle, encoders EncoderLister) *Service {
	return &Service{
		jobs:      jobs,
		videos:    videos,
		lifecycle: lc,
		encoders:  encoders,
		log:       logger.NewComponentLogger("admin"),
		now:       time.Now,
	}
}

// Stats returns job counts by status and the enabled encoder names
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	if counts == nil {
		counts = make(map[string]int)
	}
	for _, st := range []string{
		constants.JobStatusPending, constants.JobStatusEncoding,
		constants.JobStatusCompleted, constants.JobStatusFailed,
	} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}

	enabled := s.encoders.Enabled()
	names := make([]string, len(enabled))
	for i, e := range enabled {
		names[i] = e.Name
	}
	return &Stats{Jobs: counts, EnabledEncoders: names}, nil
}

// Jobs lists jobs oldest first
func (s *Service) Jobs(ctx context.Context, status string, limit int) ([]*models.EncodingJob, error) {
	return s.jobs.ListJobs(ctx, store.JobQuery{Status: status, Limit: clampLimit(limit)})
}

// RetryJob puts a failed job back in the queue with a fresh attempt budget
// and moves its video from failed back to processing. Jobs of deleted
// videos are not retried.
func (s *Service) RetryJob(ctx context.Context, owner, permlink string) error {
	log := s.log.WithContext(ctx).With("job", owner+"/"+permlink)

	video, err := s.lifecycle.Get(ctx, permlink)
	switch {
	case err == nil && video.Status == constants.VideoStatusDeleted:
		return fmt.Errorf("%w: %s", lifecycle.ErrVideoDeleted, permlink)
	case err != nil && !errors.Is(err, lifecycle.ErrNotFound):
		return err
	}

	err = s.jobs.UpdateJob(ctx, owner, permlink, store.JobPatch{
		Status:         models.StringPtr(constants.JobStatusPending),
		AttemptCount:   models.IntPtr(0),
		ClearLastError: true,
		IfStatus:       []string{constants.JobStatusFailed},
		UpdatedAt:      s.now(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s/%s", ErrJobNotFound, owner, permlink)
	case errors.Is(err, store.ErrStatusMismatch):
		return fmt.Errorf("%w: %s/%s", ErrJobNotFailed, owner, permlink)
	case err != nil:
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	if err := s.lifecycle.Reprocess(ctx, permlink); err != nil {
		if !errors.Is(err, lifecycle.ErrInvalidTransition) && !errors.Is(err, lifecycle.ErrNotFound) {
			return err
		}
		log.Warn("Video not reprocessed", "error", err)
	}

	log.Info("Job requeued")
	return nil
}

// StaleVideos lists videos in status whose last update is older than age
func (s *Service) StaleVideos(ctx context.Context, status string, age time.Duration, limit int) ([]*models.Video, error) {
	if status == "" {
		status = constants.VideoStatusProcessing
	}
	return s.videos.ListVideos(ctx, store.VideoQuery{
		Status:        status,
		UpdatedBefore: s.now().Add(-age),
		Limit:         clampLimit(limit),
	})
}

// DeleteVideo soft deletes a published or failed video
func (s *Service) DeleteVideo(ctx context.Context, permlink string) error {
	if err := s.lifecycle.SoftDelete(ctx, permlink); err != nil {
		return err
	}
	s.log.WithContext(ctx).Info("Video deleted", "permlink", permlink)
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultJobListLimit
	}
	if limit > constants.MaxJobListLimit {
		return constants.MaxJobListLimit
	}
	return limit
}
