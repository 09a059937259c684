// Package ingest starts uploads and turns finished uploads into pending
// encoding jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/pinning"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Ingest errors
var (
	ErrDuplicateJob       = errors.New("encoding job already exists")
	ErrOwnerMismatch      = errors.New("video belongs to another owner")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrFailureNotRecorded = errors.New("pin failure not recorded on video")
)

// StartRequest describes an upload about to begin
type StartRequest struct {
	Owner            string
	FrontendApp      string
	Short            bool
	Size             *int64
	OriginalFilename *string
}

// Completion is the upload-finished event
type Completion struct {
	Owner         string `json:"owner"`
	Permlink      string `json:"permlink"`
	LocalFilePath string `json:"local_file_path"`
	Size          int64  `json:"size"`
}

// Service runs upload start and completion
type Service struct {
	videos      *lifecycle.Lifecycle
	jobs        store.JobStore
	pinner      pinning.Pinner
	metrics     *metrics.Metrics
	log         *logger.ComponentLogger
	uploadDir   string
	newPermlink func() (string, error)
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithUploadDir confines completed upload paths to dir
func WithUploadDir(dir string) Option {
	return func(s *Service) {
		s.uploadDir = dir
	}
}

// NewService creates an ingest service
func NewService(videos *lifecycle.Lifecycle, jobs store.JobStore, pinner pinning.Pinner, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		videos:      videos,
		jobs:        jobs,
		pinner:      pinner,
		metrics:     m,
		log:         logger.NewComponentLogger("ingest"),
		newPermlink: NewPermlink,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartUpload creates the video record under a fresh permlink, drawing a new
// one when the generated permlink is already taken
func (s *Service) StartUpload(ctx context.Context, req StartRequest) (*models.Video, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidUpload)
	}

	for i := 0; i < constants.MaxPermlinkRetries; i++ {
		permlink, err := s.newPermlink()
		if err != nil {
			return nil, err
		}

		video, err := s.videos.BeginUpload(ctx, lifecycle.Upload{
			Owner:            req.Owner,
			Permlink:         permlink,
			FrontendApp:      req.FrontendApp,
			Short:            req.Short,
			Size:             req.Size,
			OriginalFilename: req.OriginalFilename,
		})
		if errors.Is(err, lifecycle.ErrDuplicateVideo) {
			s.log.WithContext(ctx).Warn("Permlink collision, regenerating", "permlink", permlink, "attempt", i+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.WithContext(ctx).Info("Upload started", "owner", req.Owner, "permlink", permlink)
		return video, nil
	}
	return nil, fmt.Errorf("%w: no free permlink after %d attempts", lifecycle.ErrDuplicateVideo, constants.MaxPermlinkRetries)
}

// CompleteUpload pins the uploaded file, moves the video to processing and
// creates its pending encoding job. A pin failure marks the video failed.
// A redelivered event for a video that is already processing skips the pin
// and only creates the missing job.
func (s *Service) CompleteUpload(ctx context.Context, c Completion) (*models.EncodingJob, error) {
	log := s.log.WithContext(ctx).With("job", c.Owner+"/"+c.Permlink)

	if c.Owner == "" || c.Permlink == "" {
		return nil, fmt.Errorf("%w: owner and permlink are required", ErrInvalidUpload)
	}

	video, err := s.videos.Get(ctx, c.Permlink)
	if err != nil {
		return nil, err
	}
	if video.Owner != c.Owner {
		return nil, fmt.Errorf("%w: %s", ErrOwnerMismatch, c.Permlink)
	}

	switch {
	case video.Status == constants.VideoStatusUploading:
		if c.LocalFilePath == "" {
			return nil, fmt.Errorf("%w: local_file_path is required", ErrInvalidUpload)
		}
		if s.uploadDir != "" {
			p, err := confine(s.uploadDir, c.LocalFilePath)
			if err != nil {
				return nil, err
			}
			c.LocalFilePath = p
		}
		if err := s.pinAndProcess(ctx, c); err != nil {
			return nil, err
		}
	case video.Status == constants.VideoStatusProcessing && video.InputCID != nil:
		log.Info("Video already pinned, ensuring job exists")
	default:
		return nil, fmt.Errorf("%w: %s is %s", lifecycle.ErrInvalidTransition, c.Permlink, video.Status)
	}

	now := s.now()
	job := &models.EncodingJob{
		Owner:        c.Owner,
		Permlink:     c.Permlink,
		Status:       constants.JobStatusPending,
		AttemptCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.Key())
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.RecordJobCreated()
	log.Info("Encoding job created")
	return job, nil
}

func (s *Service) pinAndProcess(ctx context.Context, c Completion) error {
	log := s.log.WithContext(ctx).With("job", c.Owner+"/"+c.Permlink)

	if c.Size > 0 {
		if err := s.videos.RecordSize(ctx, c.Permlink, c.Size); err != nil {
			return err
		}
	}

	cid, err := s.pinner.Pin(ctx, c.LocalFilePath)
	if err != nil {
		log.Error("Pin failed, marking video failed", "path", c.LocalFilePath, "error", err)
		if ferr := s.videos.MarkFailed(ctx, c.Permlink); ferr != nil {
			return fmt.Errorf("%w: %w", ErrFailureNotRecorded, errors.Join(err, ferr))
		}
		return err
	}

	if err := s.videos.MarkProcessing(ctx, c.Permlink, cid); err != nil {
		return err
	}
	log.Info("Upload pinned", "cid", cid)
	return nil
}
