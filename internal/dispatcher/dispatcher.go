// Package dispatcher polls pending encoding jobs and hands them to encoders
// in round-robin order, applying the dispatch attempt budget.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/encoder"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Dispatch errors
var (
	ErrNoWorkersAvailable = errors.New("no workers available")
	ErrMissingVideo       = errors.New("video missing for job")
	ErrMissingInputCID    = errors.New("video has no input cid")

	errStore = errors.New("store error")
)

// EncoderSource returns the ordered list of currently enabled encoders
type EncoderSource interface {
	Enabled() []models.Encoder
}

// Worker sends a job to an encoder and returns the encoder's job id
type Worker interface {
	Dispatch(ctx context.Context, enc models.Encoder, job encoder.JobRequest) (string, error)
}

// VideoFailer marks a video failed when its job runs out of attempts
type VideoFailer interface {
	MarkFailed(ctx context.Context, permlink string) error
}

// Config holds dispatcher settings
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	GatewayURL    string
	WebhookURL    string
	WebhookSecret string
}

// Dispatcher owns the poll loop and the round-robin cursor
type Dispatcher struct {
	jobs     store.JobStore
	videos   store.VideoStore
	failer   VideoFailer
	encoders EncoderSource
	worker   Worker
	metrics  *metrics.Metrics
	cfg      Config
	log      *logger.ComponentLogger

	cursor atomic.Uint64
	now    func() time.Time
}

// New creates a dispatcher
func New(jobs store.JobStore, videos store.VideoStore, failer VideoFailer,
	encoders EncoderSource, worker Worker, m *metrics.Metrics, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultBatchSize
	}
	return &Dispatcher{
		jobs:     jobs,
		videos:   videos,
		failer:   failer,
		encoders: encoders,
		worker:   worker,
		metrics:  m,
		cfg:      cfg,
		log:      logger.NewComponentLogger("dispatcher"),
		now:      time.Now,
	}
}

// Run polls once immediately and then on every tick until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Dispatcher started", "poll_interval", d.cfg.PollInterval, "batch_size", d.cfg.BatchSize)

	d.pollAndLog(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.pollAndLog(ctx)
		}
	}
}

func (d *Dispatcher) pollAndLog(ctx context.Context) {
	if _, err := d.Poll(ctx); err != nil {
		d.log.Error("Poll failed", "error", err)
	}
}

// Poll dispatches one batch of pending jobs, oldest first, sequentially.
// One job's failure never stops the rest of the batch. Once ctx is done no
// further job is started; a job already started finishes on a detached
// context bounded by the worker timeout.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	jobs, err := d.jobs.ListJobs(ctx, store.JobQuery{
		Status: constants.JobStatusPending,
		Limit:  d.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	dispatched := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			d.log.Info("Shutdown requested, leaving remaining jobs pending", "remaining", len(jobs)-dispatched)
			break
		}
		if err := d.DispatchJob(context.WithoutCancel(ctx), job); err != nil {
			d.log.Warn("Dispatch failed", "job", job.Key(), "attempts", job.AttemptCount, "error", err)
			continue
		}
		dispatched++
	}

	d.updateQueueDepth(ctx)
	return dispatched, nil
}

func (d *Dispatcher) updateQueueDepth(ctx context.Context) {
	counts, err := d.jobs.CountJobsByStatus(ctx)
	if err != nil {
		d.log.Debug("Failed to count jobs", "error", err)
		return
	}
	d.metrics.SetQueueDepth(float64(counts[constants.JobStatusPending]))
}

// NextEncoder picks the next enabled encoder. The modulus is the current
// enabled list, so enabling or disabling encoders shifts the rotation without
// resetting the cursor.
func (d *Dispatcher) NextEncoder() (models.Encoder, error) {
	enabled := d.encoders.Enabled()
	if len(enabled) == 0 {
		return models.Encoder{}, ErrNoWorkersAvailable
	}
	idx := d.cursor.Add(1) - 1
	return enabled[idx%uint64(len(enabled))], nil
}

// DispatchJob makes one dispatch attempt for job. On failure the attempt
// budget is applied and the cause is returned.
func (d *Dispatcher) DispatchJob(ctx context.Context, job *models.EncodingJob) error {
	err := d.attempt(ctx, job)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStatusMismatch) {
		// Job left pending while the attempt was in flight.
		d.log.Warn("Job changed during dispatch", "job", job.Key(), "error", err)
		return nil
	}

	if ferr := d.recordFailure(ctx, job, err); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}

func (d *Dispatcher) attempt(ctx context.Context, job *models.EncodingJob) error {
	video, err := d.videos.GetVideo(ctx, job.Permlink)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMissingVideo, job.Key())
		}
		return fmt.Errorf("%w: failed to load video: %w", errStore, err)
	}
	if video.Status == constants.VideoStatusDeleted {
		return fmt.Errorf("%w: %s", lifecycle.ErrVideoDeleted, job.Key())
	}
	if video.InputCID == nil || *video.InputCID == "" {
		return fmt.Errorf("%w: %s", ErrMissingInputCID, job.Key())
	}

	enc, err := d.NextEncoder()
	if err != nil {
		return err
	}

	req := encoder.JobRequest{
		Owner:            job.Owner,
		Permlink:         job.Permlink,
		InputCID:         d.cfg.GatewayURL + *video.InputCID,
		Short:            video.Short,
		WebhookURL:       d.cfg.WebhookURL,
		APIKey:           d.cfg.WebhookSecret,
		FrontendApp:      video.FrontendApp,
		OriginalFilename: video.OriginalFilename,
	}
	encoderJobID, err := d.worker.Dispatch(ctx, enc, req)
	if err != nil {
		return err
	}

	now := d.now()
	err = d.jobs.UpdateJob(ctx, job.Owner, job.Permlink, store.JobPatch{
		Status:         models.StringPtr(constants.JobStatusEncoding),
		AssignedWorker: models.StringPtr(enc.Name),
		EncoderJobID:   models.StringPtr(encoderJobID),
		AssignedAt:     &now,
		IfStatus:       []string{constants.JobStatusPending},
		UpdatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to record assignment to %s: %w", errStore, enc.Name, err)
	}

	d.metrics.RecordDispatchSuccess(enc.Name)
	d.log.Info("Job dispatched", "job", job.Key(), "encoder", enc.Name, "encoder_job_id", encoderJobID)
	return nil
}

// recordFailure returns the job to pending with the error, or fails it when
// the attempt count read before this attempt had already reached the budget
func (d *Dispatcher) recordFailure(ctx context.Context, job *models.EncodingJob, cause error) error {
	exhausted := job.AttemptCount >= constants.MaxDispatchAttempts

	patch := store.JobPatch{
		Status:      models.StringPtr(constants.JobStatusPending),
		IncAttempts: 1,
		LastError:   models.StringPtr(cause.Error()),
		IfStatus:    []string{constants.JobStatusPending},
		UpdatedAt:   d.now(),
	}
	if exhausted {
		patch.Status = models.StringPtr(constants.JobStatusFailed)
		patch.LastError = models.StringPtr(constants.MaxAttemptsExceeded)
	}

	d.metrics.RecordDispatchFailure(failureReason(cause), exhausted)

	if err := d.jobs.UpdateJob(ctx, job.Owner, job.Permlink, patch); err != nil {
		if errors.Is(err, store.ErrStatusMismatch) {
			d.log.Warn("Job left pending before failure was recorded", "job", job.Key())
			return nil
		}
		return fmt.Errorf("failed to record dispatch failure: %w", err)
	}

	if !exhausted {
		return nil
	}

	d.log.Error("Job failed after max attempts", "job", job.Key(), "attempts", job.AttemptCount+1, "last_cause", cause)
	if err := d.failer.MarkFailed(ctx, job.Permlink); err != nil {
		if errors.Is(err, lifecycle.ErrVideoDeleted) {
			d.log.Warn("Video deleted, left as is", "job", job.Key())
			return nil
		}
		return fmt.Errorf("failed to mark video failed: %w", err)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoWorkersAvailable):
		return "no_workers"
	case errors.Is(err, ErrMissingVideo):
		return "missing_video"
	case errors.Is(err, ErrMissingInputCID):
		return "missing_input_cid"
	case errors.Is(err, lifecycle.ErrVideoDeleted):
		return "video_deleted"
	case errors.Is(err, encoder.ErrWorkerRejected):
		return "rejected"
	case errors.Is(err, encoder.ErrWorkerTimeout):
		return "timeout"
	case errors.Is(err, encoder.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, errStore):
		return "store"
	default:
		return "network"
	}
}
