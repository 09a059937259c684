package webhook

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/metrics"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
	"github.com/darkace1998/video-pipeline/internal/store/sqlite"
)

type fixture struct {
	store   *sqlite.Store
	life    *lifecycle.Lifecycle
	metrics *metrics.Metrics
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{store: s, life: lifecycle.New(s), metrics: metrics.NewWithRegistry(prometheus.NewRegistry())}
	f.handler = NewHandler(s, f.life, "hook-secret", f.metrics)
	return f
}

// seedEncoding creates a processing video and an encoding job
func (f *fixture) seedEncoding(t *testing.T, owner, permlink string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.life.BeginUpload(ctx, lifecycle.Upload{Owner: owner, Permlink: permlink})
	require.NoError(t, err)
	require.NoError(t, f.life.MarkProcessing(ctx, permlink, "Qm123"))
	now := time.Now()
	require.NoError(t, f.store.CreateJob(ctx, &models.EncodingJob{
		Owner: owner, Permlink: permlink, Status: constants.JobStatusPending, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.UpdateJob(ctx, owner, permlink, store.JobPatch{
		Status:         models.StringPtr(constants.JobStatusEncoding),
		AssignedWorker: models.StringPtr("w1"),
		UpdatedAt:      now,
	}))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.handler.Authenticate("hook-secret"))
	assert.ErrorIs(t, f.handler.Authenticate("wrong"), ErrAuthFailed)
	assert.ErrorIs(t, f.handler.Authenticate(""), ErrAuthFailed)
	assert.ErrorIs(t, f.handler.Authenticate("hook-secret "), ErrAuthFailed)

	empty := NewHandler(f.store, f.life, "", f.metrics)
	assert.ErrorIs(t, empty.Authenticate(""), ErrAuthFailed)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.Webhooks.WithLabelValues("unauthorized")))
}

func TestApplyComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")

	outcome, err := f.handler.Apply(ctx, Report{
		Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456",
		ProcessingTimeSeconds: 42, QualitiesEncoded: []string{"1080p", "720p"}, EncoderID: "w1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	video, err := f.store.GetVideo(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.VideoStatusPublished, video.Status)
	assert.Equal(t, 100, video.EncodingProgress)
	assert.Equal(t, "Qm456", *video.ManifestCID)

	job, err := f.store.GetJob(ctx, "alice", "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.WebhookReceivedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Webhooks.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues("completed")))
}

func TestApplyFailedUsesDefaultError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")
	f.seedEncoding(t, "bob", "zz99yy88")

	outcome, err := f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	job, _ := f.store.GetJob(ctx, "alice", "ab12cd34")
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, constants.DefaultWebhookError, *job.LastError)

	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusFailed, video.Status)
	assert.Equal(t, 0, video.EncodingProgress)

	_, err = f.handler.Apply(ctx, Report{Owner: "bob", Permlink: "zz99yy88", Status: "failed", Error: "ffmpeg exited 1"})
	require.NoError(t, err)
	job, _ = f.store.GetJob(ctx, "bob", "zz99yy88")
	assert.Equal(t, "ffmpeg exited 1", *job.LastError)
}

func TestApplyRejectsInvalidReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")

	_, err := f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "done"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete"})
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = f.handler.Apply(ctx, Report{Permlink: "ab12cd34", Status: "failed"})
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "missing1", Status: "failed"})
	assert.ErrorIs(t, err, ErrJobNotFound)

	job, _ := f.store.GetJob(ctx, "alice", "ab12cd34")
	assert.Equal(t, constants.JobStatusEncoding, job.Status)
	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusProcessing, video.Status)
}

func TestApplyReplayAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")

	complete := Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"}
	_, err := f.handler.Apply(ctx, complete)
	require.NoError(t, err)

	outcome, err := f.handler.Apply(ctx, complete)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	outcome, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "failed", Error: "late"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	job, _ := f.store.GetJob(ctx, "alice", "ab12cd34")
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.Nil(t, job.LastError)
	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusPublished, video.Status)
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")

	outcome, err := f.handler.Progress(ctx, ProgressReport{Owner: "alice", Permlink: "ab12cd34", Progress: 55})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProgress, outcome)
	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, 55, video.EncodingProgress)

	_, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"})
	require.NoError(t, err)

	outcome, err = f.handler.Progress(ctx, ProgressReport{Owner: "alice", Permlink: "ab12cd34", Progress: 10})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	video, _ = f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, 100, video.EncodingProgress)

	_, err = f.handler.Progress(ctx, ProgressReport{Owner: "bob", Permlink: "ab12cd34", Progress: 10})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// staleJobs serves a fixed job snapshot so a report can lose the race to a
// concurrent one
type staleJobs struct {
	*sqlite.Store
	snapshot *models.EncodingJob
}

func (s *staleJobs) GetJob(_ context.Context, _, _ string) (*models.EncodingJob, error) {
	j := *s.snapshot
	return &j, nil
}

func TestApplyLoserLeavesVideoAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")

	snapshot, err := f.store.GetJob(ctx, "alice", "ab12cd34")
	require.NoError(t, err)

	_, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"})
	require.NoError(t, err)

	late := NewHandler(&staleJobs{Store: f.store, snapshot: snapshot}, f.life, "hook-secret", f.metrics)
	outcome, err := late.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "failed", Error: "late"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	job, _ := f.store.GetJob(ctx, "alice", "ab12cd34")
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusPublished, video.Status)
	assert.Equal(t, "Qm456", *video.ManifestCID)
}

func TestApplyLeavesDeletedVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")
	require.NoError(t, f.store.UpdateVideo(ctx, "ab12cd34", store.VideoPatch{
		Status:    models.StringPtr(constants.VideoStatusDeleted),
		UpdatedAt: time.Now(),
	}))

	outcome, err := f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	job, _ := f.store.GetJob(ctx, "alice", "ab12cd34")
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusDeleted, video.Status)
	assert.Nil(t, video.ManifestCID)

	outcome, err = f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	video, _ = f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusDeleted, video.Status)
}

func TestDuplicateReportRepairsLaggingVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEncoding(t, "alice", "ab12cd34")
	require.NoError(t, f.store.UpdateJob(ctx, "alice", "ab12cd34", store.JobPatch{
		Status:    models.StringPtr(constants.JobStatusCompleted),
		UpdatedAt: time.Now(),
	}))

	outcome, err := f.handler.Apply(ctx, Report{Owner: "alice", Permlink: "ab12cd34", Status: "complete", ManifestCID: "Qm456"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	video, _ := f.store.GetVideo(ctx, "ab12cd34")
	assert.Equal(t, constants.VideoStatusPublished, video.Status)
	assert.Equal(t, "Qm456", *video.ManifestCID)
	assert.Equal(t, 100, video.EncodingProgress)
}
