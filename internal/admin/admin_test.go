package admin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkace1998/video-pipeline/internal/config"
	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
	"github.com/darkace1998/video-pipeline/internal/store/sqlite"
)

type fixture struct {
	store     *sqlite.Store
	lifecycle *lifecycle.Lifecycle
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg, err := config.NewRegistry([]models.Encoder{
		{Name: "w1", URL: "http://w1", Enabled: true},
		{Name: "w2", URL: "http://w2", Enabled: false},
	}, "")
	require.NoError(t, err)

	lc := lifecycle.New(s)
	return &fixture{store: s, lifecycle: lc, service: NewService(s, s, lc, reg)}
}

// failedJob seeds a failed video whose job exhausted its attempts
func (f *fixture) failedJob(t *testing.T, owner, permlink string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.lifecycle.BeginUpload(ctx, lifecycle.Upload{Owner: owner, Permlink: permlink})
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.MarkProcessing(ctx, permlink, "Qm"+permlink))
	require.NoError(t, f.lifecycle.MarkFailed(ctx, permlink))
	now := time.Now()
	require.NoError(t, f.store.CreateJob(ctx, &models.EncodingJob{
		Owner: owner, Permlink: permlink, Status: constants.JobStatusFailed,
		AttemptCount: 4, LastError: models.StringPtr(constants.MaxAttemptsExceeded),
		CreatedAt: now, UpdatedAt: now,
	}))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.failedJob(t, "alice", "ab12cd34")

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Jobs[constants.JobStatusFailed])
	assert.Equal(t, 0, stats.Jobs[constants.JobStatusPending])
	assert.Contains(t, stats.Jobs, constants.JobStatusEncoding)
	assert.Equal(t, []string{"w1"}, stats.EnabledEncoders)
}

func TestRetryJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedJob(t, "alice", "ab12cd34")

	require.NoError(t, f.service.RetryJob(ctx, "alice", "ab12cd34"))

	job, err := f.store.GetJob(ctx, "alice", "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Nil(t, job.LastError)

	v, err := f.lifecycle.Get(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.VideoStatusProcessing, v.Status)

	err = f.service.RetryJob(ctx, "alice", "ab12cd34")
	assert.ErrorIs(t, err, ErrJobNotFailed)

	err = f.service.RetryJob(ctx, "alice", "missing0")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetryJobRefusesDeletedVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedJob(t, "alice", "ab12cd34")
	require.NoError(t, f.service.DeleteVideo(ctx, "ab12cd34"))

	err := f.service.RetryJob(ctx, "alice", "ab12cd34")
	assert.ErrorIs(t, err, lifecycle.ErrVideoDeleted)

	job, err := f.store.GetJob(ctx, "alice", "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 4, job.AttemptCount)

	v, err := f.lifecycle.Get(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.VideoStatusDeleted, v.Status)
}

func TestStaleVideos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, f.store.CreateVideo(ctx, &models.Video{
		Owner: "alice", Permlink: "stale000", Status: constants.VideoStatusProcessing,
		CreatedAt: old, UpdatedAt: old,
	}))
	_, err := f.lifecycle.BeginUpload(ctx, lifecycle.Upload{Owner: "alice", Permlink: "fresh000"})
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.MarkProcessing(ctx, "fresh000", "Qm"))

	videos, err := f.service.StaleVideos(ctx, "", time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "stale000", videos[0].Permlink)
}

func TestDeleteVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failedJob(t, "alice", "ab12cd34")
	_, err := f.lifecycle.BeginUpload(ctx, lifecycle.Upload{Owner: "alice", Permlink: "upload00"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteVideo(ctx, "ab12cd34"))
	v, err := f.lifecycle.Get(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.VideoStatusDeleted, v.Status)

	assert.ErrorIs(t, f.service.DeleteVideo(ctx, "upload00"), lifecycle.ErrInvalidTransition)
}

func TestJobsClampsLimit(t *testing.T) {
	f := newFixture(t)
	f.failedJob(t, "alice", "ab12cd34")

	jobs, err := f.service.Jobs(context.Background(), constants.JobStatusFailed, 100000)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, constants.MaxJobListLimit, clampLimit(100000))
	assert.Equal(t, constants.DefaultJobListLimit, clampLimit(0))

	_, err = f.store.GetJob(context.Background(), "nobody", "none0000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
