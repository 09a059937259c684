// Package lifecycle owns the Video state transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Lifecycle errors
var (
	ErrNotFound          = errors.New("video not found")
	ErrDuplicateVideo    = errors.New("duplicate video")
	ErrInvalidTransition = errors.New("invalid video transition")
	ErrVideoDeleted      = errors.New("video is deleted")
)

// Upload describes a video at upload start
type Upload struct {
	Owner            string
	Permlink         string
	FrontendApp      string
	Short            bool
	Size             *int64
	OriginalFilename *string
}

// liveStatuses is every status except deleted. Deleted videos accept no
// further transitions.
var liveStatuses = []string{
	constants.VideoStatusUploading,
	constants.VideoStatusProcessing,
	constants.VideoStatusPublished,
	constants.VideoStatusFailed,
}

// Lifecycle applies Video transitions against the record store. Writes are
// last-write-wins except where a transition is guarded on the current status.
type Lifecycle struct {
	videos store.VideoStore
	now    func() time.Time
}

// New creates a Lifecycle on top of the video store
func New(videos store.VideoStore) *Lifecycle {
	return &Lifecycle{videos: videos, now: time.Now}
}

// BeginUpload creates a video in the uploading state
func (l *Lifecycle) BeginUpload(ctx context.Context, u Upload) (*models.Video, error) {
	now := l.now()
	v := &models.Video{
		Owner:            u.Owner,
		Permlink:         u.Permlink,
		FrontendApp:      u.FrontendApp,
		Status:           constants.VideoStatusUploading,
		Short:            u.Short,
		Size:             u.Size,
		OriginalFilename: u.OriginalFilename,
		EncodingProgress: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := l.videos.CreateVideo(ctx, v); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVideo, u.Permlink)
		}
		return nil, fmt.Errorf("failed to create video: %w", err)
	}

	slog.Debug("Video upload started", "owner", u.Owner, "permlink", u.Permlink)
	return v, nil
}

// MarkProcessing moves an uploading video to processing with its input CID
func (l *Lifecycle) MarkProcessing(ctx context.Context, permlink, inputCID string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Status:           models.StringPtr(constants.VideoStatusProcessing),
		InputCID:         models.StringPtr(inputCID),
		EncodingProgress: models.IntPtr(0),
		IfStatus:         []string{constants.VideoStatusUploading},
		UpdatedAt:        l.now(),
	})
	return l.wrap(err, permlink, constants.VideoStatusProcessing)
}

// MarkPublished moves a video to published with the encoded manifest CID
func (l *Lifecycle) MarkPublished(ctx context.Context, permlink, manifestCID string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Status:           models.StringPtr(constants.VideoStatusPublished),
		ManifestCID:      models.StringPtr(manifestCID),
		EncodingProgress: models.IntPtr(constants.MaxEncodingProgress),
		IfStatus:         liveStatuses,
		UpdatedAt:        l.now(),
	})
	return l.wrapLive(err, permlink, constants.VideoStatusPublished)
}

// MarkFailed moves a video to failed. Calling it again only refreshes
// updatedAt.
func (l *Lifecycle) MarkFailed(ctx context.Context, permlink string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Status:           models.StringPtr(constants.VideoStatusFailed),
		EncodingProgress: models.IntPtr(0),
		IfStatus:         liveStatuses,
		UpdatedAt:        l.now(),
	})
	return l.wrapLive(err, permlink, constants.VideoStatusFailed)
}

// SetThumbnail records a thumbnail URL in any status except deleted
func (l *Lifecycle) SetThumbnail(ctx context.Context, permlink, url string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		ThumbnailURL: models.StringPtr(url),
		IfStatus:     liveStatuses,
		UpdatedAt:    l.now(),
	})
	return l.wrapLive(err, permlink, "thumbnail")
}

// SetProgress records encoding progress, clamped to 0..100, while the video
// is processing. Returns ErrInvalidTransition otherwise.
func (l *Lifecycle) SetProgress(ctx context.Context, permlink string, progress int) error {
	progress = max(0, min(progress, constants.MaxEncodingProgress))
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		EncodingProgress: models.IntPtr(progress),
		IfStatus:         []string{constants.VideoStatusProcessing},
		UpdatedAt:        l.now(),
	})
	return l.wrap(err, permlink, "progress")
}

// RecordSize stores the uploaded size in bytes
func (l *Lifecycle) RecordSize(ctx context.Context, permlink string, size int64) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Size:      &size,
		UpdatedAt: l.now(),
	})
	return l.wrap(err, permlink, "size")
}

// Reprocess moves a failed video back to processing for a manual retry
func (l *Lifecycle) Reprocess(ctx context.Context, permlink string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Status:           models.StringPtr(constants.VideoStatusProcessing),
		EncodingProgress: models.IntPtr(0),
		IfStatus:         []string{constants.VideoStatusFailed},
		UpdatedAt:        l.now(),
	})
	return l.wrap(err, permlink, constants.VideoStatusProcessing)
}

// SoftDelete marks a published or failed video as deleted
func (l *Lifecycle) SoftDelete(ctx context.Context, permlink string) error {
	err := l.videos.UpdateVideo(ctx, permlink, store.VideoPatch{
		Status:    models.StringPtr(constants.VideoStatusDeleted),
		IfStatus:  []string{constants.VideoStatusPublished, constants.VideoStatusFailed},
		UpdatedAt: l.now(),
	})
	return l.wrap(err, permlink, constants.VideoStatusDeleted)
}

// Get loads a video
func (l *Lifecycle) Get(ctx context.Context, permlink string) (*models.Video, error) {
	v, err := l.videos.GetVideo(ctx, permlink)
	if err != nil {
		return nil, l.wrap(err, permlink, "")
	}
	return v, nil
}

// wrapLive maps a mismatch against liveStatuses to ErrVideoDeleted
func (l *Lifecycle) wrapLive(err error, permlink, target string) error {
	if errors.Is(err, store.ErrStatusMismatch) {
		return fmt.Errorf("%w: %s", ErrVideoDeleted, permlink)
	}
	return l.wrap(err, permlink, target)
}

func (l *Lifecycle) wrap(err error, permlink, target string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, permlink)
	case errors.Is(err, store.ErrStatusMismatch):
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, permlink, target)
	default:
		return fmt.Errorf("failed to update video %s: %w", permlink, err)
	}
}
