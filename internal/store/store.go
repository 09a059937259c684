// Package store defines the Record Store contract shared by the sqlite,
// mongo and pebble backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/darkace1998/video-pipeline/internal/models"
)

// Store errors
var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
	ErrStatusMismatch = errors.New("record status does not match guard")
)

// VideoPatch is a merge patch for a Video. Nil fields are left untouched.
// When IfStatus is non-empty the update only applies while the stored
// status is one of the listed values, otherwise ErrStatusMismatch.
type VideoPatch struct {
	Status           *string
	InputCID         *string
	ManifestCID      *string
	ThumbnailURL     *string
	Duration         *float64
	Size             *int64
	EncodingProgress *int
	IfStatus         []string
	UpdatedAt        time.Time
}

// JobPatch is a merge patch for an EncodingJob. IncAttempts is added to the
// stored attempt count in the same write; AttemptCount overwrites it.
type JobPatch struct {
	Status            *string
	AssignedWorker    *string
	EncoderJobID      *string
	AssignedAt        *time.Time
	AttemptCount      *int
	IncAttempts       int
	LastError         *string
	ClearLastError    bool
	WebhookReceivedAt *time.Time
	IfStatus          []string
	UpdatedAt         time.Time
}

// VideoQuery filters videos. Results are newest first.
type VideoQuery struct {
	Owner         string
	Status        string
	UpdatedBefore time.Time
	Limit         int
}

// JobQuery filters encoding jobs. Results are oldest first.
type JobQuery struct {
	Status string
	Limit  int
}

// VideoStore is typed access to Video records
type VideoStore interface {
	CreateVideo(ctx context.Context, v *models.Video) error
	GetVideo(ctx context.Context, permlink string) (*models.Video, error)
	UpdateVideo(ctx context.Context, permlink string, patch VideoPatch) error
	ListVideos(ctx context.Context, q VideoQuery) ([]*models.Video, error)
}

// JobStore is typed access to EncodingJob records
type JobStore interface {
	CreateJob(ctx context.Context, j *models.EncodingJob) error
	GetJob(ctx context.Context, owner, permlink string) (*models.EncodingJob, error)
	UpdateJob(ctx context.Context, owner, permlink string, patch JobPatch) error
	ListJobs(ctx context.Context, q JobQuery) ([]*models.EncodingJob, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
}

// APIKeyStore is typed access to APIKey records
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	GetAPIKey(ctx context.Context, key string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, key string, usedAt time.Time) error
}

// Store is the full Record Store
type Store interface {
	VideoStore
	JobStore
	APIKeyStore
	Ping(ctx context.Context) error
	Close() error
}

// StatusAllowed reports whether status passes the guard list
func StatusAllowed(guard []string, status string) bool {
	if len(guard) == 0 {
		return true
	}
	for _, s := range guard {
		if s == status {
			return true
		}
	}
	return false
}

// ApplyVideoPatch merges patch into v in place
func ApplyVideoPatch(v *models.Video, patch VideoPatch) {
	if patch.Status != nil {
		v.Status = *patch.Status
	}
	if patch.InputCID != nil {
		v.InputCID = patch.InputCID
	}
	if patch.ManifestCID != nil {
		v.ManifestCID = patch.ManifestCID
	}
	if patch.ThumbnailURL != nil {
		v.ThumbnailURL = patch.ThumbnailURL
	}
	if patch.Duration != nil {
		v.Duration = patch.Duration
	}
	if patch.Size != nil {
		v.Size = patch.Size
	}
	if patch.EncodingProgress != nil {
		v.EncodingProgress = *patch.EncodingProgress
	}
	v.UpdatedAt = patch.UpdatedAt
}

// ApplyJobPatch merges patch into j in place
func ApplyJobPatch(j *models.EncodingJob, patch JobPatch) {
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.AssignedWorker != nil {
		j.AssignedWorker = patch.AssignedWorker
	}
	if patch.EncoderJobID != nil {
		j.EncoderJobID = patch.EncoderJobID
	}
	if patch.AssignedAt != nil {
		j.AssignedAt = patch.AssignedAt
	}
	if patch.AttemptCount != nil {
		j.AttemptCount = *patch.AttemptCount
	}
	j.AttemptCount += patch.IncAttempts
	if patch.ClearLastError {
		j.LastError = nil
	}
	if patch.LastError != nil {
		j.LastError = patch.LastError
	}
	if patch.WebhookReceivedAt != nil {
		j.WebhookReceivedAt = patch.WebhookReceivedAt
	}
	j.UpdatedAt = patch.UpdatedAt
}
