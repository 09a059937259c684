package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return s
}

func testVideo(permlink string, createdAt time.Time) *models.Video {
	return &models.Video{
		Owner:            "alice",
		Permlink:         permlink,
		FrontendApp:      "web",
		Status:           "uploading",
		Size:             func() *int64 { n := int64(1024); return &n }(),
		OriginalFilename: models.StringPtr("clip.mp4"),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func testJob(permlink string, createdAt time.Time) *models.EncodingJob {
	return &models.EncodingJob{
		Owner:     "alice",
		Permlink:  permlink,
		Status:    "pending",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestStoreCreateAndGetVideo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := testVideo("ab12cd34", time.Now())
	if err := s.CreateVideo(ctx, v); err != nil {
		t.Fatalf("Failed to create video: %v", err)
	}

	got, err := s.GetVideo(ctx, "ab12cd34")
	if err != nil {
		t.Fatalf("Failed to get video: %v", err)
	}
	if got.Owner != "alice" || got.Status != "uploading" {
		t.Errorf("Unexpected video: %+v", got)
	}
	if got.InputCID != nil {
		t.Errorf("Expected nil input_cid, got %v", *got.InputCID)
	}
	if got.Size == nil || *got.Size != 1024 {
		t.Errorf("Expected size 1024, got %v", got.Size)
	}
	if got.OriginalFilename == nil || *got.OriginalFilename != "clip.mp4" {
		t.Errorf("Expected original filename, got %v", got.OriginalFilename)
	}
	if !got.CreatedAt.Equal(v.CreatedAt) {
		t.Errorf("Expected createdAt %v, got %v", v.CreatedAt, got.CreatedAt)
	}

	if err := s.CreateVideo(ctx, v); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	if _, err := s.GetVideo(ctx, "missing1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpdateVideoGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateVideo(ctx, testVideo("ab12cd34", time.Now())); err != nil {
		t.Fatalf("Failed to create video: %v", err)
	}

	err := s.UpdateVideo(ctx, "ab12cd34", store.VideoPatch{
		Status:           models.StringPtr("processing"),
		InputCID:         models.StringPtr("Qm123"),
		EncodingProgress: models.IntPtr(0),
		IfStatus:         []string{"uploading"},
		UpdatedAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to update video: %v", err)
	}

	got, _ := s.GetVideo(ctx, "ab12cd34")
	if got.Status != "processing" || got.InputCID == nil || *got.InputCID != "Qm123" {
		t.Errorf("Unexpected video after update: %+v", got)
	}

	err = s.UpdateVideo(ctx, "ab12cd34", store.VideoPatch{
		Status:    models.StringPtr("processing"),
		IfStatus:  []string{"uploading"},
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, store.ErrStatusMismatch) {
		t.Errorf("Expected ErrStatusMismatch, got %v", err)
	}

	err = s.UpdateVideo(ctx, "missing1", store.VideoPatch{UpdatedAt: time.Now()})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreListVideos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, p := range []string{"aaaaaaa1", "aaaaaaa2", "aaaaaaa3"} {
		v := testVideo(p, base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			v.Owner = "bob"
		}
		if err := s.CreateVideo(ctx, v); err != nil {
			t.Fatalf("Failed to create video: %v", err)
		}
	}

	all, err := s.ListVideos(ctx, store.VideoQuery{})
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(all) != 3 || all[0].Permlink != "aaaaaaa3" || all[2].Permlink != "aaaaaaa1" {
		t.Errorf("Expected newest first, got %v", permlinks(all))
	}

	alice, err := s.ListVideos(ctx, store.VideoQuery{Owner: "alice", Limit: 1})
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(alice) != 1 || alice[0].Permlink != "aaaaaaa2" {
		t.Errorf("Expected [aaaaaaa2], got %v", permlinks(alice))
	}

	stale, err := s.ListVideos(ctx, store.VideoQuery{
		Status:        "uploading",
		UpdatedBefore: base.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("Failed to list stale videos: %v", err)
	}
	if len(stale) != 2 {
		t.Errorf("Expected 2 stale videos, got %v", permlinks(stale))
	}
}

func TestStoreJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	if err := s.CreateJob(ctx, testJob("bbbbbbb2", base.Add(time.Minute))); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := s.CreateJob(ctx, testJob("bbbbbbb1", base)); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := s.CreateJob(ctx, testJob("bbbbbbb1", base)); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	pending, err := s.ListJobs(ctx, store.JobQuery{Status: "pending", Limit: 5})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(pending) != 2 || pending[0].Permlink != "bbbbbbb1" {
		t.Fatalf("Expected oldest job first, got %+v", pending)
	}

	err = s.UpdateJob(ctx, "alice", "bbbbbbb1", store.JobPatch{
		Status:      models.StringPtr("pending"),
		IncAttempts: 1,
		LastError:   models.StringPtr("connection refused"),
		IfStatus:    []string{"pending"},
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}

	now := time.Now()
	err = s.UpdateJob(ctx, "alice", "bbbbbbb1", store.JobPatch{
		Status:         models.StringPtr("encoding"),
		AssignedWorker: models.StringPtr("w1"),
		EncoderJobID:   models.StringPtr("enc-1"),
		AssignedAt:     &now,
		IfStatus:       []string{"pending"},
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}

	job, err := s.GetJob(ctx, "alice", "bbbbbbb1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.Status != "encoding" || job.AttemptCount != 1 {
		t.Errorf("Unexpected job: %+v", job)
	}
	if job.AssignedWorker == nil || *job.AssignedWorker != "w1" {
		t.Errorf("Expected assigned worker w1, got %v", job.AssignedWorker)
	}
	if job.AssignedAt == nil || !job.AssignedAt.Equal(now) {
		t.Errorf("Expected assignedAt %v, got %v", now, job.AssignedAt)
	}
	if job.LastError == nil || *job.LastError != "connection refused" {
		t.Errorf("Expected last error to persist, got %v", job.LastError)
	}

	err = s.UpdateJob(ctx, "alice", "bbbbbbb1", store.JobPatch{
		Status:    models.StringPtr("encoding"),
		IfStatus:  []string{"pending"},
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, store.ErrStatusMismatch) {
		t.Errorf("Expected ErrStatusMismatch, got %v", err)
	}

	if _, err := s.GetJob(ctx, "bob", "bbbbbbb1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if counts["pending"] != 1 || counts["encoding"] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestStoreJobResetAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := testJob("ccccccc1", time.Now())
	job.Status = "failed"
	job.AttemptCount = 4
	job.LastError = models.StringPtr("max attempts exceeded")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	err := s.UpdateJob(ctx, "alice", "ccccccc1", store.JobPatch{
		Status:         models.StringPtr("pending"),
		AttemptCount:   models.IntPtr(0),
		ClearLastError: true,
		IfStatus:       []string{"failed"},
		UpdatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to reset job: %v", err)
	}

	got, _ := s.GetJob(ctx, "alice", "ccccccc1")
	if got.Status != "pending" || got.AttemptCount != 0 || got.LastError != nil {
		t.Errorf("Unexpected job after reset: %+v", got)
	}
}

func TestStoreAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &models.APIKey{Key: "k-1", AppName: "web", Owner: "alice", Active: true, CreatedAt: time.Now()}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	used := time.Now()
	if err := s.TouchAPIKey(ctx, "k-1", used); err != nil {
		t.Fatalf("Failed to touch api key: %v", err)
	}

	got, err := s.GetAPIKey(ctx, "k-1")
	if err != nil {
		t.Fatalf("Failed to get api key: %v", err)
	}
	if !got.Active || got.AppName != "web" {
		t.Errorf("Unexpected api key: %+v", got)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(used) {
		t.Errorf("Expected lastUsed %v, got %v", used, got.LastUsed)
	}

	if err := s.TouchAPIKey(ctx, "missing", used); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func permlinks(videos []*models.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.Permlink
	}
	return out
}
