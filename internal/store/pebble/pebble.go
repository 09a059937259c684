// Package pebble provides an embedded Record Store backend that keeps each
// record as a JSON document in a Pebble key/value store.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Key prefixes
const (
	prefixVideo  = "video/"
	prefixJob    = "job/"
	prefixAPIKey = "apikey/"
)

var _ store.Store = (*Store)(nil)

// Store is a pebble-backed record store. Read-modify-write sequences are
// serialised by mu so guarded updates stay atomic.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// New opens (or creates) the pebble database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Store{db: db}, nil
}

func videoKey(permlink string) []byte {
	return []byte(prefixVideo + permlink)
}

// jobKey length-prefixes the owner so no owner/permlink split of the same
// bytes can collide
func jobKey(owner, permlink string) []byte {
	return []byte(prefixJob + strconv.Itoa(len(owner)) + ":" + owner + "/" + permlink)
}

func apiKeyKey(key string) []byte {
	return []byte(prefixAPIKey + key)
}

// get decodes the document at key into out. Returns store.ErrNotFound when
// the key is absent.
func (s *Store) get(key []byte, out any) error {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) put(key []byte, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// insert writes doc only if key is absent
func (s *Store) insert(key []byte, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(key)
	if err == nil {
		_ = closer.Close()
		return store.ErrDuplicate
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return s.put(key, doc)
}

// scan decodes every document under prefix with decode
func (s *Store) scan(prefix string, decode func([]byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := decode(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// CreateVideo inserts a new video
func (s *Store) CreateVideo(_ context.Context, v *models.Video) error {
	if err := s.insert(videoKey(v.Permlink), v); err != nil {
		return fmt.Errorf("video %s: %w", v.Permlink, err)
	}
	return nil
}

// GetVideo retrieves a video by permlink
func (s *Store) GetVideo(_ context.Context, permlink string) (*models.Video, error) {
	var v models.Video
	if err := s.get(videoKey(permlink), &v); err != nil {
		return nil, fmt.Errorf("video %s: %w", permlink, err)
	}
	return &v, nil
}

// UpdateVideo applies a merge patch under the store lock
func (s *Store) UpdateVideo(_ context.Context, permlink string, patch store.VideoPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v models.Video
	if err := s.get(videoKey(permlink), &v); err != nil {
		return fmt.Errorf("video %s: %w", permlink, err)
	}
	if !store.StatusAllowed(patch.IfStatus, v.Status) {
		return fmt.Errorf("video %s: %w", permlink, store.ErrStatusMismatch)
	}
	store.ApplyVideoPatch(&v, patch)
	return s.put(videoKey(permlink), &v)
}

// ListVideos returns videos matching q, newest first
func (s *Store) ListVideos(_ context.Context, q store.VideoQuery) ([]*models.Video, error) {
	var videos []*models.Video
	err := s.scan(prefixVideo, func(data []byte) error {
		var v models.Video
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to unmarshal video: %w", err)
		}
		if q.Owner != "" && v.Owner != q.Owner {
			return nil
		}
		if q.Status != "" && v.Status != q.Status {
			return nil
		}
		if !q.UpdatedBefore.IsZero() && !v.UpdatedAt.Before(q.UpdatedBefore) {
			return nil
		}
		videos = append(videos, &v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	if q.Limit > 0 && len(videos) > q.Limit {
		videos = videos[:q.Limit]
	}
	return videos, nil
}

// CreateJob inserts a new encoding job
func (s *Store) CreateJob(_ context.Context, j *models.EncodingJob) error {
	if err := s.insert(jobKey(j.Owner, j.Permlink), j); err != nil {
		return fmt.Errorf("job %s: %w", j.Key(), err)
	}
	return nil
}

// GetJob retrieves the job for (owner, permlink)
func (s *Store) GetJob(_ context.Context, owner, permlink string) (*models.EncodingJob, error) {
	var j models.EncodingJob
	if err := s.get(jobKey(owner, permlink), &j); err != nil {
		return nil, fmt.Errorf("job %s/%s: %w", owner, permlink, err)
	}
	return &j, nil
}

// UpdateJob applies a merge patch under the store lock
func (s *Store) UpdateJob(_ context.Context, owner, permlink string, patch store.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey(owner, permlink)
	var j models.EncodingJob
	if err := s.get(key, &j); err != nil {
		return fmt.Errorf("job %s/%s: %w", owner, permlink, err)
	}
	if !store.StatusAllowed(patch.IfStatus, j.Status) {
		return fmt.Errorf("job %s/%s: %w", owner, permlink, store.ErrStatusMismatch)
	}
	store.ApplyJobPatch(&j, patch)
	return s.put(key, &j)
}

// ListJobs returns jobs matching q, oldest first
func (s *Store) ListJobs(_ context.Context, q store.JobQuery) ([]*models.EncodingJob, error) {
	var jobs []*models.EncodingJob
	err := s.scan(prefixJob, func(data []byte) error {
		var j models.EncodingJob
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		if q.Status == "" || j.Status == q.Status {
			jobs = append(jobs, &j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	return jobs, nil
}

// CountJobsByStatus returns the number of jobs per status
func (s *Store) CountJobsByStatus(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.scan(prefixJob, func(data []byte) error {
		var j struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		counts[j.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CreateAPIKey inserts a new API key
func (s *Store) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	if err := s.insert(apiKeyKey(k.Key), k); err != nil {
		return fmt.Errorf("api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key record
func (s *Store) GetAPIKey(_ context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	if err := s.get(apiKeyKey(key), &k); err != nil {
		return nil, fmt.Errorf("api key: %w", err)
	}
	return &k, nil
}

// TouchAPIKey records the last time a key was used
func (s *Store) TouchAPIKey(_ context.Context, key string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var k models.APIKey
	if err := s.get(apiKeyKey(key), &k); err != nil {
		return fmt.Errorf("api key: %w", err)
	}
	k.LastUsed = &usedAt
	return s.put(apiKeyKey(key), &k)
}

// Ping reports whether the store is open
func (s *Store) Ping(_ context.Context) error {
	_, closer, err := s.db.Get([]byte(prefixVideo))
	if err == nil {
		_ = closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("failed to ping pebble store: %w", err)
}

// Close closes the pebble database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble store: %w", err)
	}
	return nil
}
