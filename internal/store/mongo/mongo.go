// Package mongo provides the MongoDB Record Store backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
)

// Collection names
const (
	colVideos  = "videos"
	colJobs    = "encoding_jobs"
	colAPIKeys = "api_keys"
)

var _ store.Store = (*Store)(nil)

// Store keeps records in MongoDB collections
type Store struct {
	client *mongod.Client
	db     *mongod.Database
}

// New connects to uri, selects database name and creates indexes
func New(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(name)}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Migrate creates the unique and query indexes
func (s *Store) Migrate(ctx context.Context) error {
	for col, idx := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", col, err)
		}
	}
	return nil
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colVideos: {
			{
				Keys:    bson.D{{Key: "permlink", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
		},
		colJobs: {
			{
				Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "permlink", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		colAPIKeys: {
			{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongod.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "E11000")
}

// CreateVideo inserts a new video
func (s *Store) CreateVideo(ctx context.Context, v *models.Video) error {
	if _, err := s.db.Collection(colVideos).InsertOne(ctx, v); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("video %s: %w", v.Permlink, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by permlink
func (s *Store) GetVideo(ctx context.Context, permlink string) (*models.Video, error) {
	var v models.Video
	err := s.db.Collection(colVideos).FindOne(ctx, bson.M{"permlink": permlink}).Decode(&v)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("video %s: %w", permlink, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &v, nil
}

// UpdateVideo applies a merge patch with $set
func (s *Store) UpdateVideo(ctx context.Context, permlink string, patch store.VideoPatch) error {
	set := bson.M{"updatedAt": patch.UpdatedAt}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.InputCID != nil {
		set["input_cid"] = *patch.InputCID
	}
	if patch.ManifestCID != nil {
		set["manifest_cid"] = *patch.ManifestCID
	}
	if patch.ThumbnailURL != nil {
		set["thumbnail_url"] = *patch.ThumbnailURL
	}
	if patch.Duration != nil {
		set["duration"] = *patch.Duration
	}
	if patch.Size != nil {
		set["size"] = *patch.Size
	}
	if patch.EncodingProgress != nil {
		set["encodingProgress"] = *patch.EncodingProgress
	}

	key := bson.M{"permlink": permlink}
	return s.updateOne(ctx, colVideos, key, patch.IfStatus, bson.M{"$set": set}, "video "+permlink)
}

// ListVideos returns videos matching q, newest first
func (s *Store) ListVideos(ctx context.Context, q store.VideoQuery) ([]*models.Video, error) {
	filter := bson.M{}
	if q.Owner != "" {
		filter["owner"] = q.Owner
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if !q.UpdatedBefore.IsZero() {
		filter["updatedAt"] = bson.M{"$lt": q.UpdatedBefore}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(colVideos).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	var videos []*models.Video
	if err := cursor.All(ctx, &videos); err != nil {
		return nil, fmt.Errorf("failed to decode videos: %w", err)
	}
	return videos, nil
}

// CreateJob inserts a new encoding job; the compound unique index rejects a
// second job for the same (owner, permlink)
func (s *Store) CreateJob(ctx context.Context, j *models.EncodingJob) error {
	if _, err := s.db.Collection(colJobs).InsertOne(ctx, j); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("job %s: %w", j.Key(), store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves the job for (owner, permlink)
func (s *Store) GetJob(ctx context.Context, owner, permlink string) (*models.EncodingJob, error) {
	var j models.EncodingJob
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"owner": owner, "permlink": permlink}).Decode(&j)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("job %s/%s: %w", owner, permlink, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// UpdateJob applies a merge patch with $set and $inc in one UpdateOne
func (s *Store) UpdateJob(ctx context.Context, owner, permlink string, patch store.JobPatch) error {
	set := bson.M{"updatedAt": patch.UpdatedAt}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.AssignedWorker != nil {
		set["assignedWorker"] = *patch.AssignedWorker
	}
	if patch.EncoderJobID != nil {
		set["encoderJobId"] = *patch.EncoderJobID
	}
	if patch.AssignedAt != nil {
		set["assignedAt"] = *patch.AssignedAt
	}
	if patch.LastError != nil {
		set["lastError"] = *patch.LastError
	} else if patch.ClearLastError {
		set["lastError"] = nil
	}
	if patch.WebhookReceivedAt != nil {
		set["webhookReceivedAt"] = *patch.WebhookReceivedAt
	}

	update := bson.M{}
	if patch.AttemptCount != nil {
		set["attemptCount"] = *patch.AttemptCount + patch.IncAttempts
	} else if patch.IncAttempts != 0 {
		update["$inc"] = bson.M{"attemptCount": patch.IncAttempts}
	}
	update["$set"] = set

	key := bson.M{"owner": owner, "permlink": permlink}
	return s.updateOne(ctx, colJobs, key, patch.IfStatus, update, "job "+owner+"/"+permlink)
}

// ListJobs returns jobs matching q, oldest first
func (s *Store) ListJobs(ctx context.Context, q store.JobQuery) ([]*models.EncodingJob, error) {
	filter := bson.M{}
	if q.Status != "" {
		filter["status"] = q.Status
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var jobs []*models.EncodingJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus groups jobs by status
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := s.db.Collection(colJobs).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode job stats: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CreateAPIKey inserts a new API key
func (s *Store) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	if _, err := s.db.Collection(colAPIKeys).InsertOne(ctx, k); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("api key: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key record
func (s *Store) GetAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	err := s.db.Collection(colAPIKeys).FindOne(ctx, bson.M{"key": key}).Decode(&k)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("api key: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

// TouchAPIKey records the last time a key was used
func (s *Store) TouchAPIKey(ctx context.Context, key string, usedAt time.Time) error {
	res, err := s.db.Collection(colAPIKeys).UpdateOne(ctx,
		bson.M{"key": key}, bson.M{"$set": bson.M{"lastUsed": usedAt}})
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("api key: %w", store.ErrNotFound)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongo: %w", err)
	}
	return nil
}

// updateOne applies update to the document matching key, guarded by the
// allowed statuses. A zero match is resolved into not-found or mismatch.
func (s *Store) updateOne(ctx context.Context, col string, key bson.M, guard []string, update bson.M, what string) error {
	filter := bson.M{}
	for k, v := range key {
		filter[k] = v
	}
	if len(guard) > 0 {
		filter["status"] = bson.M{"$in": guard}
	}

	res, err := s.db.Collection(col).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.db.Collection(col).CountDocuments(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, store.ErrStatusMismatch)
}
