// Package sqlite provides the SQLite Record Store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/store"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Store keeps videos, encoding jobs and API keys in a SQLite database
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens the database at dbPath and creates the schema if needed
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps guarded updates atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		permlink TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		frontend_app TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		input_cid TEXT,
		manifest_cid TEXT,
		thumbnail_url TEXT,
		short BOOLEAN NOT NULL DEFAULT 0,
		duration REAL,
		size INTEGER,
		encoding_progress INTEGER NOT NULL DEFAULT 0,
		original_filename TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS encoding_jobs (
		owner TEXT NOT NULL,
		permlink TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_worker TEXT,
		encoder_job_id TEXT,
		assigned_at TIMESTAMP,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		webhook_received_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (owner, permlink)
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		key TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		owner TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		last_used TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner);
	CREATE INDEX IF NOT EXISTS idx_videos_status_updated ON videos(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON encoding_jobs(status, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// CreateVideo inserts a new video, returning store.ErrDuplicate when the
// permlink is taken
func (s *Store) CreateVideo(ctx context.Context, v *models.Video) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (
			permlink, owner, frontend_app, status, input_cid, manifest_cid,
			thumbnail_url, short, duration, size, encoding_progress,
			original_filename, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.Permlink, v.Owner, v.FrontendApp, v.Status, v.InputCID, v.ManifestCID,
		v.ThumbnailURL, v.Short, v.Duration, v.Size, v.EncodingProgress,
		v.OriginalFilename, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("video %s: %w", v.Permlink, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

const videoColumns = `permlink, owner, frontend_app, status, input_cid, manifest_cid,
	thumbnail_url, short, duration, size, encoding_progress, original_filename,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var v models.Video
	var inputCID, manifestCID, thumbnail, filename sql.NullString
	var duration sql.NullFloat64
	var size sql.NullInt64

	if err := row.Scan(&v.Permlink, &v.Owner, &v.FrontendApp, &v.Status,
		&inputCID, &manifestCID, &thumbnail, &v.Short, &duration, &size,
		&v.EncodingProgress, &filename, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}

	v.InputCID = nullString(inputCID)
	v.ManifestCID = nullString(manifestCID)
	v.ThumbnailURL = nullString(thumbnail)
	v.OriginalFilename = nullString(filename)
	if duration.Valid {
		v.Duration = &duration.Float64
	}
	if size.Valid {
		v.Size = &size.Int64
	}
	return &v, nil
}

// GetVideo retrieves a video by permlink
func (s *Store) GetVideo(ctx context.Context, permlink string) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE permlink = ?`, permlink)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("video %s: %w", permlink, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan video row: %w", err)
	}
	return v, nil
}

// UpdateVideo applies a merge patch to a video
func (s *Store) UpdateVideo(ctx context.Context, permlink string, patch store.VideoPatch) error {
	u := &update{}
	u.set("status", patch.Status)
	u.set("input_cid", patch.InputCID)
	u.set("manifest_cid", patch.ManifestCID)
	u.set("thumbnail_url", patch.ThumbnailURL)
	u.set("duration", patch.Duration)
	u.set("size", patch.Size)
	u.set("encoding_progress", patch.EncodingProgress)
	u.sets = append(u.sets, "updated_at = ?")
	u.args = append(u.args, patch.UpdatedAt.UTC())

	query, args := u.build("videos", "permlink = ?", []any{permlink}, patch.IfStatus)
	return s.execUpdate(ctx, query, args, "video "+permlink,
		`SELECT 1 FROM videos WHERE permlink = ?`, permlink)
}

// ListVideos returns videos matching q, newest first
func (s *Store) ListVideos(ctx context.Context, q store.VideoQuery) ([]*models.Video, error) {
	var where []string
	var args []any
	if q.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, q.Owner)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if !q.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, q.UpdatedBefore.UTC())
	}

	query := `SELECT ` + videoColumns + ` FROM videos`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate videos: %w", err)
	}
	return videos, nil
}

// CreateJob inserts a new encoding job, returning store.ErrDuplicate when
// one already exists for (owner, permlink)
func (s *Store) CreateJob(ctx context.Context, j *models.EncodingJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encoding_jobs (
			owner, permlink, status, assigned_worker, encoder_job_id,
			assigned_at, attempt_count, last_error, webhook_received_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.Owner, j.Permlink, j.Status, j.AssignedWorker, j.EncoderJobID,
		utcPtr(j.AssignedAt), j.AttemptCount, j.LastError, utcPtr(j.WebhookReceivedAt),
		j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", j.Key(), store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

const jobColumns = `owner, permlink, status, assigned_worker, encoder_job_id,
	assigned_at, attempt_count, last_error, webhook_received_at, created_at, updated_at`

func scanJob(row rowScanner) (*models.EncodingJob, error) {
	var j models.EncodingJob
	var worker, encoderJobID, lastError sql.NullString
	var assignedAt, webhookAt sql.NullTime

	if err := row.Scan(&j.Owner, &j.Permlink, &j.Status, &worker, &encoderJobID,
		&assignedAt, &j.AttemptCount, &lastError, &webhookAt,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}

	j.AssignedWorker = nullString(worker)
	j.EncoderJobID = nullString(encoderJobID)
	j.LastError = nullString(lastError)
	if assignedAt.Valid {
		j.AssignedAt = &assignedAt.Time
	}
	if webhookAt.Valid {
		j.WebhookReceivedAt = &webhookAt.Time
	}
	return &j, nil
}

// GetJob retrieves the job for (owner, permlink)
func (s *Store) GetJob(ctx context.Context, owner, permlink string) (*models.EncodingJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM encoding_jobs WHERE owner = ? AND permlink = ?`, owner, permlink)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s/%s: %w", owner, permlink, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}
	return j, nil
}

// UpdateJob applies a merge patch to a job. The attempt increment happens in
// the same statement as the other fields.
func (s *Store) UpdateJob(ctx context.Context, owner, permlink string, patch store.JobPatch) error {
	u := &update{}
	u.set("status", patch.Status)
	u.set("assigned_worker", patch.AssignedWorker)
	u.set("encoder_job_id", patch.EncoderJobID)
	if patch.AssignedAt != nil {
		u.sets = append(u.sets, "assigned_at = ?")
		u.args = append(u.args, patch.AssignedAt.UTC())
	}
	if patch.AttemptCount != nil {
		u.sets = append(u.sets, "attempt_count = ?")
		u.args = append(u.args, *patch.AttemptCount+patch.IncAttempts)
	} else if patch.IncAttempts != 0 {
		u.sets = append(u.sets, "attempt_count = attempt_count + ?")
		u.args = append(u.args, patch.IncAttempts)
	}
	if patch.LastError != nil {
		u.set("last_error", patch.LastError)
	} else if patch.ClearLastError {
		u.sets = append(u.sets, "last_error = NULL")
	}
	if patch.WebhookReceivedAt != nil {
		u.sets = append(u.sets, "webhook_received_at = ?")
		u.args = append(u.args, patch.WebhookReceivedAt.UTC())
	}
	u.sets = append(u.sets, "updated_at = ?")
	u.args = append(u.args, patch.UpdatedAt.UTC())

	query, args := u.build("encoding_jobs", "owner = ? AND permlink = ?", []any{owner, permlink}, patch.IfStatus)
	return s.execUpdate(ctx, query, args, "job "+owner+"/"+permlink,
		`SELECT 1 FROM encoding_jobs WHERE owner = ? AND permlink = ?`, owner, permlink)
}

// ListJobs returns jobs matching q, oldest first
func (s *Store) ListJobs(ctx context.Context, q store.JobQuery) ([]*models.EncodingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM encoding_jobs`
	var args []any
	if q.Status != "" {
		query += " WHERE status = ?"
		args = append(args, q.Status)
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.EncodingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus returns the number of jobs per status
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM encoding_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return counts, nil
}

// CreateAPIKey inserts a new API key
func (s *Store) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key, app_name, owner, active, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.Key, k.AppName, k.Owner, k.Active, k.CreatedAt.UTC(), utcPtr(k.LastUsed))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key record
func (s *Store) GetAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT key, app_name, owner, active, created_at, last_used
		FROM api_keys WHERE key = ?
	`, key).Scan(&k.Key, &k.AppName, &k.Owner, &k.Active, &k.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan api key row: %w", err)
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	return &k, nil
}

// TouchAPIKey records the last time a key was used
func (s *Store) TouchAPIKey(ctx context.Context, key string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key = ?`, usedAt.UTC(), key)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("api key: %w", store.ErrNotFound)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// update accumulates SET clauses for a merge patch
type update struct {
	sets []string
	args []any
}

func (u *update) set(column string, value any) {
	switch v := value.(type) {
	case *string:
		if v == nil {
			return
		}
		u.args = append(u.args, *v)
	case *int:
		if v == nil {
			return
		}
		u.args = append(u.args, *v)
	case *int64:
		if v == nil {
			return
		}
		u.args = append(u.args, *v)
	case *float64:
		if v == nil {
			return
		}
		u.args = append(u.args, *v)
	default:
		return
	}
	u.sets = append(u.sets, column+" = ?")
}

func (u *update) build(table, where string, whereArgs []any, guard []string) (string, []any) {
	query := "UPDATE " + table + " SET " + strings.Join(u.sets, ", ") + " WHERE " + where
	args := append(u.args, whereArgs...)
	if len(guard) > 0 {
		query += " AND status IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(guard)), ", ") + ")"
		for _, s := range guard {
			args = append(args, s)
		}
	}
	return query, args
}

// execUpdate runs a guarded update and tells a missing row apart from a
// guard mismatch
func (s *Store) execUpdate(ctx context.Context, query string, args []any, what, existsQuery string, existsArgs ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, existsArgs...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", what, err)
	}
	return fmt.Errorf("%s: %w", what, store.ErrStatusMismatch)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
