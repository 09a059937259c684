package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/ingest"
	"github.com/darkace1998/video-pipeline/internal/store"
	"github.com/darkace1998/video-pipeline/internal/webhook"
)

// webhookCredential reads the encoder credential from X-API-Key, falling
// back to a bearer token
func webhookCredential(r *http.Request) string {
	if v := r.Header.Get(constants.HeaderAPIKey); v != "" {
		return v
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token
}

// EncodingWebhook applies a completion or failure report from an encoder
func (s *Server) EncodingWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Webhook.Authenticate(webhookCredential(r)); err != nil {
		s.log.WithContext(r.Context()).Warn("Webhook credential rejected", "ip", clientIP(r))
		writeError(w, r, err)
		return
	}

	var report webhook.Report
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := s.deps.Webhook.Apply(r.Context(), report)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

// ProgressWebhook applies an encoding progress update
func (s *Server) ProgressWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Webhook.Authenticate(webhookCredential(r)); err != nil {
		writeError(w, r, err)
		return
	}

	var report webhook.ProgressReport
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := s.deps.Webhook.Progress(r.Context(), report)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

type startUploadRequest struct {
	Owner            string  `json:"owner"`
	FrontendApp      string  `json:"frontend_app"`
	Short            bool    `json:"short"`
	Size             *int64  `json:"size"`
	OriginalFilename *string `json:"original_filename"`
}

// StartUpload creates a video in uploading state and returns its permlink
func (s *Server) StartUpload(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFromContext(r.Context())

	var req startUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Owner == "" {
		req.Owner = key.Owner
	}
	if req.FrontendApp == "" {
		req.FrontendApp = key.AppName
	}

	video, err := s.deps.Ingest.StartUpload(r.Context(), ingest.StartRequest{
		Owner:            req.Owner,
		FrontendApp:      req.FrontendApp,
		Short:            req.Short,
		Size:             req.Size,
		OriginalFilename: req.OriginalFilename,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"owner": video.Owner, "permlink": video.Permlink})
}

// CompleteUpload pins a finished upload and queues its encoding job
func (s *Server) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFromContext(r.Context())

	var c ingest.Completion
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	if c.Owner == "" {
		c.Owner = key.Owner
	}

	job, err := s.deps.Ingest.CompleteUpload(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, job)
}

// GetVideo returns one video
func (s *Server) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, err := s.deps.Lifecycle.Get(r.Context(), r.PathValue("permlink"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, video)
}

// ListVideos lists videos newest first
func (s *Server) ListVideos(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, constants.DefaultVideoListSize, constants.MaxJobListLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	videos, err := s.deps.Store.ListVideos(r.Context(), store.VideoQuery{
		Owner:  q.Get("owner"),
		Status: q.Get("status"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"videos": videos, "count": len(videos)})
}

// SetThumbnail records a thumbnail URL for a video owned by the caller
func (s *Server) SetThumbnail(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFromContext(r.Context())
	permlink := r.PathValue("permlink")

	var req struct {
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ThumbnailURL == "" {
		writeError(w, r, fmt.Errorf("%w: thumbnail_url is required", errBadRequest))
		return
	}

	video, err := s.deps.Lifecycle.Get(r.Context(), permlink)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if video.Owner != key.Owner {
		writeError(w, r, fmt.Errorf("%w: %s", ingest.ErrOwnerMismatch, permlink))
		return
	}

	if err := s.deps.Lifecycle.SetThumbnail(r.Context(), permlink, req.ThumbnailURL); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// AdminStats returns job counts and the encoder rotation
func (s *Server) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Admin.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// AdminJobs lists jobs oldest first
func (s *Server) AdminJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, constants.DefaultJobListLimit, constants.MaxJobListLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := s.deps.Admin.Jobs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// AdminRetryJob requeues a failed job
func (s *Server) AdminRetryJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner    string `json:"owner"`
		Permlink string `json:"permlink"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Owner == "" || req.Permlink == "" {
		writeError(w, r, fmt.Errorf("%w: owner and permlink are required", errBadRequest))
		return
	}

	if err := s.deps.Admin.RetryJob(r.Context(), req.Owner, req.Permlink); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "requeued"})
}

// AdminEncoders lists every configured encoder
func (s *Server) AdminEncoders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"encoders": s.deps.Registry.All()})
}

// AdminSetEncoder enables or disables an encoder in the rotation
func (s *Server) AdminSetEncoder(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := s.deps.Registry.SetEnabled(name, enabled); err != nil {
			writeError(w, r, err)
			return
		}
		s.log.WithContext(r.Context()).Info("Encoder rotation changed", "encoder", name, "enabled", enabled)
		writeJSON(w, r, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
	}
}

// AdminMintAPIKey creates a frontend API key
func (s *Server) AdminMintAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppName string `json:"app_name"`
		Owner   string `json:"owner"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AppName == "" || req.Owner == "" {
		writeError(w, r, fmt.Errorf("%w: app_name and owner are required", errBadRequest))
		return
	}

	key, err := s.deps.APIKeys.Mint(r.Context(), req.AppName, req.Owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, key)
}

// AdminStaleVideos lists videos stuck in a status
func (s *Server) AdminStaleVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	age := time.Hour
	if raw := q.Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, fmt.Errorf("%w: older_than must be a positive duration", errBadRequest))
			return
		}
		age = d
	}
	limit, err := queryLimit(r, constants.DefaultJobListLimit, constants.MaxJobListLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	videos, err := s.deps.Admin.StaleVideos(r.Context(), q.Get("status"), age, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"videos": videos, "count": len(videos)})
}

// AdminDeleteVideo soft deletes a video
func (s *Server) AdminDeleteVideo(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Admin.DeleteVideo(r.Context(), r.PathValue("permlink"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

