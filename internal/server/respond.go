package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/darkace1998/video-pipeline/internal/admin"
	"github.com/darkace1998/video-pipeline/internal/apikey"
	"github.com/darkace1998/video-pipeline/internal/auth"
	"github.com/darkace1998/video-pipeline/internal/config"
	"github.com/darkace1998/video-pipeline/internal/ingest"
	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/pinning"
	"github.com/darkace1998/video-pipeline/internal/webhook"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "path", r.URL.Path, "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses. Unclassified errors are
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "correlation_id",
			logger.CorrelationIDFromContext(r.Context()), "error", err)
		writeErrorMessage(w, r, status, "internal error")
		return
	}
	writeErrorMessage(w, r, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNoSecret):
		return http.StatusServiceUnavailable
	case errors.Is(err, webhook.ErrAuthFailed),
		errors.Is(err, apikey.ErrInvalidKey),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, ingest.ErrOwnerMismatch):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, webhook.ErrInvalidStatus),
		errors.Is(err, webhook.ErrInvalidReport),
		errors.Is(err, ingest.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, webhook.ErrJobNotFound),
		errors.Is(err, admin.ErrJobNotFound),
		errors.Is(err, config.ErrUnknownEncoder):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrDuplicateVideo),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrVideoDeleted),
		errors.Is(err, ingest.ErrDuplicateJob),
		errors.Is(err, admin.ErrJobNotFailed):
		return http.StatusConflict
	case errors.Is(err, pinning.ErrPinFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// queryLimit parses ?limit=, falling back to def and capping at limitMax
func queryLimit(r *http.Request, def, limitMax int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}
	return min(n, limitMax), nil
}
