// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/framegate/internal/api/middleware"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/log"
)

// Problem type identifiers.
const (
	ProblemAtCapacity       = "vision/at_capacity"
	ProblemNotFound         = "vision/session_not_found"
	ProblemNotActive        = "vision/session_not_active"
	ProblemAlreadyCompleted = "vision/session_already_completed"
	ProblemInvalidFrame     = "vision/invalid_frame"
	ProblemInvalidRequest   = "vision/invalid_request"
	ProblemRateLimited      = "vision/rate_limited"
	ProblemStorage          = "vision/storage_unavailable"
	ProblemInternal         = "vision/internal"
)

// writeProblem writes an RFC 7807 problem details response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}

	body := map[string]any{
		"type":       problemType,
		"title":      title,
		"status":     status,
		"code":       code,
		"request_id": reqID,
		"instance":   r.URL.EscapedPath(),
	}
	if detail != "" {
		body["detail"] = detail
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("type", problemType).Msg("failed to encode problem response")
	}
}

// writeError maps domain errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ports.ErrAtCapacity):
		w.Header().Set("Retry-After", "5")
		writeProblem(w, r, http.StatusTooManyRequests, ProblemAtCapacity, "Too Many Streams", "AT_CAPACITY", err.Error())
	case errors.Is(err, ports.ErrSessionNotFound):
		writeProblem(w, r, http.StatusNotFound, ProblemNotFound, "Not Found", "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, ports.ErrAlreadyCompleted):
		writeProblem(w, r, http.StatusConflict, ProblemAlreadyCompleted, "Conflict", "SESSION_ALREADY_COMPLETED", err.Error())
	case errors.Is(err, ports.ErrSessionNotActive):
		writeProblem(w, r, http.StatusConflict, ProblemNotActive, "Conflict", "SESSION_NOT_ACTIVE", err.Error())
	case errors.Is(err, ports.ErrInvalidFrame):
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidFrame, "Bad Request", "INVALID_FRAME", err.Error())
	case errors.Is(err, ports.ErrInvalidRequest):
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRequest, "Bad Request", "INVALID_REQUEST", err.Error())
	case errors.Is(err, ports.ErrStorage):
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("storage failure")
		writeProblem(w, r, http.StatusServiceUnavailable, ProblemStorage, "Service Unavailable", "STORAGE_UNAVAILABLE", "")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("unhandled error")
		writeProblem(w, r, http.StatusInternalServerError, ProblemInternal, "Internal Server Error", "INTERNAL", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
