// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/ingest"
	"github.com/ManuGH/framegate/internal/domain/stream/manager"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/go-chi/chi/v5"
)

const controlBodyLimit = 16 << 10

type startRequest struct {
	Source    string `json:"source"`
	FPSTarget *int   `json:"fps_target"`
}

type startResponse struct {
	StreamID  string              `json:"stream_id"`
	Status    model.SessionStatus `json:"status"`
	FPSTarget int                 `json:"fps_target"`
	StartedAt time.Time           `json:"started_at"`
}

type ingestRequest struct {
	StreamID    string   `json:"stream_id"`
	FrameNumber *int64   `json:"frame_number"`
	ImageData   string   `json:"image_data"`
	MotionScore *float64 `json:"motion_score"`
}

type ingestResponse struct {
	FrameID     string `json:"frame_id,omitempty"`
	FrameNumber int64  `json:"frame_number"`
	Sampled     bool   `json:"sampled"`
	Reason      string `json:"reason,omitempty"`
}

type stopRequest struct {
	StreamID string `json:"stream_id"`
}

type stopResponse struct {
	StreamID        string `json:"stream_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	TotalFrames     int    `json:"total_frames"`
}

type samplingView struct {
	FramesSeen        int64   `json:"frames_seen"`
	FramesSinceSample int64   `json:"frames_since_sample"`
	LastSampledMotion float64 `json:"last_sampled_motion"`
	SampledFrames     int64   `json:"sampled_frames"`
}

type statusResponse struct {
	*model.Session
	model.FrameCounts
	Sampling       *samplingView `json:"sampling,omitempty"`
	ElapsedSeconds *int64        `json:"elapsed_seconds,omitempty"`
}

type framesResponse struct {
	StreamID string               `json:"stream_id"`
	Frames   []*model.FrameRecord `json:"frames"`
	Total    int                  `json:"total"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
	HasMore  bool                 `json:"has_more"`
}

// decodeBody reads a JSON body capped at limit bytes. An empty body is
// accepted only when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeProblem(w, r, http.StatusRequestEntityTooLarge, ProblemInvalidRequest, "Payload Too Large", "BODY_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return true
			}
			writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRequest, "Bad Request", "INVALID_REQUEST", "request body is empty")
		default:
			writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRequest, "Bad Request", "INVALID_REQUEST", "malformed JSON body")
		}
		return false
	}
	return true
}

func requireStreamID(w http.ResponseWriter, r *http.Request, id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidRequest, "Bad Request", "INVALID_REQUEST", "stream_id is required")
		return "", false
	}
	return id, true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, controlBodyLimit, true, &req) {
		return
	}
	res, err := s.svc.StartSession(r.Context(), manager.StartRequest{Source: req.Source, TargetFPS: req.FPSTarget})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		StreamID:  res.SessionID,
		Status:    res.Status,
		FPSTarget: res.TargetFPS,
		StartedAt: res.StartedAt,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, s.maxBodyBytes(), false, &req) {
		return
	}
	id, ok := requireStreamID(w, r, req.StreamID)
	if !ok {
		return
	}
	if req.FrameNumber == nil {
		writeProblem(w, r, http.StatusBadRequest, ProblemInvalidFrame, "Bad Request", "INVALID_FRAME", "frame_number is required")
		return
	}
	refund, allowed := s.ingest.TakeAt(id, s.now())
	if !allowed {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusTooManyRequests, ProblemRateLimited, "Too Many Requests", "INGEST_RATE_LIMITED",
			fmt.Sprintf("stream %s exceeds %d frames per second", id, s.cfg.MaxFPS))
		return
	}

	var motion float64
	if req.MotionScore != nil {
		motion = *req.MotionScore
	}
	res, err := s.svc.IngestFrame(r.Context(), ingest.Request{
		SessionID:   id,
		FrameNumber: *req.FrameNumber,
		ImageBase64: req.ImageData,
		MotionScore: motion,
	})
	if err != nil {
		if errors.Is(err, ports.ErrInvalidFrame) {
			refund()
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		FrameID:     res.FrameID,
		FrameNumber: res.FrameNumber,
		Sampled:     res.Sampled,
		Reason:      string(res.Reason),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !decodeBody(w, r, controlBodyLimit, false, &req) {
		return
	}
	id, ok := requireStreamID(w, r, req.StreamID)
	if !ok {
		return
	}
	res, err := s.svc.StopSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.ingest.Forget(id)
	writeJSON(w, http.StatusOK, stopResponse{
		StreamID:        res.SessionID,
		DurationSeconds: res.DurationSeconds,
		TotalFrames:     res.TotalFrames,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStreamStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statusResponse{Session: st.Session, FrameCounts: st.Counts}
	if st.Session.Status == model.SessionActive {
		// duration_seconds is reserved for completed sessions.
		elapsed := max(int64(s.now().Sub(st.Session.CreatedAt)/time.Second), 0)
		resp.ElapsedSeconds = &elapsed
	}
	if st.Sampling != nil {
		resp.Sampling = &samplingView{
			FramesSeen:        st.Sampling.FramesSeen,
			FramesSinceSample: st.Sampling.FramesSinceSample,
			LastSampledMotion: st.Sampling.LastSampledMotion,
			SampledFrames:     st.Sampling.SampledFrames,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", manager.DefaultFrameLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.svc.GetSessionFrames(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	frames := page.Frames
	if frames == nil {
		frames = []*model.FrameRecord{}
	}
	writeJSON(w, http.StatusOK, framesResponse{
		StreamID: page.SessionID,
		Frames:   frames,
		Total:    page.Total,
		Limit:    page.Limit,
		Offset:   page.Offset,
		HasMore:  page.HasMore,
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ports.ErrInvalidRequest, key)
	}
	return n, nil
}
