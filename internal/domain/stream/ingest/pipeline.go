// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ingest runs each incoming frame through admission and records it.
//
// Ordering per frame, under the session lock:
//
//	decide -> persist frame record -> commit sampling state
//
// so a frame that failed to persist never advances the session's admission
// history. Sampled frames are handed to the dispatcher after the lock is
// released; ingestion never waits for analysis.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/admission"
	"github.com/ManuGH/framegate/internal/domain/stream/dispatch"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/domain/stream/registry"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/metrics"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// DefaultMaxImageBytes matches the backend's 20 MB image ceiling.
const DefaultMaxImageBytes = 20 << 20

// Submitter accepts sampled frames for asynchronous analysis. Submit must not block.
type Submitter interface {
	Submit(ctx context.Context, job dispatch.Job) bool
}

// Request is one frame as received from the API layer.
type Request struct {
	SessionID   string
	FrameNumber int64
	// ImageBase64 is the standard-encoding base64 image payload.
	ImageBase64 string
	MotionScore float64
}

// Result is returned to the API layer.
type Result struct {
	FrameID     string
	FrameNumber int64
	Sampled     bool
	Reason      admission.Reason
}

// Config bounds accepted payloads.
type Config struct {
	MaxImageBytes int
}

// Pipeline is the ingestion path.
type Pipeline struct {
	cfg      Config
	registry *registry.Registry
	repo     ports.Repository
	sink     Submitter
	now      func() time.Time
	newID    func() string
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides frame record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// New wires a pipeline.
func New(cfg Config, reg *registry.Registry, repo ports.Repository, sink Submitter, opts ...Option) *Pipeline {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	p := &Pipeline{
		cfg:      cfg,
		registry: reg,
		repo:     repo,
		sink:     sink,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest admits one frame. It fails with ports.ErrInvalidFrame before any
// state mutation, with ports.ErrSessionNotActive for unknown or completed
// sessions, and with a ports.StorageError if the frame record could not be
// written (in which case the frame is considered not ingested).
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	image, err := p.validate(req)
	if err != nil {
		metrics.RecordFrameRejected("invalid_frame")
		return Result{}, err
	}
	fingerprint := strconv.FormatUint(xxhash.Sum64(image), 16)

	var (
		rec      *model.FrameRecord
		decision admission.Decision
	)
	err = p.registry.WithSession(req.SessionID, func(s *registry.Session) error {
		var next model.SamplingState
		decision, next = admission.Decide(s.State, req.MotionScore, req.FrameNumber, s.Config.Policy)

		status := model.AnalysisSkipped
		if decision.Sample {
			status = model.AnalysisPending
		}
		rec = &model.FrameRecord{
			ID:           p.newID(),
			SessionID:    req.SessionID,
			FrameNumber:  req.FrameNumber,
			Fingerprint:  fingerprint,
			MotionScore:  req.MotionScore,
			Sampled:      decision.Sample,
			SampleReason: string(decision.Reason),
			Status:       status,
			CapturedAt:   p.now().UTC(),
		}
		if err := p.repo.CreateFrame(ctx, rec); err != nil {
			return ports.WrapStorage("create_frame", err)
		}
		s.Commit(next)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrSessionNotActive):
			metrics.RecordFrameRejected("session_not_active")
		default:
			metrics.RecordFrameRejected("storage")
		}
		return Result{}, err
	}
	metrics.RecordFrameIngested(string(decision.Reason))

	logger := log.WithComponentFromContext(ctx, "ingest")
	logger.Debug().
		Str(log.FieldSessionID, req.SessionID).
		Str(log.FieldFrameID, rec.ID).
		Int64(log.FieldFrameNumber, req.FrameNumber).
		Float64(log.FieldMotionScore, req.MotionScore).
		Bool(log.FieldSampled, decision.Sample).
		Str(log.FieldReason, string(decision.Reason)).
		Msg("frame ingested")

	if decision.Sample {
		p.sink.Submit(ctx, dispatch.Job{
			SessionID:   req.SessionID,
			FrameID:     rec.ID,
			FrameNumber: req.FrameNumber,
			Image:       image,
			EnqueuedAt:  p.now(),
		})
	}

	return Result{
		FrameID:     rec.ID,
		FrameNumber: req.FrameNumber,
		Sampled:     decision.Sample,
		Reason:      decision.Reason,
	}, nil
}

func (p *Pipeline) validate(req Request) ([]byte, error) {
	if req.FrameNumber < 1 {
		return nil, fmt.Errorf("%w: frame_number must be >= 1, got %d", ports.ErrInvalidFrame, req.FrameNumber)
	}
	if math.IsNaN(req.MotionScore) || req.MotionScore < 0 || req.MotionScore > 1 {
		return nil, fmt.Errorf("%w: motion_score must be within [0,1]", ports.ErrInvalidFrame)
	}
	if req.ImageBase64 == "" {
		return nil, fmt.Errorf("%w: empty image payload", ports.ErrInvalidFrame)
	}
	if base64.StdEncoding.DecodedLen(len(req.ImageBase64)) > p.cfg.MaxImageBytes+2 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ports.ErrInvalidFrame, p.cfg.MaxImageBytes)
	}
	image, err := base64.StdEncoding.Strict().DecodeString(req.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ports.ErrInvalidFrame, err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", ports.ErrInvalidFrame)
	}
	if len(image) > p.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ports.ErrInvalidFrame, p.cfg.MaxImageBytes)
	}
	return image, nil
}
