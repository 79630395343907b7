// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager is the session lifecycle entry point used by the API layer.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/ingest"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/domain/stream/registry"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultSource     = "unknown"
	maxSourceLen      = 255
	DefaultFrameLimit = 20
	MaxFrameLimit     = 100
)

// Config is the manager's share of the application configuration.
type Config struct {
	MaxStreams    int
	DefaultFPS    int
	MaxFPS        int
	Policy        model.Policy
	MaxImageBytes int
}

func (c Config) withDefaults() Config {
	if c.MaxFPS <= 0 {
		c.MaxFPS = 10
	}
	if c.DefaultFPS <= 0 {
		c.DefaultFPS = 1
	}
	if c.DefaultFPS > c.MaxFPS {
		c.DefaultFPS = c.MaxFPS
	}
	return c
}

// StartRequest carries the optional session parameters. A nil TargetFPS uses the default.
type StartRequest struct {
	Source    string
	TargetFPS *int
}

// StartResult describes a freshly started session.
type StartResult struct {
	SessionID string
	Status    model.SessionStatus
	TargetFPS int
	StartedAt time.Time
}

// StopResult summarises a completed session.
type StopResult struct {
	SessionID       string
	DurationSeconds int64
	TotalFrames     int
}

// StreamStatus is a session summary with per-outcome frame counts.
type StreamStatus struct {
	Session *model.Session
	Counts  model.FrameCounts
	// Sampling is set while the session is active.
	Sampling *model.SamplingState
}

// FramesPage is one page of frame records, ordered by frame number.
type FramesPage struct {
	SessionID string
	Frames    []*model.FrameRecord
	Total     int
	Limit     int
	Offset    int
	HasMore   bool
}

// Service owns the registry and the ingestion pipeline.
type Service struct {
	cfg      Config
	registry *registry.Registry
	repo     ports.Repository
	pipeline *ingest.Pipeline
	policy   atomic.Pointer[model.Policy]
	now      func() time.Time
	newID    func() string
}

// Option customises a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService wires a manager. Sampled frames are handed to sink.
func NewService(cfg Config, repo ports.Repository, sink ingest.Submitter, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		registry: registry.New(cfg.MaxStreams),
		repo:     repo,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	policy := cfg.Policy
	s.policy.Store(&policy)
	s.pipeline = ingest.New(ingest.Config{MaxImageBytes: cfg.MaxImageBytes}, s.registry, repo, sink,
		ingest.WithClock(s.now))
	return s
}

// SetPolicy replaces the sampling policy for sessions started from now on.
// Running sessions keep the policy they started with.
func (s *Service) SetPolicy(p model.Policy) {
	s.policy.Store(&p)
	logger := log.WithComponent("manager")
	logger.Info().
		Float64("motion_threshold", p.MotionThreshold).
		Int64("keyframe_interval", p.KeyframeInterval).
		Msg("sampling policy updated")
}

// Policy returns the policy new sessions will use.
func (s *Service) Policy() model.Policy {
	return *s.policy.Load()
}

// ActiveSessions returns the number of registered sessions.
func (s *Service) ActiveSessions() int { return s.registry.Len() }

// Capacity returns the concurrent-stream ceiling (0 = unlimited).
func (s *Service) Capacity() int { return s.registry.Capacity() }

// StartSession registers and persists a new active session.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*StartResult, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = DefaultSource
	}
	if len(source) > maxSourceLen {
		return nil, fmt.Errorf("%w: source longer than %d bytes", ports.ErrInvalidRequest, maxSourceLen)
	}
	fps := s.cfg.DefaultFPS
	if req.TargetFPS != nil {
		fps = *req.TargetFPS
	}
	if fps < 1 || fps > s.cfg.MaxFPS {
		return nil, fmt.Errorf("%w: fps_target must be within [1,%d]", ports.ErrInvalidRequest, s.cfg.MaxFPS)
	}

	id := s.newID()
	policy := s.Policy()
	now := s.now().UTC()

	if err := s.registry.Register(id, registry.Config{Policy: policy, TargetFPS: fps, StartedAt: now}); err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:        id,
		Source:    source,
		TargetFPS: fps,
		Status:    model.SessionActive,
		CreatedAt: now,
		Policy:    policy,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		s.registry.Unregister(id)
		return nil, ports.WrapStorage("create_session", err)
	}

	metrics.RecordStreamStart()
	logger := log.WithComponentFromContext(ctx, "manager")
	logger.Info().
		Str(log.FieldSessionID, id).
		Str("source", source).
		Int("fps_target", fps).
		Int("active", s.registry.Len()).
		Msg("stream session started")

	return &StartResult{SessionID: id, Status: sess.Status, TargetFPS: fps, StartedAt: now}, nil
}

// StopSession completes a session on behalf of the client.
func (s *Service) StopSession(ctx context.Context, id string) (*StopResult, error) {
	return s.stop(ctx, id, model.StopReasonClient)
}

func (s *Service) stop(ctx context.Context, id string, reason model.StopReason) (*StopResult, error) {
	var (
		completed   *model.Session
		completeErr error
	)
	err := s.registry.Close(id, func(registry.Session) error {
		completed, completeErr = s.complete(ctx, id, reason)
		if errors.Is(completeErr, ports.ErrAlreadyCompleted) {
			// Stale registry entry; drop it.
			return nil
		}
		return completeErr
	})
	if err == nil {
		err = completeErr
	}
	if errors.Is(err, ports.ErrSessionNotActive) {
		// Not registered: unknown, already completed, or orphaned by a previous process.
		completed, err = s.complete(ctx, id, reason)
	}
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.CountFrames(ctx, id)
	if err != nil {
		return nil, ports.WrapStorage("count_frames", err)
	}

	var duration int64
	if completed.DurationSeconds != nil {
		duration = *completed.DurationSeconds
	}
	metrics.RecordStreamStop(string(reason))
	logger := log.WithComponentFromContext(ctx, "manager")
	logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldReason, string(reason)).
		Int64("duration_seconds", duration).
		Int("total_frames", counts.Total).
		Int("sampled_frames", counts.Sampled).
		Msg("stream session stopped")

	return &StopResult{SessionID: id, DurationSeconds: duration, TotalFrames: counts.Total}, nil
}

func (s *Service) complete(ctx context.Context, id string, reason model.StopReason) (*model.Session, error) {
	sess, err := s.repo.UpdateSession(ctx, id, func(rec *model.Session) error {
		return rec.Complete(s.now().UTC(), reason)
	})
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, ports.ErrNotFound):
		return nil, fmt.Errorf("stop %s: %w", id, ports.ErrSessionNotFound)
	case errors.Is(err, model.ErrIllegalTransition):
		return nil, fmt.Errorf("stop %s: %w", id, ports.ErrAlreadyCompleted)
	default:
		return nil, ports.WrapStorage("update_session", err)
	}
}

// IngestFrame runs one frame through admission.
func (s *Service) IngestFrame(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	return s.pipeline.Ingest(ctx, req)
}

// GetStreamStatus returns the session summary.
func (s *Service) GetStreamStatus(ctx context.Context, id string) (*StreamStatus, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("status %s: %w", id, ports.ErrSessionNotFound)
		}
		return nil, ports.WrapStorage("get_session", err)
	}
	counts, err := s.repo.CountFrames(ctx, id)
	if err != nil {
		return nil, ports.WrapStorage("count_frames", err)
	}
	st := &StreamStatus{Session: sess, Counts: counts}
	if sess.Status == model.SessionActive {
		if view, err := s.registry.Get(id); err == nil {
			state := view.State
			st.Sampling = &state
		}
	}
	return st, nil
}

// GetSessionFrames pages through a session's frame records. limit must be
// within [1, MaxFrameLimit].
func (s *Service) GetSessionFrames(ctx context.Context, id string, limit, offset int) (*FramesPage, error) {
	if limit < 1 || limit > MaxFrameLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ports.ErrInvalidRequest, MaxFrameLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0", ports.ErrInvalidRequest)
	}

	if _, err := s.repo.GetSession(ctx, id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("frames %s: %w", id, ports.ErrSessionNotFound)
		}
		return nil, ports.WrapStorage("get_session", err)
	}
	frames, total, err := s.repo.ListFrames(ctx, id, limit, offset)
	if err != nil {
		return nil, ports.WrapStorage("list_frames", err)
	}
	return &FramesPage{
		SessionID: id,
		Frames:    frames,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		HasMore:   offset+len(frames) < total,
	}, nil
}

// Shutdown stops every active session with reason shutdown. Errors are
// logged; the first one is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	var first error
	for _, a := range s.registry.Snapshot() {
		if _, err := s.stop(ctx, a.ID, model.StopReasonShutdown); err != nil {
			logger := log.WithComponent("manager")
			logger.Warn().Err(err).Str(log.FieldSessionID, a.ID).Msg("failed to stop session on shutdown")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
