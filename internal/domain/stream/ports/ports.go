// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ports declares the collaborators the stream core depends on:
// persistence, the vision backend and the publish transport.
package ports

import (
	"context"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
)

// Repository persists sessions and frame records. Implementations return
// ErrNotFound for unknown ids; every other failure is surfaced by the core
// as a StorageError. The core never retries repository calls.
type Repository interface {
	CreateSession(ctx context.Context, s *model.Session) error
	// UpdateSession applies fn to the stored session and writes the result.
	// If fn returns an error nothing is written.
	UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// ListSessions returns sessions with the given status ordered by creation time.
	ListSessions(ctx context.Context, status model.SessionStatus) ([]*model.Session, error)

	CreateFrame(ctx context.Context, f *model.FrameRecord) error
	UpdateFrame(ctx context.Context, id string, fn func(*model.FrameRecord) error) (*model.FrameRecord, error)
	GetFrame(ctx context.Context, id string) (*model.FrameRecord, error)
	// ListFrames returns frames of a session ordered by frame number, and the total count.
	ListFrames(ctx context.Context, sessionID string, limit, offset int) ([]*model.FrameRecord, int, error)
	CountFrames(ctx context.Context, sessionID string) (model.FrameCounts, error)

	Close() error
}

// AnalysisRequest is one call to the vision backend.
type AnalysisRequest struct {
	SessionID   string
	FrameID     string
	FrameNumber int64
	Image       []byte
	Prompt      string
}

// Analyzer calls the external vision model. Failures should be wrapped with
// Transient or Permanent; unclassified errors are retried.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*model.AnalysisResult, error)
}

// Broadcaster is the real-time transport. Publish is fire-and-forget from the
// core's point of view; payload must already respect the transport ceiling.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
