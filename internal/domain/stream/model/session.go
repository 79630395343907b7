// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"time"
)

// ErrIllegalTransition is returned when a session transition would break
// the active -> completed invariant.
var ErrIllegalTransition = errors.New("illegal session transition")

// Session is one capture source under analysis. Sessions are never deleted;
// completion only marks them.
type Session struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	TargetFPS       int           `json:"fps_target"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds *int64        `json:"duration_seconds,omitempty"`
	StopReason      StopReason    `json:"stop_reason,omitempty"`
	Policy          Policy        `json:"policy"`
}

// Complete transitions the session to completed at the given time.
// DurationSeconds is set here and nowhere else.
func (s *Session) Complete(at time.Time, reason StopReason) error {
	if s.Status != SessionActive {
		return ErrIllegalTransition
	}
	if at.Before(s.CreatedAt) {
		at = s.CreatedAt
	}
	ended := at
	duration := int64(at.Sub(s.CreatedAt) / time.Second)
	s.Status = SessionCompleted
	s.EndedAt = &ended
	s.DurationSeconds = &duration
	s.StopReason = reason
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.DurationSeconds != nil {
		d := *s.DurationSeconds
		out.DurationSeconds = &d
	}
	return &out
}
