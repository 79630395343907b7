// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldFrameID   = "frame_id"
	FieldRequestID = "request_id"

	// Pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldChannel   = "channel"

	// Frame fields
	FieldFrameNumber = "frame_number"
	FieldMotionScore = "motion_score"
	FieldSampled     = "sampled"
	FieldReason      = "reason"

	// Analysis fields
	FieldAttempt  = "attempt"
	FieldModel    = "model"
	FieldDuration = "duration"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
