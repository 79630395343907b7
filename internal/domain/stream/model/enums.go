// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// SessionStatus is the persisted lifecycle of a stream session.
// The only legal transition is active -> completed, exactly once.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// IsTerminal returns true if the status is final.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted
}

// AnalysisStatus is the analysis state of a single frame record.
type AnalysisStatus string

const (
	AnalysisSkipped   AnalysisStatus = "skipped"
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// IsTerminal returns true once the dispatcher can no longer change the status.
func (s AnalysisStatus) IsTerminal() bool {
	switch s {
	case AnalysisSkipped, AnalysisCompleted, AnalysisFailed:
		return true
	}
	return false
}

// StopReason records why a session was completed.
type StopReason string

const (
	StopReasonClient      StopReason = "client"
	StopReasonMaxDuration StopReason = "max_duration"
	StopReasonShutdown    StopReason = "shutdown"
)

// Failure reasons recorded on frame records.
const (
	FailureQueueFull    = "dispatch_queue_full"
	FailureShutdown     = "dispatcher_closed"
	FailureNotPersisted = "result_not_persisted"
)
