// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"encoding/json"
	"time"
)

// FrameRecord is the audit record of one ingested frame. Sampled is true
// exactly when Status is not skipped.
type FrameRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	FrameNumber   int64           `json:"frame_number"`
	Fingerprint   string          `json:"image_hash"`
	MotionScore   float64         `json:"motion_score"`
	Sampled       bool            `json:"sampled_for_analysis"`
	SampleReason  string          `json:"sample_reason,omitempty"`
	Status        AnalysisStatus  `json:"analysis_status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	CapturedAt    time.Time       `json:"captured_at"`
	AnalyzedAt    *time.Time      `json:"analyzed_at,omitempty"`
	ProcessingMS  int64           `json:"processing_duration_ms,omitempty"`
	Result        *AnalysisResult `json:"analysis_result,omitempty"`
}

// Complete moves a pending frame to completed with the backend result attached.
func (f *FrameRecord) Complete(at time.Time, res *AnalysisResult, attempts int, took time.Duration) error {
	if f.Status != AnalysisPending {
		return ErrIllegalTransition
	}
	f.Status = AnalysisCompleted
	f.Result = res
	f.Attempts = attempts
	f.AnalyzedAt = &at
	f.ProcessingMS = took.Milliseconds()
	return nil
}

// Fail moves a pending frame to failed, recording the reason.
func (f *FrameRecord) Fail(at time.Time, reason string, attempts int) error {
	if f.Status != AnalysisPending {
		return ErrIllegalTransition
	}
	f.Status = AnalysisFailed
	f.FailureReason = reason
	f.Attempts = attempts
	f.AnalyzedAt = &at
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (f *FrameRecord) Clone() *FrameRecord {
	if f == nil {
		return nil
	}
	out := *f
	if f.AnalyzedAt != nil {
		t := *f.AnalyzedAt
		out.AnalyzedAt = &t
	}
	if f.Result != nil {
		out.Result = f.Result.Clone()
	}
	return &out
}

// AnalysisResult is what the vision backend returned for a frame. Only
// Description, Confidence and Tags are interpreted; Raw is kept verbatim.
type AnalysisResult struct {
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Tags        []string        `json:"tags,omitempty"`
	Model       string          `json:"model,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Clone returns a deep copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	out.Raw = append(json.RawMessage(nil), r.Raw...)
	return &out
}

// FrameCounts summarises the frames of a session by outcome.
type FrameCounts struct {
	Total     int `json:"total_frames"`
	Sampled   int `json:"sampled_frames"`
	Skipped   int `json:"skipped_frames"`
	Pending   int `json:"pending_frames"`
	Completed int `json:"completed_frames"`
	Failed    int `json:"failed_frames"`
}

// Add folds one record into the counts.
func (c *FrameCounts) Add(f *FrameRecord) {
	c.Total++
	if f.Sampled {
		c.Sampled++
	}
	switch f.Status {
	case AnalysisSkipped:
		c.Skipped++
	case AnalysisPending:
		c.Pending++
	case AnalysisCompleted:
		c.Completed++
	case AnalysisFailed:
		c.Failed++
	}
}
