// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// Policy is the per-session admission configuration, fixed at session start.
type Policy struct {
	MotionThreshold  float64 `json:"motion_threshold" yaml:"motionThreshold"`
	KeyframeInterval int64   `json:"keyframe_interval" yaml:"keyframeInterval"`
}

// SamplingState is the in-memory admission history of one session.
// It is owned by the registry entry of that session and never persisted.
type SamplingState struct {
	FramesSeen        int64
	FramesSinceSample int64
	LastSampledMotion float64
	SampledFrames     int64
}
