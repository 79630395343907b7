// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package admission decides per frame whether it is worth sending to the
// vision backend. Decide is pure: identical inputs give identical outputs.
package admission

import "github.com/ManuGH/framegate/internal/domain/stream/model"

// DefaultMotionThreshold is used when a policy leaves the threshold unset.
const DefaultMotionThreshold = 0.15

// Reason explains a decision. It is recorded on the frame and used as a metric label.
type Reason string

const (
	ReasonKeyframe Reason = "keyframe"
	ReasonMotion   Reason = "motion"
	ReasonStatic   Reason = "static"
)

// Decision is the outcome for one frame.
type Decision struct {
	Sample bool
	Reason Reason
}

// Decide applies the sampling policy:
//  1. frameIndex a multiple of the keyframe interval -> sample (forced keyframe)
//  2. motionScore >= threshold -> sample
//  3. otherwise skip
//
// A keyframe interval <= 0 disables forced keyframes. The returned state is
// the input state advanced by this frame; the input is not modified.
func Decide(state model.SamplingState, motionScore float64, frameIndex int64, policy model.Policy) (Decision, model.SamplingState) {
	threshold := policy.MotionThreshold
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}

	var d Decision
	switch {
	case policy.KeyframeInterval > 0 && frameIndex%policy.KeyframeInterval == 0:
		d = Decision{Sample: true, Reason: ReasonKeyframe}
	case motionScore >= threshold:
		d = Decision{Sample: true, Reason: ReasonMotion}
	default:
		d = Decision{Sample: false, Reason: ReasonStatic}
	}

	next := state
	next.FramesSeen++
	if d.Sample {
		next.FramesSinceSample = 0
		next.LastSampledMotion = motionScore
		next.SampledFrames++
	} else {
		next.FramesSinceSample++
	}
	return d, next
}
