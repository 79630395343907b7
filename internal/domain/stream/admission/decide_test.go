// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package admission

import (
	"math/rand"
	"testing"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPolicy = model.Policy{MotionThreshold: 0.15, KeyframeInterval: 5}

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name   string
		motion float64
		index  int64
		want   Decision
	}{
		{"keyframe with no motion", 0.0, 5, Decision{true, ReasonKeyframe}},
		{"keyframe beats motion", 0.9, 10, Decision{true, ReasonKeyframe}},
		{"motion above threshold", 0.5, 1, Decision{true, ReasonMotion}},
		{"motion equal to threshold", 0.15, 2, Decision{true, ReasonMotion}},
		{"static frame", 0.01, 2, Decision{false, ReasonStatic}},
		{"just below threshold", 0.1499, 3, Decision{false, ReasonStatic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decide(model.SamplingState{}, tt.motion, tt.index, defaultPolicy)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_KeyframesAlwaysSampled(t *testing.T) {
	state := model.SamplingState{}
	for i := int64(1); i <= 30; i++ {
		var d Decision
		d, state = Decide(state, 0.0, i, defaultPolicy)
		if i%5 == 0 {
			require.True(t, d.Sample, "frame %d must be a forced keyframe", i)
			require.Equal(t, ReasonKeyframe, d.Reason)
		} else {
			require.False(t, d.Sample, "frame %d has no motion", i)
		}
	}
	assert.Equal(t, int64(30), state.FramesSeen)
	assert.Equal(t, int64(6), state.SampledFrames)
	assert.Equal(t, int64(0), state.FramesSinceSample)
}

func TestDecide_StateCounters(t *testing.T) {
	state := model.SamplingState{}

	_, state = Decide(state, 0.01, 1, defaultPolicy)
	_, state = Decide(state, 0.02, 2, defaultPolicy)
	assert.Equal(t, int64(2), state.FramesSinceSample)

	_, state = Decide(state, 0.7, 3, defaultPolicy)
	assert.Equal(t, int64(0), state.FramesSinceSample)
	assert.Equal(t, 0.7, state.LastSampledMotion)
	assert.Equal(t, int64(3), state.FramesSeen)
}

func TestDecide_DoesNotMutateInput(t *testing.T) {
	in := model.SamplingState{FramesSeen: 4, FramesSinceSample: 2}
	_, out := Decide(in, 0.9, 7, defaultPolicy)

	assert.Equal(t, model.SamplingState{FramesSeen: 4, FramesSinceSample: 2}, in)
	assert.NotEqual(t, in, out)
}

func TestDecide_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		state := model.SamplingState{
			FramesSeen:        rng.Int63n(1000),
			FramesSinceSample: rng.Int63n(50),
			LastSampledMotion: rng.Float64(),
		}
		motion := rng.Float64()
		index := rng.Int63n(10000) + 1
		policy := model.Policy{MotionThreshold: rng.Float64(), KeyframeInterval: rng.Int63n(20)}

		d1, s1 := Decide(state, motion, index, policy)
		d2, s2 := Decide(state, motion, index, policy)
		require.Equal(t, d1, d2)
		require.Equal(t, s1, s2)
	}
}

func TestDecide_ZeroPolicyUsesDefaults(t *testing.T) {
	d, _ := Decide(model.SamplingState{}, 0.2, 5, model.Policy{})
	assert.Equal(t, Decision{true, ReasonMotion}, d, "interval 0 disables keyframes")

	d, _ = Decide(model.SamplingState{}, 0.1, 5, model.Policy{})
	assert.False(t, d.Sample)
}
