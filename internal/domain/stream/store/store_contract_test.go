// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/persistence/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendCase struct {
	name string
	open func(t *testing.T) ports.Repository
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) ports.Repository { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) ports.Repository {
			s, err := NewSqliteStore(filepath.Join(t.TempDir(), "frames.sqlite"))
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) ports.Repository {
			s, err := OpenBadgerStore(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return s
		}},
	}
}

// Millisecond precision so every backend round-trips timestamps exactly.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(id string, at time.Time) *model.Session {
	return &model.Session{
		ID:        id,
		Source:    "camera-1",
		TargetFPS: 2,
		Status:    model.SessionActive,
		CreatedAt: at,
		Policy:    model.Policy{MotionThreshold: 0.15, KeyframeInterval: 5},
	}
}

func newFrame(sessionID string, n int64, status model.AnalysisStatus) *model.FrameRecord {
	return &model.FrameRecord{
		ID:          fmt.Sprintf("%s-f%03d", sessionID, n),
		SessionID:   sessionID,
		FrameNumber: n,
		Fingerprint: "ef46db3751d8e999",
		MotionScore: 0.2,
		Sampled:     status != model.AnalysisSkipped,
		Status:      status,
		CapturedAt:  t0.Add(time.Duration(n) * time.Second),
	}
}

func TestRepositoryContract(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, bc.open(t)) })
			t.Run("FrameLifecycle", func(t *testing.T) { testFrameLifecycle(t, bc.open(t)) })
			t.Run("ListFramesPaging", func(t *testing.T) { testListFramesPaging(t, bc.open(t)) })
			t.Run("ListSessionsByStatus", func(t *testing.T) { testListSessions(t, bc.open(t)) })
			t.Run("ConcurrentFrameUpdates", func(t *testing.T) { testConcurrentUpdates(t, bc.open(t)) })
		})
	}
}

func testSessionLifecycle(t *testing.T, repo ports.Repository) {
	defer repo.Close()
	ctx := context.Background()

	sess := newSession("s1", t0)
	require.NoError(t, repo.CreateSession(ctx, sess))
	assert.ErrorIs(t, repo.CreateSession(ctx, sess), ports.ErrExists)

	got, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(sess, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	updated, err := repo.UpdateSession(ctx, "s1", func(s *model.Session) error {
		return s.Complete(t0.Add(90*time.Second), model.StopReasonClient)
	})
	require.NoError(t, err)
	require.NotNil(t, updated.DurationSeconds)
	assert.Equal(t, int64(90), *updated.DurationSeconds)

	// A failing mutation leaves the stored record untouched.
	_, err = repo.UpdateSession(ctx, "s1", func(s *model.Session) error {
		return s.Complete(t0.Add(200*time.Second), model.StopReasonClient)
	})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	got, err = repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.Equal(t, int64(90), *got.DurationSeconds)
	assert.Equal(t, model.StopReasonClient, got.StopReason)

	_, err = repo.UpdateSession(ctx, "missing", func(*model.Session) error { return nil })
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testFrameLifecycle(t *testing.T, repo ports.Repository) {
	defer repo.Close()
	ctx := context.Background()

	assert.ErrorIs(t, repo.CreateFrame(ctx, newFrame("nosession", 1, model.AnalysisPending)), ports.ErrNotFound)

	require.NoError(t, repo.CreateSession(ctx, newSession("s1", t0)))
	pending := newFrame("s1", 1, model.AnalysisPending)
	skipped := newFrame("s1", 2, model.AnalysisSkipped)
	failing := newFrame("s1", 3, model.AnalysisPending)
	for _, f := range []*model.FrameRecord{pending, skipped, failing} {
		require.NoError(t, repo.CreateFrame(ctx, f))
	}
	assert.ErrorIs(t, repo.CreateFrame(ctx, pending), ports.ErrExists)

	res := &model.AnalysisResult{Description: "a person walks in", Confidence: 0.9, Tags: []string{"person"}, Model: "llava"}
	done, err := repo.UpdateFrame(ctx, pending.ID, func(f *model.FrameRecord) error {
		return f.Complete(t0.Add(time.Minute), res, 2, 1500*time.Millisecond)
	})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, done.Status)

	_, err = repo.UpdateFrame(ctx, failing.ID, func(f *model.FrameRecord) error {
		return f.Fail(t0.Add(time.Minute), "backend unavailable", 3)
	})
	require.NoError(t, err)

	// Terminal records refuse further transitions.
	_, err = repo.UpdateFrame(ctx, pending.ID, func(f *model.FrameRecord) error {
		return f.Fail(t0, "late", 1)
	})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	got, err := repo.GetFrame(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, got.Status)
	assert.Equal(t, int64(1500), got.ProcessingMS)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Equal(t, "a person walks in", got.Result.Description)
	assert.Equal(t, []string{"person"}, got.Result.Tags)

	got, err = repo.GetFrame(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisFailed, got.Status)
	assert.Equal(t, "backend unavailable", got.FailureReason)

	_, err = repo.GetFrame(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	counts, err := repo.CountFrames(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.FrameCounts{Total: 3, Sampled: 2, Skipped: 1, Completed: 1, Failed: 1}, counts)
}

func testListFramesPaging(t *testing.T, repo ports.Repository) {
	defer repo.Close()
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, newSession("s1", t0)))
	require.NoError(t, repo.CreateSession(ctx, newSession("s2", t0)))

	// Insert out of order; listing is by frame number.
	for _, n := range []int64{5, 1, 4, 2, 3, 12, 11, 10, 9, 8, 7, 6} {
		require.NoError(t, repo.CreateFrame(ctx, newFrame("s1", n, model.AnalysisSkipped)))
	}
	require.NoError(t, repo.CreateFrame(ctx, newFrame("s2", 1, model.AnalysisSkipped)))

	frames, total, err := repo.ListFrames(ctx, "s1", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, int64(i+1), f.FrameNumber)
	}

	frames, total, err = repo.ListFrames(ctx, "s1", 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(11), frames[0].FrameNumber)
	assert.Equal(t, int64(12), frames[1].FrameNumber)

	frames, total, err = repo.ListFrames(ctx, "s1", 5, 50)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Empty(t, frames)

	frames, total, err = repo.ListFrames(ctx, "unknown", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, frames)
}

func testListSessions(t *testing.T, repo ports.Repository) {
	defer repo.Close()
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, newSession("b", t0.Add(time.Second))))
	require.NoError(t, repo.CreateSession(ctx, newSession("a", t0)))
	require.NoError(t, repo.CreateSession(ctx, newSession("c", t0.Add(2*time.Second))))
	_, err := repo.UpdateSession(ctx, "b", func(s *model.Session) error {
		return s.Complete(t0.Add(time.Minute), model.StopReasonClient)
	})
	require.NoError(t, err)

	active, err := repo.ListSessions(ctx, model.SessionActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	all, err := repo.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testConcurrentUpdates(t *testing.T, repo ports.Repository) {
	defer repo.Close()
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, newSession("s1", t0)))
	f := newFrame("s1", 1, model.AnalysisPending)
	require.NoError(t, repo.CreateFrame(ctx, f))

	// Exactly one terminal transition wins.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		illegal int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.UpdateFrame(ctx, f.ID, func(rec *model.FrameRecord) error {
				return rec.Fail(t0, fmt.Sprintf("worker-%d", i), 1)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrIllegalTransition):
				illegal++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, illegal)
}

func TestOpenRepository(t *testing.T) {
	tests := []struct {
		backend string
		path    func(t *testing.T) string
		wantErr string
	}{
		{backend: "memory", path: func(*testing.T) string { return "" }},
		{backend: "", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "default.sqlite") }},
		{backend: "sqlite", path: func(*testing.T) string { return "" }, wantErr: "requires a path"},
		{backend: "badger", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "b") }},
		{backend: "bolt", path: func(*testing.T) string { return "" }, wantErr: "unknown store backend: bolt"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			repo, err := OpenRepository(tt.backend, tt.path(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, repo)
				return
			}
			require.NoError(t, err)
			require.NoError(t, repo.Close())
		})
	}
}

func TestSqliteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.sqlite")
	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(context.Background(), newSession("s1", t0)))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "camera-1", got.Source)

	v, err := sqlite.UserVersion(s.DB)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, newSession("s1", t0)))

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	got.Source = "mutated"

	again, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "camera-1", again.Source)
}
