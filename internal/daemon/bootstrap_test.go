// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/domain/stream/store"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAnalyzer struct {
	calls atomic.Int32
}

func (a *countingAnalyzer) Analyze(_ context.Context, _ ports.AnalysisRequest) (*model.AnalysisResult, error) {
	a.calls.Add(1)
	return &model.AnalysisResult{Description: "a parked car", Confidence: 0.8, Tags: []string{"car"}, Model: "test"}, nil
}

func testAppConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = store.BackendMemory
	cfg.Store.Path = ""
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Analysis.RetryBackoff = []time.Duration{time.Millisecond}
	return cfg
}

func postJSON(t *testing.T, url string, body any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Less(t, resp.StatusCode, 300, "POST %s", url)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func runApp(t *testing.T, rt *Runtime) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewApp(log.WithComponent("test"), rt, nil).Run(ctx) }()
	waitForAddr(t, rt.Manager)
	return cancel, done
}

func TestBuild_EndToEndAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	analyzer := &countingAnalyzer{}
	rt, err := Build(context.Background(), testAppConfig(t), WithAnalyzer(analyzer), WithListener(ln))
	require.NoError(t, err)

	cancel, done := runApp(t, rt)
	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	started := postJSON(t, base+"/api/vision/stream/start", map[string]any{"source": "cam-1"})
	id, _ := started["stream_id"].(string)
	require.NotEmpty(t, id)

	ingested := postJSON(t, base+"/api/vision/stream/ingest", map[string]any{
		"stream_id":    id,
		"frame_number": 1,
		"image_data":   base64.StdEncoding.EncodeToString([]byte("jpeg")),
		"motion_score": 0.9,
	})
	assert.Equal(t, true, ingested["sampled"])
	require.Eventually(t, func() bool { return analyzer.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	status, err := rt.Service.GetStreamStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, status.Session.Status)
	assert.Equal(t, model.StopReasonShutdown, status.Session.StopReason)
	assert.Equal(t, 1, status.Counts.Completed)
	assert.Equal(t, 0, rt.Service.ActiveSessions())
}

func TestBuild_RecoversOrphanedSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "framegate.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	seed, err := store.NewSqliteStore(path)
	require.NoError(t, err)
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, seed.CreateSession(ctx, &model.Session{ID: "old", Source: "cam", TargetFPS: 1, Status: model.SessionActive, CreatedAt: t0}))
	require.NoError(t, seed.CreateFrame(ctx, &model.FrameRecord{ID: "f1", SessionID: "old", FrameNumber: 1, Sampled: true, Status: model.AnalysisPending, CapturedAt: t0}))
	require.NoError(t, seed.Close())

	cfg := testAppConfig(t)
	cfg.Store.Backend = store.BackendSQLite
	cfg.Store.Path = path

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rt, err := Build(ctx, cfg, WithAnalyzer(&countingAnalyzer{}), WithListener(ln))
	require.NoError(t, err)

	status, err := rt.Service.GetStreamStatus(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, status.Session.Status)
	assert.Equal(t, model.StopReasonShutdown, status.Session.StopReason)
	assert.Equal(t, 1, status.Counts.Failed)

	cancel, done := runApp(t, rt)
	cancel()
	require.NoError(t, <-done)
}

func TestBuild_InvalidStoreFails(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Store.Backend = "etcd"
	_, err := Build(context.Background(), cfg, WithAnalyzer(&countingAnalyzer{}))
	require.Error(t, err)
}

func TestApp_ReloadUpdatesPolicyForNewSessions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  motionThreshold: 0.2\nstore:\n  backend: memory\n"), 0o600))

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewHolder(cfg, loader)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rt, err := Build(context.Background(), cfg, WithAnalyzer(&countingAnalyzer{}), WithListener(ln))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, rt.Service.Policy().MotionThreshold, 1e-9)

	app := NewApp(log.WithComponent("test"), rt, holder)
	app.reloadSignal = nil
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	waitForAddr(t, rt.Manager)

	require.NoError(t, os.WriteFile(path, []byte("stream:\n  motionThreshold: 0.6\nstore:\n  backend: memory\n"), 0o600))
	require.NoError(t, holder.Reload())
	assert.InDelta(t, 0.6, rt.Service.Policy().MotionThreshold, 1e-9)

	cancel()
	require.NoError(t, <-done)
}
