// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/dispatch"
	"github.com/ManuGH/framegate/internal/domain/stream/ingest"
	"github.com/ManuGH/framegate/internal/domain/stream/manager"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/domain/stream/publish"
	"github.com/ManuGH/framegate/internal/domain/stream/store"
	"github.com/ManuGH/framegate/internal/infra/bus"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analyzerFunc func(ctx context.Context, req ports.AnalysisRequest) (*model.AnalysisResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, req ports.AnalysisRequest) (*model.AnalysisResult, error) {
	return f(ctx, req)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWebsocket_ReceivesPublishedFrames(t *testing.T) {
	repo := store.NewMemoryStore()
	memBus := bus.NewMemoryBus()
	pub := publish.NewPublisher(memBus, publish.Limits{DescriptionChars: 20})
	disp := dispatch.New(dispatch.Config{Workers: 1, QueueSize: 8, Attempts: 1, Timeout: time.Second},
		analyzerFunc(func(context.Context, ports.AnalysisRequest) (*model.AnalysisResult, error) {
			return &model.AnalysisResult{
				Description: "a person walks across the driveway towards the door",
				Confidence:  0.9,
				Tags:        []string{"person"},
				Model:       "llava:7b",
			}, nil
		}), repo, pub)
	disp.Start(context.Background())
	t.Cleanup(func() { _ = disp.Close(context.Background()) })

	svc := manager.NewService(manager.Config{
		MaxStreams: 2,
		Policy:     model.Policy{MotionThreshold: 0.15, KeyframeInterval: 5},
	}, repo, disp)

	s := New(Config{}, svc, WithBus(memBus))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})

	started, err := svc.StartSession(context.Background(), manager.StartRequest{Source: "cam"})
	require.NoError(t, err)
	channel := publish.Channel(started.SessionID)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/vision/stream/"+started.SessionID+"/ws"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return memBus.Subscribers(channel) == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err := svc.IngestFrame(context.Background(), ingest.Request{
		SessionID: started.SessionID, FrameNumber: 1, ImageBase64: frameImage, MotionScore: 0.9,
	})
	require.NoError(t, err)
	require.True(t, res.Sampled)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload publish.Payload
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, publish.EventFrameAnalysed, payload.Event)
	assert.Equal(t, started.SessionID, payload.SessionID)
	assert.EqualValues(t, 1, payload.FrameNumber)
	assert.True(t, payload.Success)
	require.NotNil(t, payload.Result)
	assert.True(t, payload.Result.Truncated)
	assert.True(t, strings.HasSuffix(payload.Result.Description, publish.TruncationMarker))

	// Closing the client releases the subscription.
	_ = conn.Close()
	require.Eventually(t, func() bool { return memBus.Subscribers(channel) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocket_UnknownSessionAndDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{}, WithBus(bus.NewMemoryBus()))
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/vision/stream/nope/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	plain, svc, _ := newTestServer(t, Config{})
	started, err := svc.StartSession(context.Background(), manager.StartRequest{})
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(plain, "/api/vision/stream/"+started.SessionID+"/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebsocket_ServerCloseEndsStream(t *testing.T) {
	memBus := bus.NewMemoryBus()
	svc, _ := newTestService(t, 1)
	s := New(Config{}, svc, WithBus(memBus))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	started, err := svc.StartSession(context.Background(), manager.StartRequest{})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/vision/stream/"+started.SessionID+"/ws"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	s.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.com"})
	r := httptest.NewRequest(http.MethodGet, "http://framegate.local/ws", nil)

	assert.True(t, check(r))
	r.Header.Set("Origin", "http://framegate.local")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://ops.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}
