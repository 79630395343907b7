// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, WithHTTPClient(srv.Client()))
}

func TestAnalyze_StructuredResponse(t *testing.T) {
	var got generateRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    "llava:7b",
			Response: `{"description":"a delivery van in the driveway","confidence":0.83,"tags":["van","driveway"]}`,
			Done:     true,
		})
	})

	res, err := c.Analyze(context.Background(), ports.AnalysisRequest{Image: []byte("jpeg-bytes"), Prompt: "what is here?"})
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "what is here?", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Images, 1)
	decoded, err := base64.StdEncoding.DecodeString(got.Images[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), decoded)

	assert.Equal(t, "a delivery van in the driveway", res.Description)
	assert.InDelta(t, 0.83, res.Confidence, 1e-9)
	assert.Equal(t, []string{"van", "driveway"}, res.Tags)
	assert.Equal(t, "llava:7b", res.Model)
	assert.JSONEq(t, `{"description":"a delivery van in the driveway","confidence":0.83,"tags":["van","driveway"]}`, string(res.Raw))
}

func TestAnalyze_DefaultPromptAndObjectsFallback(t *testing.T) {
	var prompt string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Prompt
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `{"description":"two people","confidence":7,"objects_detected":["person","person"]}`,
		})
	})
	res, err := c.Analyze(context.Background(), ports.AnalysisRequest{Image: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, prompt)
	assert.Equal(t, []string{"person", "person"}, res.Tags)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, DefaultModel, res.Model)
}

func TestAnalyze_PlainTextFallback(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Model: "llava", Response: "  A cat sleeps on a chair.  "})
	})
	res, err := c.Analyze(context.Background(), ports.AnalysisRequest{Image: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "A cat sleeps on a chair.", res.Description)
	assert.Zero(t, res.Confidence)
	assert.JSONEq(t, `"A cat sleeps on a chair."`, string(res.Raw))
}

func TestAnalyze_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, false},
		{"unavailable", http.StatusServiceUnavailable, ``, false},
		{"rate limited", http.StatusTooManyRequests, ``, false},
		{"bad request", http.StatusBadRequest, `{"error":"invalid image"}`, true},
		{"model missing", http.StatusNotFound, `{"error":"model 'llava:7b' not found"}`, true},
		{"garbage body", http.StatusOK, `<html>`, true},
		{"model error", http.StatusOK, `{"error":"image too small"}`, true},
		{"empty response", http.StatusOK, `{"response":"   "}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Analyze(context.Background(), ports.AnalysisRequest{Image: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, ports.IsPermanent(err), "err: %v", err)
			if !tt.permanent {
				var te *ports.TransientError
				assert.ErrorAs(t, err, &te)
			}
		})
	}
}

func TestAnalyze_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Analyze(context.Background(), ports.AnalysisRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.False(t, ports.IsPermanent(err))
}

func TestAnalyze_DeadlineIsTransientCancelIsNot(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Analyze(ctx, ports.AnalysisRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.False(t, ports.IsPermanent(err))

	ctx, cancel2 := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel2()
	}()
	_, err = c.Analyze(ctx, ports.AnalysisRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.True(t, ports.IsPermanent(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPing(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	assert.NoError(t, c.Ping(context.Background()))

	bad := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Error(t, bad.Ping(context.Background()))
}
