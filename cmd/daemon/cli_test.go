// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"valid", "stream:\n  maxStreams: 3\n", 0, ""},
		{"unknown key", "stream:\n  maxStreamz: 3\n", 1, "maxStreamz"},
		{"inconsistent fps", "stream:\n  defaultFps: 20\n  maxFps: 10\n", 1, "defaultFps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runConfigCLI([]string{"validate", "-f", writeConfig(t, tt.body)}, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code, stderr.String())
			if tt.wantErr != "" {
				assert.Contains(t, stderr.String(), tt.wantErr)
			} else {
				assert.Contains(t, stdout.String(), "is valid")
			}
		})
	}
}

func TestConfigValidate_RequiresFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runConfigCLI([]string{"validate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--file is required")
}

func TestConfigDump_StdoutAndFile(t *testing.T) {
	t.Setenv("FRAMEGATE_REDIS_PASSWORD", "s3cret")
	path := writeConfig(t, "stream:\n  maxStreams: 7\nredis:\n  addr: localhost:6379\n")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, runConfigCLI([]string{"dump", "-f", path}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "maxStreams: 7")
	assert.NotContains(t, stdout.String(), "s3cret")

	out := filepath.Join(t.TempDir(), "effective.yaml")
	stdout.Reset()
	require.Equal(t, 0, runConfigCLI([]string{"dump", "-f", path, "--out", out}, &stdout, &stderr), stderr.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	cfg, err := config.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Stream.MaxStreams)
}

func TestConfigCLI_UnknownSubcommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runConfigCLI([]string{"frobnicate"}, &stdout, &stderr))
	assert.Equal(t, 0, runConfigCLI(nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "config validate")
}

func TestStorageVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framegate.db")
	s, err := store.NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{ID: "a", Status: model.SessionActive}))
	require.NoError(t, s.Close())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runStorageCLI([]string{"verify", "--path", path, "--mode", "full"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "ok")

	assert.Equal(t, 2, runStorageCLI([]string{"verify"}, &stdout, &stderr))
	assert.Equal(t, 2, runStorageCLI([]string{"verify", "--path", path, "--mode", "deep"}, &stdout, &stderr))
}

func TestStorageVerify_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 4096), 0o600))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, runStorageCLI([]string{"verify", "--path", path}, &stdout, &stderr))
}

func TestHealthcheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runHealthcheckCLI([]string{"--addr", srv.URL}, &stdout, &stderr))

	healthy.Store(false)
	assert.Equal(t, 1, runHealthcheckCLI([]string{"--addr", srv.URL + "/"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "503")
}
