// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves an AppConfig from defaults, an optional YAML file and the
// environment.
type Loader struct {
	configPath string
	version    string

	// ConsumedEnvKeys records every environment key the loader consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath means ENV-only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the YAML file path, if any.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, def)
}

func (l *Loader) envDurationList(key string, def []time.Duration) []time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDurationList(key, def)
}

// Load applies defaults, then the file, then the environment, and validates
// the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	// Validate has already rejected anything NormalizeBaseURL cannot handle.
	cfg.Analysis.BaseURL, _ = NormalizeBaseURL(cfg.Analysis.BaseURL)
	return cfg, nil
}

// loadFile decodes the YAML file over cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the operator chooses the config path
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	s := &cfg.Server
	s.ListenAddr = l.envString("FRAMEGATE_LISTEN", s.ListenAddr)
	s.ShutdownTimeout = l.envDuration("FRAMEGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	st := &cfg.Stream
	st.MaxStreams = l.envInt("VISION_MAX_STREAMS", st.MaxStreams)
	st.MaxSessionDuration = l.envDuration("VISION_MAX_SESSION_DURATION", st.MaxSessionDuration)
	st.DefaultFPS = l.envInt("VISION_DEFAULT_FPS", st.DefaultFPS)
	st.MaxFPS = l.envInt("VISION_MAX_FPS", st.MaxFPS)
	st.MotionThreshold = l.envFloat("VISION_MOTION_THRESHOLD", st.MotionThreshold)
	st.KeyframeInterval = int64(l.envInt("VISION_KEYFRAME_INTERVAL", int(st.KeyframeInterval)))

	lim := &cfg.Limits
	lim.RateLimitPerMinute = l.envInt("VISION_RATE_LIMIT_PER_MINUTE", lim.RateLimitPerMinute)
	lim.MaxImageSizeMB = l.envInt("VISION_MAX_IMAGE_SIZE_MB", lim.MaxImageSizeMB)

	a := &cfg.Analysis
	a.BaseURL = l.envString("OLLAMA_HOST", a.BaseURL)
	a.Model = l.envString("VISION_MODEL", a.Model)
	a.Prompt = l.envString("VISION_PROMPT", a.Prompt)
	a.Timeout = l.envDuration("VISION_ANALYSIS_TIMEOUT", a.Timeout)
	a.ServiceTimeout = l.envDuration("VISION_TIMEOUT", a.ServiceTimeout)
	a.RetryAttempts = l.envInt("VISION_RETRY_ATTEMPTS", a.RetryAttempts)
	a.RetryBackoff = l.envDurationList("VISION_RETRY_BACKOFF", a.RetryBackoff)
	a.Workers = l.envInt("VISION_DISPATCH_WORKERS", a.Workers)
	a.QueueSize = l.envInt("VISION_DISPATCH_QUEUE", a.QueueSize)

	p := &cfg.Publish
	p.DescriptionChars = l.envInt("VISION_PUBLISH_DESCRIPTION_CHARS", p.DescriptionChars)
	p.MaxTags = l.envInt("VISION_PUBLISH_MAX_TAGS", p.MaxTags)
	p.MaxBytes = l.envInt("VISION_PUBLISH_MAX_BYTES", p.MaxBytes)

	cfg.Store.Backend = l.envString("FRAMEGATE_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = l.envString("FRAMEGATE_STORE_PATH", cfg.Store.Path)

	r := &cfg.Redis
	r.Addr = l.envString("FRAMEGATE_REDIS_ADDR", r.Addr)
	r.Password = l.envString("FRAMEGATE_REDIS_PASSWORD", r.Password)
	r.DB = l.envInt("FRAMEGATE_REDIS_DB", r.DB)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("FRAMEGATE_TRACING_ENABLED", t.Enabled)
	t.Protocol = l.envString("FRAMEGATE_TRACING_PROTOCOL", t.Protocol)
	t.Endpoint = l.envString("OTEL_EXPORTER_OTLP_ENDPOINT", t.Endpoint)
	t.SampleRate = l.envFloat("FRAMEGATE_TRACING_SAMPLE_RATE", t.SampleRate)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
}

// EnvKeys returns the consumed keys in sorted order.
func (l *Loader) EnvKeys() []string {
	keys := make([]string, 0, len(l.ConsumedEnvKeys))
	for k := range l.ConsumedEnvKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
