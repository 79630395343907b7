// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks a resolved configuration. All problems are reported at once.
func Validate(cfg AppConfig) error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		bad("server.listenAddr", "must not be empty")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		bad("server.shutdownTimeout", "must be positive")
	}

	st := cfg.Stream
	if st.MaxStreams < 1 {
		bad("stream.maxStreams", "must be >= 1, got %d", st.MaxStreams)
	}
	if st.MaxFPS < 1 {
		bad("stream.maxFps", "must be >= 1, got %d", st.MaxFPS)
	}
	if st.DefaultFPS < 1 || st.DefaultFPS > st.MaxFPS {
		bad("stream.defaultFps", "must be within [1, maxFps], got %d", st.DefaultFPS)
	}
	if st.MotionThreshold < 0 || st.MotionThreshold > 1 {
		bad("stream.motionThreshold", "must be within [0, 1], got %g", st.MotionThreshold)
	}
	if st.KeyframeInterval < 1 {
		bad("stream.keyframeInterval", "must be >= 1, got %d", st.KeyframeInterval)
	}
	if st.MaxSessionDuration < 0 {
		bad("stream.maxSessionDuration", "must not be negative")
	}
	if st.MaxSessionDuration > 0 && st.SweepInterval <= 0 {
		bad("stream.sweepInterval", "must be positive when maxSessionDuration is set")
	}

	if cfg.Limits.RateLimitPerMinute < 0 {
		bad("limits.rateLimitPerMinute", "must not be negative")
	}
	if cfg.Limits.MaxImageSizeMB < 1 {
		bad("limits.maxImageSizeMb", "must be >= 1, got %d", cfg.Limits.MaxImageSizeMB)
	}
	if cfg.Limits.IngestBurstSeconds < 1 {
		bad("limits.ingestBurstSeconds", "must be >= 1")
	}

	a := cfg.Analysis
	if _, err := NormalizeBaseURL(a.BaseURL); err != nil {
		bad("analysis.baseUrl", "%v", err)
	}
	if strings.TrimSpace(a.Model) == "" {
		bad("analysis.model", "must not be empty")
	}
	if a.Timeout <= 0 {
		bad("analysis.timeout", "must be positive")
	}
	if a.ServiceTimeout < a.Timeout {
		bad("analysis.serviceTimeout", "must be >= analysis.timeout")
	}
	if a.RetryAttempts < 1 {
		bad("analysis.retryAttempts", "must be >= 1, got %d", a.RetryAttempts)
	}
	for i, d := range a.RetryBackoff {
		if d < 0 {
			bad(fmt.Sprintf("analysis.retryBackoff[%d]", i), "must not be negative")
		}
	}
	if a.Workers < 1 {
		bad("analysis.workers", "must be >= 1")
	}
	if a.QueueSize < 1 {
		bad("analysis.queueSize", "must be >= 1")
	}

	p := cfg.Publish
	if p.DescriptionChars < 1 {
		bad("publish.descriptionChars", "must be >= 1")
	}
	if p.MaxTags < 0 {
		bad("publish.maxTags", "must not be negative")
	}
	if p.MaxBytes < 512 {
		bad("publish.maxBytes", "must be >= 512, got %d", p.MaxBytes)
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite", "badger":
		if cfg.Store.Path == "" {
			bad("store.path", "required for backend %q", cfg.Store.Backend)
		}
	default:
		bad("store.backend", "unknown backend %q", cfg.Store.Backend)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Protocol {
		case "grpc", "http":
		default:
			bad("telemetry.protocol", "must be grpc or http, got %q", cfg.Telemetry.Protocol)
		}
		if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
			bad("telemetry.sampleRate", "must be within [0, 1]")
		}
	}

	return errors.Join(errs...)
}
