// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// DefaultRetryBackoff is the delay schedule between analysis attempts.
var DefaultRetryBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Stream: StreamConfig{
			MaxStreams:         5,
			MaxSessionDuration: time.Hour,
			SweepInterval:      30 * time.Second,
			DefaultFPS:         1,
			MaxFPS:             10,
			MotionThreshold:    0.15,
			KeyframeInterval:   5,
		},
		Limits: LimitsConfig{
			RateLimitPerMinute: 60,
			MaxImageSizeMB:     20,
			IngestBurstSeconds: 2,
		},
		Analysis: AnalysisConfig{
			BaseURL:          "http://localhost:11434",
			Model:            "llava:7b",
			Timeout:          5 * time.Second,
			ServiceTimeout:   120 * time.Second,
			RetryAttempts:    3,
			RetryBackoff:     append([]time.Duration(nil), DefaultRetryBackoff...),
			Workers:          4,
			QueueSize:        64,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Publish: PublishConfig{
			DescriptionChars: 400,
			MaxTags:          8,
			MaxBytes:         10240,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "data/framegate.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			Endpoint:    "localhost:4317",
			ServiceName: "framegate",
			SampleRate:  1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}
