// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Limits    LimitsConfig    `yaml:"limits"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Publish   PublishConfig   `yaml:"publish"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StreamConfig holds session admission and sampling settings.
type StreamConfig struct {
	MaxStreams         int           `yaml:"maxStreams"`
	MaxSessionDuration time.Duration `yaml:"maxSessionDuration"`
	SweepInterval      time.Duration `yaml:"sweepInterval"`
	DefaultFPS         int           `yaml:"defaultFps"`
	MaxFPS             int           `yaml:"maxFps"`
	MotionThreshold    float64       `yaml:"motionThreshold"`
	KeyframeInterval   int64         `yaml:"keyframeInterval"`
}

// LimitsConfig bounds what clients may send.
type LimitsConfig struct {
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
	MaxImageSizeMB     int `yaml:"maxImageSizeMb"`
	// IngestBurstSeconds sizes the per-session ingest bucket in seconds of MaxFPS.
	IngestBurstSeconds int `yaml:"ingestBurstSeconds"`
}

// MaxImageBytes returns the decoded image ceiling in bytes.
func (l LimitsConfig) MaxImageBytes() int {
	return l.MaxImageSizeMB << 20
}

// AnalysisConfig configures the vision backend and the dispatcher.
type AnalysisConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`

	// Timeout bounds a single analysis call; ServiceTimeout bounds the HTTP client.
	Timeout        time.Duration   `yaml:"timeout"`
	ServiceTimeout time.Duration   `yaml:"serviceTimeout"`
	RetryAttempts  int             `yaml:"retryAttempts"`
	RetryBackoff   []time.Duration `yaml:"retryBackoff"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`

	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// PublishConfig bounds published payloads.
type PublishConfig struct {
	DescriptionChars int `yaml:"descriptionChars"`
	MaxTags          int `yaml:"maxTags"`
	MaxBytes         int `yaml:"maxBytes"`
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RedisConfig enables the Redis broadcaster when Addr is set.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channelPrefix"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Protocol    string  `yaml:"protocol"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}
