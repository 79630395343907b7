// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ollama implements the vision Analyzer on Ollama's /api/generate.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llava:7b"
	DefaultTimeout = 120 * time.Second
	DefaultPrompt  = "You are watching a security camera feed. Describe what is happening in this frame. " +
		`Respond with JSON only: {"description": string, "confidence": number between 0 and 1, "tags": [string]}.`

	generatePath = "/api/generate"
	tagsPath     = "/api/tags"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// Config configures the client.
type Config struct {
	BaseURL   string
	Model     string
	Prompt    string
	Timeout   time.Duration
	KeepAlive string
}

// Client calls a single Ollama endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client. The default transport is instrumented with otelhttp.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type generateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Images    []string `json:"images"`
	Stream    bool     `json:"stream"`
	Format    string   `json:"format,omitempty"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// structured is what the prompt asks the model to return.
type structured struct {
	Description     string   `json:"description"`
	Confidence      *float64 `json:"confidence"`
	Tags            []string `json:"tags"`
	ObjectsDetected []string `json:"objects_detected"`
}

// Analyze sends one image. Network failures, timeouts, 429 and 5xx are
// transient; other statuses, undecodable bodies and model errors are permanent.
func (c *Client) Analyze(ctx context.Context, req ports.AnalysisRequest) (*model.AnalysisResult, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = c.cfg.Prompt
	}
	body, err := json.Marshal(generateRequest{
		Model:     c.cfg.Model,
		Prompt:    prompt,
		Images:    []string{base64.StdEncoding.EncodeToString(req.Image)},
		Stream:    false,
		Format:    "json",
		KeepAlive: c.cfg.KeepAlive,
	})
	if err != nil {
		return nil, ports.Permanent(fmt.Errorf("ollama: encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, ports.Permanent(fmt.Errorf("ollama: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, ports.Transient(fmt.Errorf("ollama: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ports.Transient(fmt.Errorf("ollama: read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("ollama: status %d: %s", resp.StatusCode, snippet(raw))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, ports.Transient(statusErr)
		}
		return nil, ports.Permanent(statusErr)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, ports.Permanent(fmt.Errorf("ollama: decode response: %w", err))
	}
	if gen.Error != "" {
		return nil, ports.Permanent(fmt.Errorf("ollama: model error: %s", gen.Error))
	}
	if strings.TrimSpace(gen.Response) == "" {
		return nil, ports.Permanent(errors.New("ollama: empty response"))
	}

	res := parseResult(gen.Response)
	res.Model = gen.Model
	if res.Model == "" {
		res.Model = c.cfg.Model
	}
	return res, nil
}

// parseResult reads the structured answer, falling back to the raw text as
// the description when the model ignored the requested format.
func parseResult(text string) *model.AnalysisResult {
	text = strings.TrimSpace(text)
	var s structured
	if err := json.Unmarshal([]byte(text), &s); err == nil && (s.Description != "" || len(s.Tags) > 0 || len(s.ObjectsDetected) > 0) {
		tags := s.Tags
		if len(tags) == 0 {
			tags = s.ObjectsDetected
		}
		res := &model.AnalysisResult{
			Description: s.Description,
			Tags:        tags,
			Raw:         json.RawMessage(text),
		}
		if s.Confidence != nil {
			res.Confidence = clamp01(*s.Confidence)
		}
		return res
	}

	raw, _ := json.Marshal(text)
	return &model.AnalysisResult{Description: text, Raw: raw}
}

// Ping checks that the server answers its model listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tagsPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: ping: status %d", resp.StatusCode)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

var _ ports.Analyzer = (*Client)(nil)
