// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the stream session manager over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/api/middleware"
	"github.com/ManuGH/framegate/internal/domain/stream/ingest"
	"github.com/ManuGH/framegate/internal/domain/stream/manager"
	"github.com/ManuGH/framegate/internal/infra/bus"
	"github.com/ManuGH/framegate/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Service is the session manager as seen by the HTTP layer.
type Service interface {
	StartSession(ctx context.Context, req manager.StartRequest) (*manager.StartResult, error)
	StopSession(ctx context.Context, id string) (*manager.StopResult, error)
	IngestFrame(ctx context.Context, req ingest.Request) (ingest.Result, error)
	GetStreamStatus(ctx context.Context, id string) (*manager.StreamStatus, error)
	GetSessionFrames(ctx context.Context, id string, limit, offset int) (*manager.FramesPage, error)
	ActiveSessions() int
	Capacity() int
}

// Config configures the HTTP surface.
type Config struct {
	// RateLimitPerMinute applies per client IP to start and stop.
	RateLimitPerMinute int
	// MaxFPS and IngestBurstSeconds size the per-session ingest bucket.
	MaxFPS             int
	IngestBurstSeconds int
	// MaxImageBytes bounds the decoded image; the body limit is derived from it.
	MaxImageBytes  int
	TracingService string
	TrustProxy     bool
	AllowedOrigins []string
}

// HealthCheck reports a dependency problem by returning an error.
type HealthCheck func(ctx context.Context) error

// Server holds the handlers and their dependencies.
type Server struct {
	cfg    Config
	svc    Service
	bus    bus.Bus
	ingest *ratelimit.Keyed
	checks map[string]HealthCheck
	now    func() time.Time

	upgrader websocket.Upgrader

	closeOnce sync.Once
	closing   chan struct{}
	conns     connTracker
}

// connTracker counts live websocket handlers. No new ones start after close.
type connTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *connTracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *connTracker) done() { t.wg.Done() }

func (t *connTracker) closeAndWait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// Option customises a Server.
type Option func(*Server)

// WithBus enables the websocket endpoint on b.
func WithBus(b bus.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, fn HealthCheck) Option {
	return func(s *Server) { s.checks[name] = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates the server.
func New(cfg Config, svc Service, opts ...Option) *Server {
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = 10
	}
	if cfg.IngestBurstSeconds <= 0 {
		cfg.IngestBurstSeconds = 2
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = ingest.DefaultMaxImageBytes
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		checks: make(map[string]HealthCheck),
		now:    time.Now,
		ingest: ratelimit.NewKeyed(ratelimit.Config{
			Name:    "session_ingest",
			Rate:    rate.Limit(cfg.MaxFPS),
			Burst:   cfg.MaxFPS * cfg.IngestBurstSeconds,
			IdleTTL: 10 * time.Minute,
		}),
		closing: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/vision", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestLimit: s.cfg.RateLimitPerMinute,
				WindowSize:   time.Minute,
				KeyFunc: func(r *http.Request) (string, error) {
					return ratelimit.ClientIP(r, s.cfg.TrustProxy), nil
				},
			}))
			r.Post("/stream/start", s.handleStart)
			r.Post("/stream/stop", s.handleStop)
		})
		r.Post("/stream/ingest", s.handleIngest)
		r.Get("/stream/{id}", s.handleStatus)
		r.Get("/stream/{id}/ws", s.handleWebsocket)
		r.Get("/session/{id}/frames", s.handleFrames)
	})
	return r
}

// Close ends websocket subscriptions and waits for them.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.conns.closeAndWait()
}

// maxBodyBytes allows for base64 expansion plus JSON framing.
func (s *Server) maxBodyBytes() int64 {
	return int64(s.cfg.MaxImageBytes)*4/3 + 64<<10
}
