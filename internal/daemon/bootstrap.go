// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon wires the framegate runtime and owns its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ManuGH/framegate/internal/api"
	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/domain/stream/dispatch"
	streammgr "github.com/ManuGH/framegate/internal/domain/stream/manager"
	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/domain/stream/publish"
	"github.com/ManuGH/framegate/internal/domain/stream/store"
	"github.com/ManuGH/framegate/internal/infra/bus"
	"github.com/ManuGH/framegate/internal/infra/ollama"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/resilience"
	"github.com/ManuGH/framegate/internal/telemetry"
)

// Runtime is a fully wired process. Manager.Start serves it; the registered
// shutdown hooks release everything Build opened.
type Runtime struct {
	Config     config.AppConfig
	Service    *streammgr.Service
	Dispatcher *dispatch.Dispatcher
	API        *api.Server
	Bus        *bus.MemoryBus
	Breaker    *resilience.CircuitBreaker
	Manager    Manager
	Sweeper    *streammgr.Sweeper
}

type buildOptions struct {
	analyzer ports.Analyzer
	listener net.Listener
}

// BuildOption customises Build.
type BuildOption func(*buildOptions)

// WithAnalyzer replaces the Ollama backend.
func WithAnalyzer(a ports.Analyzer) BuildOption {
	return func(o *buildOptions) { o.analyzer = a }
}

// WithListener serves on ln instead of binding Server.ListenAddr.
func WithListener(ln net.Listener) BuildOption {
	return func(o *buildOptions) { o.listener = ln }
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PolicyFrom extracts the sampling policy from the stream settings.
func PolicyFrom(cfg config.AppConfig) model.Policy {
	return model.Policy{
		MotionThreshold:  cfg.Stream.MotionThreshold,
		KeyframeInterval: cfg.Stream.KeyframeInterval,
	}
}

// Build opens storage and transports, starts the dispatcher and recovers
// sessions orphaned by a previous process. On error everything opened so far
// is closed again.
func Build(ctx context.Context, cfg config.AppConfig, opts ...BuildOption) (rt *Runtime, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.WithComponent("daemon")

	var cleanup []namedHook
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i].hook(context.WithoutCancel(ctx))
		}
	}()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	cleanup = append(cleanup, namedHook{"telemetry", provider.Shutdown})

	repo, err := store.OpenRepository(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	if c, ok := repo.(io.Closer); ok {
		cleanup = append(cleanup, namedHook{"store", func(context.Context) error { return c.Close() }})
	}
	logger.Info().Str("backend", cfg.Store.Backend).Str("path", cfg.Store.Path).Msg("frame store opened")

	memBus := bus.NewMemoryBus()
	targets := bus.Fanout{memBus}
	if cfg.Redis.Enabled() {
		redisBus, derr := bus.DialRedisBus(bus.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, bus.WithChannelPrefix(cfg.Redis.ChannelPrefix))
		if derr != nil {
			return nil, fmt.Errorf("redis broadcaster: %w", derr)
		}
		cleanup = append(cleanup, namedHook{"redis", func(context.Context) error { return redisBus.Close() }})
		targets = append(targets, redisBus)
	}
	publisher := publish.NewPublisher(targets, publish.Limits{
		DescriptionChars: cfg.Publish.DescriptionChars,
		MaxTags:          cfg.Publish.MaxTags,
		MaxBytes:         cfg.Publish.MaxBytes,
	})

	analyzer := o.analyzer
	if analyzer == nil {
		analyzer = ollama.New(ollama.Config{
			BaseURL: cfg.Analysis.BaseURL,
			Model:   cfg.Analysis.Model,
			Prompt:  cfg.Analysis.Prompt,
			Timeout: cfg.Analysis.ServiceTimeout,
		})
	}

	breaker := resilience.NewCircuitBreaker("analysis", cfg.Analysis.BreakerThreshold, cfg.Analysis.BreakerReset,
		resilience.WithFailurePredicate(func(err error) bool { return !ports.IsPermanent(err) }))

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Analysis.Workers,
		QueueSize: cfg.Analysis.QueueSize,
		Attempts:  cfg.Analysis.RetryAttempts,
		Backoff:   cfg.Analysis.RetryBackoff,
		Timeout:   cfg.Analysis.Timeout,
		Prompt:    cfg.Analysis.Prompt,
	}, analyzer, repo, publisher, dispatch.WithCircuitBreaker(breaker))
	// Workers outlive the signal context; Close drains them.
	dispatcher.Start(context.WithoutCancel(ctx))
	cleanup = append(cleanup, namedHook{"dispatcher", dispatcher.Close})

	svc := streammgr.NewService(streammgr.Config{
		MaxStreams:    cfg.Stream.MaxStreams,
		DefaultFPS:    cfg.Stream.DefaultFPS,
		MaxFPS:        cfg.Stream.MaxFPS,
		Policy:        PolicyFrom(cfg),
		MaxImageBytes: cfg.Limits.MaxImageBytes(),
	}, repo, dispatcher)

	report, err := svc.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover sessions: %w", err)
	}
	if report.Sessions > 0 {
		logger.Warn().
			Int("sessions", report.Sessions).
			Int("frames", report.Frames).
			Str(log.FieldEvent, "sessions.recovered").
			Msg("completed sessions left active by a previous run")
	}

	apiOpts := []api.Option{
		api.WithBus(memBus),
		api.WithHealthCheck("analysis_breaker", func(context.Context) error {
			if st := breaker.Stats(); st.State == resilience.StateOpen {
				return fmt.Errorf("circuit open since %s after %d failures", st.OpenedAt.Format(time.RFC3339), st.Failures)
			}
			return nil
		}),
	}
	if p, ok := analyzer.(pinger); ok {
		apiOpts = append(apiOpts, api.WithHealthCheck("analyzer", p.Ping))
	}
	apiServer := api.New(api.Config{
		RateLimitPerMinute: cfg.Limits.RateLimitPerMinute,
		MaxFPS:             cfg.Stream.MaxFPS,
		IngestBurstSeconds: cfg.Limits.IngestBurstSeconds,
		MaxImageBytes:      cfg.Limits.MaxImageBytes(),
		TracingService:     cfg.Telemetry.ServiceName,
	}, svc, apiOpts...)

	mgr, err := NewManager(cfg.Server, Deps{
		Logger:     logger,
		APIHandler: apiServer.Handler(),
		Listener:   o.listener,
	})
	if err != nil {
		return nil, err
	}

	// Hooks run newest first: websockets, sessions, dispatcher drain, then
	// transports, storage and telemetry.
	for _, h := range cleanup {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	mgr.RegisterShutdownHook("sessions", svc.Shutdown)
	mgr.RegisterShutdownHook("websockets", func(context.Context) error {
		apiServer.Close()
		return nil
	})

	return &Runtime{
		Config:     cfg,
		Service:    svc,
		Dispatcher: dispatcher,
		API:        apiServer,
		Bus:        memBus,
		Breaker:    breaker,
		Manager:    mgr,
		Sweeper: &streammgr.Sweeper{
			Service: svc,
			Conf: streammgr.SweeperConfig{
				Interval:    cfg.Stream.SweepInterval,
				MaxDuration: cfg.Stream.MaxSessionDuration,
			},
		},
	}, nil
}
