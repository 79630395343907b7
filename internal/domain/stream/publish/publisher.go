// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package publish shapes analysis results into bounded payloads and
// broadcasts them on the session's channel. Publishing is best-effort:
// failures are logged and counted, never returned.
package publish

import (
	"context"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/metrics"
)

// Publisher implements dispatch.ResultSink on top of a Broadcaster.
type Publisher struct {
	bus    ports.Broadcaster
	limits Limits
	now    func() time.Time
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithClock overrides the payload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(bus ports.Broadcaster, limits Limits, opts ...Option) *Publisher {
	p := &Publisher{bus: bus, limits: limits.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limits returns the effective limits.
func (p *Publisher) Limits() Limits { return p.limits }

// Publish shapes and broadcasts one result.
func (p *Publisher) Publish(ctx context.Context, sessionID string, frame *model.FrameRecord, res *model.AnalysisResult) {
	logger := log.WithComponent("publish").With().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldFrameID, frame.ID).
		Int64(log.FieldFrameNumber, frame.FrameNumber).
		Logger()

	payload := Shape(frame, res, p.now(), p.limits)
	buf, err := Encode(payload, p.limits)
	if err != nil {
		metrics.RecordPublish("too_large")
		logger.Warn().Err(err).Msg("result not published")
		return
	}
	metrics.ObservePayloadBytes(len(buf))

	channel := Channel(sessionID)
	if err := p.bus.Publish(ctx, channel, buf); err != nil {
		metrics.RecordPublish("error")
		logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("broadcast failed")
		return
	}
	metrics.RecordPublish("ok")
	logger.Debug().Str(log.FieldChannel, channel).Int("bytes", len(buf)).Msg("result published")
}
