// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/log"
)

// SweeperConfig defines the session duration ceiling.
type SweeperConfig struct {
	Interval    time.Duration
	MaxDuration time.Duration // 0 disables force-stopping
}

// Sweeper force-stops sessions that outlive MaxDuration.
type Sweeper struct {
	Service *Service
	Conf    SweeperConfig
}

// Run starts the sweeper loop. It periodically calls SweepOnce on a ticker.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Conf.Interval <= 0 || s.Conf.MaxDuration <= 0 {
		return
	}

	ticker := time.NewTicker(s.Conf.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("sweeper")
	logger.Info().
		Dur("interval", s.Conf.Interval).
		Dur("max_duration", s.Conf.MaxDuration).
		Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce stops every session older than MaxDuration and returns how many it stopped.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	if s.Conf.MaxDuration <= 0 {
		return 0
	}
	logger := log.WithComponent("sweeper")
	now := s.Service.now()

	stopped := 0
	for _, a := range s.Service.registry.Snapshot() {
		if now.Sub(a.StartedAt) < s.Conf.MaxDuration {
			// Snapshot is ordered by start time.
			break
		}
		_, err := s.Service.stop(ctx, a.ID, model.StopReasonMaxDuration)
		switch {
		case err == nil:
			stopped++
		case errors.Is(err, ports.ErrAlreadyCompleted):
			// Stopped concurrently by the client.
		default:
			logger.Warn().Err(err).Str(log.FieldSessionID, a.ID).Msg("failed to stop expired session")
		}
	}
	if stopped > 0 {
		logger.Info().Int("stopped", stopped).Msg("expired sessions stopped")
	}
	return stopped
}
