// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/log"
)

// RecoveryReport counts what Recover repaired.
type RecoveryReport struct {
	Sessions int
	Frames   int
}

// Recover completes sessions left active by a previous process and fails
// their pending frames. Sampling state is never persisted, so such sessions
// cannot be resumed; clients must start a new one.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	logger := log.WithComponent("manager.recovery")
	start := time.Now()

	var report RecoveryReport
	orphans, err := s.repo.ListSessions(ctx, model.SessionActive)
	if err != nil {
		return report, err
	}

	for _, sess := range orphans {
		if _, err := s.registry.Get(sess.ID); err == nil {
			continue
		}
		if _, err := s.complete(ctx, sess.ID, model.StopReasonShutdown); err != nil {
			logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("failed to complete orphaned session")
			continue
		}
		report.Sessions++

		frames, _, err := s.repo.ListFrames(ctx, sess.ID, 0, 0)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldSessionID, sess.ID).Msg("failed to list orphaned frames")
			continue
		}
		for _, f := range frames {
			if f.Status != model.AnalysisPending {
				continue
			}
			_, err := s.repo.UpdateFrame(ctx, f.ID, func(rec *model.FrameRecord) error {
				return rec.Fail(s.now().UTC(), model.FailureShutdown, rec.Attempts)
			})
			if err != nil {
				logger.Warn().Err(err).Str(log.FieldFrameID, f.ID).Msg("failed to fail orphaned frame")
				continue
			}
			report.Frames++
		}
	}

	if report.Sessions > 0 {
		logger.Info().
			Int("sessions", report.Sessions).
			Int("frames", report.Frames).
			Dur(log.FieldDuration, time.Since(start)).
			Msg("recovered orphaned sessions")
	}
	return report, nil
}
