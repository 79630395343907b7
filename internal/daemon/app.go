// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/rs/zerolog"
)

// App owns the long-lived runtime lifecycle (config watcher, reload wiring,
// session sweeper) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	runtime      *Runtime
	cfgHolder    *config.Holder
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, rt *Runtime, cfgHolder *config.Holder) *App {
	return &App{
		logger:       logger,
		runtime:      rt,
		cfgHolder:    cfgHolder,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.runtime == nil || a.runtime.Manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// Only new sessions pick up a changed policy.
		a.cfgHolder.OnReload(func(next config.AppConfig) {
			policy := PolicyFrom(next)
			a.runtime.Service.SetPolicy(policy)
			a.logger.Info().
				Str(log.FieldEvent, "policy.updated").
				Float64("motion_threshold", policy.MotionThreshold).
				Int64("keyframe_interval", policy.KeyframeInterval).
				Msg("sampling policy updated")
		})

		// Watcher is best-effort: a failure to start it must not stop the daemon.
		g.Go(func() error {
			if err := a.cfgHolder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str(log.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						_ = a.cfgHolder.Reload()
					}
				}
			})
		}
	}

	if a.runtime.Sweeper != nil {
		g.Go(func() error {
			a.runtime.Sweeper.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return a.runtime.Manager.Start(ctx)
	})

	return g.Wait()
}
