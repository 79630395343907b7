// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/daemon"
	fglog "github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "storage":
			os.Exit(runStorageCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:], os.Stdout, os.Stderr))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	fglog.Configure(fglog.Config{
		Level:   "info",
		Service: "framegate",
		Version: version.Version,
	})
	logger := fglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString("FRAMEGATE_CONFIG", ""))
	}

	// ENV > File > Defaults
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	fglog.Configure(fglog.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Telemetry.ServiceName,
		Version: cfg.Version,
	})
	logger = fglog.WithComponent("daemon")

	if path != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", path).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.failed").
			Msg("failed to initialise runtime")
	}

	logger.Info().
		Str("listen", cfg.Server.ListenAddr).
		Int("max_streams", cfg.Stream.MaxStreams).
		Str("store", cfg.Store.Backend).
		Str("model", cfg.Analysis.Model).
		Bool("redis", cfg.Redis.Enabled()).
		Msg("framegate starting")

	app := daemon.NewApp(logger, rt, config.NewHolder(cfg, loader))
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Msg("server exiting")
}
