// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ManuGH/framegate/internal/config"
	"github.com/ManuGH/framegate/internal/version"
)

func runConfigCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stdout)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  framegate config validate --file|-f config.yaml")
	_, _ = fmt.Fprintln(w, "  framegate config dump [--file|-f config.yaml] [--out path]")
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("framegate config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	loader := config.NewLoader(configPath, version.Version)
	if _, err := loader.Load(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s is valid\n", configPath)
	return 0
}

// runConfigDump prints the effective configuration (defaults + file + env).
// With --out the YAML is written atomically instead.
func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("framegate config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file, out string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&out, "out", "", "write the effective config to this path instead of stdout")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	loader := config.NewLoader(strings.TrimSpace(file), version.Version)
	cfg, err := loader.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	if out = strings.TrimSpace(out); out != "" {
		if err := config.WriteFile(out, cfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to write %s: %v\n", out, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "wrote %s\n", out)
		return 0
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(data)
	return 0
}
