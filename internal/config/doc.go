// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the daemon configuration.
//
// Values are resolved with the precedence ENV > YAML file > defaults. The YAML
// file is parsed strictly: unknown keys are an error. The resolved AppConfig is
// validated once and then handed to each component at construction.
package config
