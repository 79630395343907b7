// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store provides the Repository backends for sessions and frame records.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/framegate/internal/domain/stream/ports"
)

// Backend names accepted by OpenRepository.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// OpenRepository creates a Repository based on the backend configuration.
func OpenRepository(backend, path string) (ports.Repository, error) {
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return NewSqliteStore(path)
	case BackendBadger:
		return OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
